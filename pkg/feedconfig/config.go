// Package feedconfig loads the listener configuration: a YAML file with
// defaults and environment overrides, plus the broker credentials file.
package feedconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/bqstore"
	"github.com/illmade-knight/go-railfeed/pkg/cache"
	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/illmade-knight/go-railfeed/pkg/microservice"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/illmade-knight/go-railfeed/pkg/sink"
	"github.com/illmade-knight/go-railfeed/pkg/sqlstore"
	"github.com/illmade-knight/go-railfeed/pkg/stompconsumer"
	"gopkg.in/yaml.v3"
)

// Feed names accepted by Config.Feed.
const (
	FeedTD    = "td"
	FeedTrust = "trust"
)

// Environment overrides.
const (
	EnvSecretsFile   = "FEED_SECRETS_FILE"
	EnvProjectID     = "GCP_PROJECT_ID"
	EnvFailurePolicy = "FEED_FAILURE_POLICY"
	EnvArea          = "FEED_AREA"
)

// DefaultSecretsFile is read from the working directory.
const DefaultSecretsFile = "secrets.json"

// ErrNoCredentials is returned when the secrets file is missing or unusable.
var ErrNoCredentials = errors.New("broker credentials unavailable")

// Berth map backends.
const (
	BerthMapMemory    = "memory"
	BerthMapRedis     = "redis"
	BerthMapFirestore = "firestore"
)

// Config is the full listener configuration.
type Config struct {
	microservice.BaseConfig `yaml:",inline"`

	ProjectID     string `yaml:"project_id"`
	SecretsFile   string `yaml:"secrets_file"`
	Feed          string `yaml:"feed"`
	Area          string `yaml:"area"`
	FailurePolicy string `yaml:"failure_policy"`
	// DuplicateWindow is how many recent message ids are remembered; 0 disables
	// the duplicate guard.
	DuplicateWindow int `yaml:"duplicate_window"`

	Stomp stompconsumer.StompClientConfig `yaml:"stomp"`
	// Areas adds or overrides named areas, e.g. {"kent": ["EK", "AD"]}.
	Areas   map[string][]string `yaml:"areas"`
	Sinks   SinksConfig         `yaml:"sinks"`
	Archive *ArchiveConfig      `yaml:"archive"`
}

// SinksConfig enables persistent sinks; a nil entry is disabled.
type SinksConfig struct {
	SQL      *sqlstore.Config               `yaml:"sql"`
	BigQuery *bqstore.BigQueryDatasetConfig `yaml:"bigquery"`
	PubSub   *PubSubConfig                  `yaml:"pubsub"`
	AMQP     *sink.AMQPConfig               `yaml:"amqp"`
	BerthMap *BerthMapConfig                `yaml:"berth_map"`
}

// PubSubConfig republishes records to a topic.
type PubSubConfig struct {
	TopicID        string        `yaml:"topic_id"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// BerthMapConfig selects where the live berth map is kept.
type BerthMapConfig struct {
	Backend    string             `yaml:"backend"`
	Redis      *cache.RedisConfig `yaml:"redis"`
	Collection string             `yaml:"collection"`
}

// ArchiveConfig enables the raw-frame archive. Frames go to Cloud Storage when
// Upload names a bucket and to a relational table when SQL is set.
type ArchiveConfig struct {
	Upload  icestore.GCSBatchUploaderConfig `yaml:"upload"`
	SQL     *sqlstore.Config                `yaml:"sql"`
	Batcher icestore.BatcherConfig          `yaml:"batcher"`
}

// ToGCS reports whether frames are uploaded to a bucket.
func (a *ArchiveConfig) ToGCS() bool {
	return a != nil && a.Upload.BucketName != ""
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		BaseConfig: microservice.BaseConfig{
			LogLevel: "info",
			HTTPPort: ":8080",
		},
		SecretsFile:     DefaultSecretsFile,
		Feed:            FeedTD,
		Area:            railfeed.AllAreas,
		FailurePolicy:   string(stompconsumer.FailurePolicyAck),
		DuplicateWindow: 10000,
		Stomp:           *stompconsumer.NewStompClientConfigDefaults(),
	}
}

// Load reads path over the defaults (path may be empty), applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	c.Stomp.ApplyEnv()
	if v := os.Getenv(EnvSecretsFile); v != "" {
		c.SecretsFile = v
	}
	if v := os.Getenv(EnvProjectID); v != "" {
		c.ProjectID = v
	}
	if v := os.Getenv(EnvFailurePolicy); v != "" {
		c.FailurePolicy = v
	}
	if v := os.Getenv(EnvArea); v != "" {
		c.Area = v
	}
	if c.Archive != nil {
		c.Archive.Batcher.ApplyEnv()
	}
}

// Validate normalises the feed name and checks cross-field rules. It also
// fills the BigQuery project from ProjectID when unset.
func (c *Config) Validate() error {
	c.Feed = strings.ToLower(strings.TrimSpace(c.Feed))
	if c.Feed != FeedTD && c.Feed != FeedTrust {
		return fmt.Errorf("unknown feed %q (want %q or %q)", c.Feed, FeedTD, FeedTrust)
	}
	if _, err := stompconsumer.ParseFailurePolicy(c.FailurePolicy); err != nil {
		return err
	}
	if c.DuplicateWindow < 0 {
		return fmt.Errorf("duplicate_window must not be negative, got %d", c.DuplicateWindow)
	}
	if bq := c.Sinks.BigQuery; bq != nil && bq.ProjectID == "" {
		bq.ProjectID = c.ProjectID
	}
	if pubsubCfg := c.Sinks.PubSub; pubsubCfg != nil && pubsubCfg.TopicID == "" {
		return errors.New("sinks.pubsub.topic_id is required")
	}
	if (c.Sinks.BigQuery != nil || c.Sinks.PubSub != nil || c.Archive.ToGCS() || c.usesFirestore()) && c.ProjectID == "" {
		return errors.New("project_id (or GCP_PROJECT_ID) is required for Google Cloud sinks")
	}
	if bm := c.Sinks.BerthMap; bm != nil {
		switch bm.Backend {
		case "", BerthMapMemory:
		case BerthMapRedis:
			if bm.Redis == nil || bm.Redis.Addr == "" {
				return errors.New("sinks.berth_map.redis.addr is required")
			}
		case BerthMapFirestore:
			if bm.Collection == "" {
				return errors.New("sinks.berth_map.collection is required")
			}
		default:
			return fmt.Errorf("unknown berth map backend %q", bm.Backend)
		}
	}
	if a := c.Archive; a != nil {
		if !a.ToGCS() && a.SQL == nil {
			return errors.New("archive.upload.bucket or archive.sql is required")
		}
		if a.SQL != nil {
			if a.SQL.Table == "" {
				a.SQL.Table = sqlstore.DefaultFrameTable
			}
			if err := a.SQL.Validate(); err != nil {
				return fmt.Errorf("archive.sql: %w", err)
			}
		}
	}
	return nil
}

func (c *Config) usesFirestore() bool {
	return c.Sinks.BerthMap != nil && c.Sinks.BerthMap.Backend == BerthMapFirestore
}

// Destination is the broker topic for the configured feed.
func (c *Config) Destination() string {
	if c.Feed == FeedTrust {
		return stompconsumer.TopicTrust
	}
	return stompconsumer.TopicTD
}

// Policy returns the parsed failure policy; Validate has already checked it.
func (c *Config) Policy() stompconsumer.FailurePolicy {
	p, _ := stompconsumer.ParseFailurePolicy(c.FailurePolicy)
	return p
}

// AreaFilter combines the built-in named areas with the configured ones.
func (c *Config) AreaFilter() *railfeed.AreaFilter {
	return railfeed.NewAreaFilter(c.Areas)
}

// LoadCredentials reads a JSON array ["username", "password"].
func LoadCredentials(path string) (username, password string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrNoCredentials, err)
	}
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return "", "", fmt.Errorf("%w: %s is not a JSON string array: %w", ErrNoCredentials, path, err)
	}
	if len(pair) != 2 || pair[0] == "" {
		return "", "", fmt.Errorf("%w: %s must hold [\"username\", \"password\"]", ErrNoCredentials, path)
	}
	return pair[0], pair[1], nil
}

// StompConfig returns the broker config for this feed with credentials set.
func (c *Config) StompConfig(username, password string) *stompconsumer.StompClientConfig {
	sc := c.Stomp
	sc.Destination = c.Destination()
	sc.Username = username
	sc.Password = password
	return &sc
}
