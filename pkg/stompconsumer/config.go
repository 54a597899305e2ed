package stompconsumer

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for the public rail data feed broker.
const (
	DefaultHost           = "publicdatafeeds.networkrail.co.uk"
	DefaultPort           = 61618
	DefaultHeartBeat      = 5000 * time.Millisecond
	DefaultConnectTimeout = 10 * time.Second
	DefaultSubscriptionID = "1"
	DefaultMaxFrameBytes  = 1 << 20

	// Topics served by the feed.
	TopicTD    = "/topic/TD_ALL_SIG_AREA"
	TopicTrust = "/topic/TRAIN_MVT_ALL_TOC"

	// SubscriptionNameHeader names a durable subscription on ActiveMQ.
	SubscriptionNameHeader = "activemq.subscriptionName"
	// ClientIDHeader identifies the client to ActiveMQ so a durable subscription
	// can be resumed after a reconnect.
	ClientIDHeader = "client-id"
)

// Env constants for STOMP settings.
const (
	StompHost                  = "STOMP_HOST"
	StompPort                  = "STOMP_PORT"
	StompHeartBeatMs           = "STOMP_HEARTBEAT_MS"
	StompConnectTimeoutSeconds = "STOMP_CONNECT_TIMEOUT_SECONDS"
	StompUseTLS                = "STOMP_USE_TLS"
	StompSkipVerify            = "STOMP_INSECURE_SKIP_VERIFY"
	StompMaxFrameBytes         = "STOMP_MAX_FRAME_BYTES"
)

// StompClientConfig holds the connection and subscription settings for one session.
type StompClientConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Destination is the topic to subscribe to.
	Destination string `yaml:"destination"`
	// Durable selects a durable subscription with client-individual acks.
	Durable bool `yaml:"durable"`
	// SubscriptionID is the STOMP subscription id; the broker echoes it on every frame.
	SubscriptionID string `yaml:"subscription_id"`

	Username string `yaml:"-"`
	Password string `yaml:"-"`

	// SendHeartBeat and RecvHeartBeat are negotiated with the broker on CONNECT.
	SendHeartBeat  time.Duration `yaml:"send_heartbeat"`
	RecvHeartBeat  time.Duration `yaml:"recv_heartbeat"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// BufferSize is the capacity of the consumer's output channel.
	BufferSize int `yaml:"buffer_size"`
	// MaxFrameBytes bounds a frame body; larger frames are skipped. 0 disables the bound.
	MaxFrameBytes int `yaml:"max_frame_bytes"`

	UseTLS             bool   `yaml:"use_tls"`
	CACertFile         string `yaml:"ca_cert_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// NewStompClientConfigDefaults returns a config pointing at the public feed.
func NewStompClientConfigDefaults() *StompClientConfig {
	return &StompClientConfig{
		Host:           DefaultHost,
		Port:           DefaultPort,
		Destination:    TopicTD,
		SubscriptionID: DefaultSubscriptionID,
		SendHeartBeat:  DefaultHeartBeat,
		RecvHeartBeat:  DefaultHeartBeat,
		ConnectTimeout: DefaultConnectTimeout,
		BufferSize:     100,
		MaxFrameBytes:  DefaultMaxFrameBytes,
	}
}

// LoadStompClientConfigFromEnv returns the defaults overridden by the environment.
// Credentials and the destination are not read from the environment.
func LoadStompClientConfigFromEnv() *StompClientConfig {
	cfg := NewStompClientConfigDefaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields whose environment variable is set. Unparseable
// values are logged and ignored.
func (c *StompClientConfig) ApplyEnv() {
	if host := os.Getenv(StompHost); host != "" {
		c.Host = host
	}
	if p := os.Getenv(StompPort); p != "" {
		port, err := strconv.Atoi(p)
		if err == nil && port > 0 {
			c.Port = port
		} else {
			log.Warn().Str("value", p).Msg("stompconsumer: invalid STOMP_PORT, using default")
		}
	}
	if hb := os.Getenv(StompHeartBeatMs); hb != "" {
		ms, err := strconv.Atoi(hb)
		if err == nil && ms >= 0 {
			c.SendHeartBeat = time.Duration(ms) * time.Millisecond
			c.RecvHeartBeat = c.SendHeartBeat
		} else {
			log.Warn().Str("value", hb).Msg("stompconsumer: invalid STOMP_HEARTBEAT_MS, using default")
		}
	}
	if ct := os.Getenv(StompConnectTimeoutSeconds); ct != "" {
		d, err := time.ParseDuration(ct + "s")
		if err == nil {
			c.ConnectTimeout = d
		} else {
			log.Warn().Err(err).Msg("stompconsumer: invalid connect timeout seconds, using default")
		}
	}
	if mf := os.Getenv(StompMaxFrameBytes); mf != "" {
		n, err := strconv.Atoi(mf)
		if err == nil && n >= 0 {
			c.MaxFrameBytes = n
		} else {
			log.Warn().Str("value", mf).Msg("stompconsumer: invalid STOMP_MAX_FRAME_BYTES, using default")
		}
	}
	if os.Getenv(StompUseTLS) == "true" {
		c.UseTLS = true
	}
	if os.Getenv(StompSkipVerify) == "true" {
		c.InsecureSkipVerify = true
	}
}

// Addr returns host:port.
func (c *StompClientConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AckMode returns the acknowledgement mode implied by Durable.
func (c *StompClientConfig) AckMode() AckMode {
	if c.Durable {
		return AckClientIndividual
	}
	return AckAuto
}

// SubscriptionName is the durable subscription name: username followed by the destination.
func (c *StompClientConfig) SubscriptionName() string {
	return c.Username + c.Destination
}

// SubscribeHeaders returns the extra SUBSCRIBE headers for this config.
func (c *StompClientConfig) SubscribeHeaders() map[string]string {
	if !c.Durable {
		return nil
	}
	return map[string]string{SubscriptionNameHeader: c.SubscriptionName()}
}

// Validate checks the fields a session cannot start without.
func (c *StompClientConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("stomp host is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("stomp port must be positive, got %d", c.Port)
	}
	if c.Destination == "" {
		return fmt.Errorf("stomp destination is required")
	}
	if c.Username == "" {
		return fmt.Errorf("stomp username is required")
	}
	return nil
}
