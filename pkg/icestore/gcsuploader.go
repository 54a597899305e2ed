package icestore

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	archiveContentType     = "application/x-ndjson"
	archiveContentEncoding = "gzip"
)

// GCSBatchUploaderConfig names the bucket and object prefix for archives.
type GCSBatchUploaderConfig struct {
	BucketName   string `yaml:"bucket"`
	ObjectPrefix string `yaml:"prefix"`
}

// LoadGCSBatchUploaderConfigFromEnv reads ARCHIVE_BUCKET and ARCHIVE_PREFIX.
func LoadGCSBatchUploaderConfigFromEnv() (*GCSBatchUploaderConfig, error) {
	cfg := &GCSBatchUploaderConfig{
		BucketName:   os.Getenv("ARCHIVE_BUCKET"),
		ObjectPrefix: os.Getenv("ARCHIVE_PREFIX"),
	}
	if cfg.BucketName == "" {
		return nil, errors.New("ARCHIVE_BUCKET environment variable not set")
	}
	return cfg, nil
}

// GCSBatchUploader writes each batch-key group as one object named
// <prefix>/<batch key>/<unix seconds>-<uuid>.jsonl.gz.
type GCSBatchUploader struct {
	client GCSClient
	config GCSBatchUploaderConfig
	logger zerolog.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

// NewGCSBatchUploader validates the client and bucket name.
func NewGCSBatchUploader(gcsClient GCSClient, config GCSBatchUploaderConfig, logger zerolog.Logger) (*GCSBatchUploader, error) {
	if gcsClient == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSBatchUploader{
		client: gcsClient,
		config: config,
		logger: logger.With().Str("component", "GCSBatchUploader").Str("bucket", config.BucketName).Logger(),
		now:    time.Now,
	}, nil
}

// UploadBatch uploads each group in parallel. Items with an empty key are
// skipped. Failures from every group are joined.
func (u *GCSBatchUploader) UploadBatch(ctx context.Context, items []*ArchivalData) error {
	groups := make(map[string][]*ArchivalData)
	for _, item := range items {
		if item == nil || item.GetBatchKey() == "" {
			continue
		}
		groups[item.GetBatchKey()] = append(groups[item.GetBatchKey()], item)
	}
	if len(groups) == 0 {
		return nil
	}

	var (
		mu   sync.Mutex
		errs []error
		wg   sync.WaitGroup
	)
	for key, group := range groups {
		wg.Add(1)
		u.wg.Add(1)
		go func(key string, group []*ArchivalData) {
			defer wg.Done()
			defer u.wg.Done()
			if err := u.uploadGroup(ctx, key, group); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(key, group)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (u *GCSBatchUploader) objectName(batchKey string) string {
	return path.Join(u.config.ObjectPrefix, batchKey, fmt.Sprintf("%d-%s.jsonl.gz", u.now().Unix(), uuid.NewString()))
}

func (u *GCSBatchUploader) uploadGroup(ctx context.Context, batchKey string, group []*ArchivalData) error {
	objectName := u.objectName(batchKey)
	w := u.client.Bucket(u.config.BucketName).Object(objectName).NewWriter(ctx, ObjectAttrs{
		ContentType:     archiveContentType,
		ContentEncoding: archiveContentEncoding,
	})

	pr, pw := io.Pipe()
	go func() {
		gz := gzip.NewWriter(pw)
		enc := json.NewEncoder(gz)
		var err error
		for _, rec := range group {
			if err = enc.Encode(rec); err != nil {
				err = fmt.Errorf("encode %s: %w", rec.ID, err)
				break
			}
		}
		if closeErr := gz.Close(); err == nil {
			err = closeErr
		}
		_ = pw.CloseWithError(err)
	}()

	written, copyErr := io.Copy(w, pr)
	// Unblocks the encoder when the object writer failed first.
	_ = pr.CloseWithError(copyErr)
	closeErr := w.Close()
	if copyErr != nil {
		return fmt.Errorf("failed to stream archive object %s: %w", objectName, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to finalise archive object %s: %w", objectName, closeErr)
	}

	u.logger.Info().
		Str("object_name", objectName).
		Int("record_count", len(group)).
		Int64("bytes_written", written).
		Msg("Uploaded archive object.")
	return nil
}

// Close waits for in-flight uploads.
func (u *GCSBatchUploader) Close() error {
	u.wg.Wait()
	return nil
}
