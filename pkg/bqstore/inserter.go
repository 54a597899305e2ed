// Package bqstore streams rows into a BigQuery table.
package bqstore

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// DataBatchInserter inserts a slice of rows into a store.
type DataBatchInserter[T any] interface {
	InsertBatch(ctx context.Context, items []*T) error
	Close() error
}

// BigQueryDatasetConfig identifies the target table.
type BigQueryDatasetConfig struct {
	ProjectID string `yaml:"project_id"`
	DatasetID string `yaml:"dataset_id"`
	TableID   string `yaml:"table_id"`
	// PartitionField, when set and the table is created here, enables daily
	// time partitioning on that TIMESTAMP column.
	PartitionField  string `yaml:"partition_field"`
	CredentialsFile string `yaml:"credentials_file"`
}

// LoadBigQueryConfigFromEnv reads GCP_PROJECT_ID, BQ_DATASET_ID, BQ_TABLE_ID
// and GCP_BQ_CREDENTIALS_FILE.
func LoadBigQueryConfigFromEnv() (*BigQueryDatasetConfig, error) {
	cfg := &BigQueryDatasetConfig{
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
		DatasetID:       os.Getenv("BQ_DATASET_ID"),
		TableID:         os.Getenv("BQ_TABLE_ID"),
		CredentialsFile: os.Getenv("GCP_BQ_CREDENTIALS_FILE"),
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID environment variable not set")
	}
	if cfg.DatasetID == "" {
		return nil, fmt.Errorf("BQ_DATASET_ID environment variable not set")
	}
	if cfg.TableID == "" {
		return nil, fmt.Errorf("BQ_TABLE_ID environment variable not set")
	}
	return cfg, nil
}

// NewProductionBigQueryClient uses Application Default Credentials unless a
// credentials file is given.
func NewProductionBigQueryClient(ctx context.Context, projectID string, credentialsFile string, logger zerolog.Logger) (*bigquery.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQueryInserter streams rows of T, whose schema is inferred from the struct's
// bigquery tags when the table has to be created.
type BigQueryInserter[T any] struct {
	table    *bigquery.Table
	inserter *bigquery.Inserter
	logger   zerolog.Logger
}

// NewBigQueryInserter verifies the table exists, creating it when it does not.
func NewBigQueryInserter[T any](
	ctx context.Context,
	client *bigquery.Client,
	cfg *BigQueryDatasetConfig,
	logger zerolog.Logger,
) (*BigQueryInserter[T], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg == nil {
		return nil, errors.New("BigQueryDatasetConfig cannot be nil")
	}

	logger = logger.With().
		Str("component", "BigQueryInserter").
		Str("dataset_id", cfg.DatasetID).
		Str("table_id", cfg.TableID).
		Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if err := ensureTable[T](ctx, tableRef, cfg, logger); err != nil {
		return nil, err
	}

	return &BigQueryInserter[T]{
		table:    tableRef,
		inserter: tableRef.Inserter(),
		logger:   logger,
	}, nil
}

func ensureTable[T any](ctx context.Context, tableRef *bigquery.Table, cfg *BigQueryDatasetConfig, logger zerolog.Logger) error {
	_, err := tableRef.Metadata(ctx)
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to get BigQuery table metadata: %w", err)
	}

	var zero T
	schema, err := bigquery.InferSchema(zero)
	if err != nil {
		return fmt.Errorf("failed to infer schema for type %T: %w", zero, err)
	}
	meta := &bigquery.TableMetadata{Schema: schema}
	if cfg.PartitionField != "" {
		meta.TimePartitioning = &bigquery.TimePartitioning{
			Type:  bigquery.DayPartitioningType,
			Field: cfg.PartitionField,
		}
	}
	if err := tableRef.Create(ctx, meta); err != nil {
		return fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, err)
	}
	logger.Info().Int("field_count", len(schema)).Msg("Created BigQuery table with inferred schema.")
	return nil
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

// InsertBatch streams items; an empty slice is a no-op.
func (i *BigQueryInserter[T]) InsertBatch(ctx context.Context, items []*T) error {
	if len(items) == 0 {
		return nil
	}

	if err := i.inserter.Put(ctx, items); err != nil {
		var multiErr bigquery.PutMultiError
		if errors.As(err, &multiErr) {
			for _, rowErr := range multiErr {
				i.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return fmt.Errorf("bigquery Inserter.Put failed: %w", err)
	}
	i.logger.Debug().Int("batch_size", len(items)).Msg("Inserted rows into BigQuery.")
	return nil
}

// Close is a no-op; the client is owned by the caller.
func (i *BigQueryInserter[T]) Close() error {
	return nil
}
