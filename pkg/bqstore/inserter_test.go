package bqstore_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-railfeed/pkg/bqstore"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBigQueryConfigFromEnv(t *testing.T) {
	t.Run("Missing project", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "")
		_, err := bqstore.LoadBigQueryConfigFromEnv()
		assert.ErrorContains(t, err, "GCP_PROJECT_ID")
	})

	t.Run("Missing table", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "rail-project")
		t.Setenv("BQ_DATASET_ID", "rail")
		t.Setenv("BQ_TABLE_ID", "")
		_, err := bqstore.LoadBigQueryConfigFromEnv()
		assert.ErrorContains(t, err, "BQ_TABLE_ID")
	})

	t.Run("All set", func(t *testing.T) {
		t.Setenv("GCP_PROJECT_ID", "rail-project")
		t.Setenv("BQ_DATASET_ID", "rail")
		t.Setenv("BQ_TABLE_ID", "td_messages")
		cfg, err := bqstore.LoadBigQueryConfigFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "rail-project", cfg.ProjectID)
		assert.Equal(t, "rail", cfg.DatasetID)
		assert.Equal(t, "td_messages", cfg.TableID)
	})
}

func TestNewBigQueryInserter_Validation(t *testing.T) {
	_, err := bqstore.NewBigQueryInserter[railfeed.NormalizedRecord](context.Background(), nil, &bqstore.BigQueryDatasetConfig{}, zerolog.Nop())
	assert.Error(t, err)
}
