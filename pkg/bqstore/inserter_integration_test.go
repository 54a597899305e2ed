//go:build integration

package bqstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-railfeed/pkg/bqstore"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// Runs against a BigQuery emulator at BIGQUERY_EMULATOR_HOST (http://host:port)
// started with project "test-project" and dataset "rail".
func TestBigQueryInserter_Integration(t *testing.T) {
	endpoint := os.Getenv("BIGQUERY_EMULATOR_HOST")
	if endpoint == "" {
		t.Skip("BIGQUERY_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	client, err := bigquery.NewClient(ctx, "test-project", option.WithEndpoint(endpoint), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &bqstore.BigQueryDatasetConfig{ProjectID: "test-project", DatasetID: "rail", TableID: "td_messages"}
	inserter, err := bqstore.NewBigQueryInserter[railfeed.NormalizedRecord](ctx, client, cfg, zerolog.Nop())
	require.NoError(t, err)

	rec := &railfeed.NormalizedRecord{
		LocalTimestamp: railfeed.LocalTime(1700000000000),
		MessageType:    "CA",
		AreaID:         "Q1",
		Description:    "1234",
		FromBerth:      "101",
		ToBerth:        "102",
	}
	require.NoError(t, inserter.InsertBatch(ctx, []*railfeed.NormalizedRecord{rec}))
	require.NoError(t, inserter.InsertBatch(ctx, nil))

	it := client.Dataset("rail").Table("td_messages").Read(ctx)
	var rows []map[string]bigquery.Value
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		require.NoError(t, err)
		rows = append(rows, row)
	}
	require.Len(t, rows, 1)
	assert.Equal(t, "Q1", rows[0]["area_id"])
	assert.Equal(t, "102", rows[0]["to_berth"])
}
