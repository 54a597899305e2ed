package metrics_test

import (
	"errors"
	"testing"

	"github.com/illmade-knight/go-railfeed/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestFeedMetrics(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.Frame("td")
	m.Frame("td")
	m.Records("sql", metrics.ResultSuccess, 3)
	m.Records("sql", metrics.ResultSuccess, 0)
	m.Acked(metrics.ActionAck, nil)
	m.Acked(metrics.ActionNack, errors.New("write: broken pipe"))
	m.Malformed("trust")
	m.StorageError("bigquery")
	m.Duplicate()
	m.State(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues("td")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RecordsTotal.WithLabelValues("sql", metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcksTotal.WithLabelValues(metrics.ActionAck, metrics.ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AcksTotal.WithLabelValues(metrics.ActionNack, metrics.ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MalformedTotal.WithLabelValues("trust")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StorageErrorsTotal.WithLabelValues("bigquery")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DuplicatesTotal))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SessionState))
}

func TestFeedMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.FeedMetrics
	assert.NotPanics(t, func() {
		m.Frame("td")
		m.Records("console", metrics.ResultSuccess, 1)
		m.Acked(metrics.ActionAck, nil)
		m.Malformed("td")
		m.StorageError("sql")
		m.Duplicate()
		m.BrokerError()
		m.ObserveProcessing(0.1)
		m.State(1)
	})
}
