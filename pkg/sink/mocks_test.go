package sink_test

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	amqp "github.com/rabbitmq/amqp091-go"
)

// mockSink records deliveries and returns err.
type mockSink struct {
	name   string
	err    error
	mu     sync.Mutex
	got    [][]railfeed.NormalizedRecord
	closed bool
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Deliver(_ context.Context, recs []railfeed.NormalizedRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, recs)
	return m.err
}

func (m *mockSink) Close() error {
	m.closed = true
	return nil
}

type mockInserter struct {
	rows   []*railfeed.NormalizedRecord
	err    error
	closed bool
}

func (m *mockInserter) InsertBatch(_ context.Context, items []*railfeed.NormalizedRecord) error {
	m.rows = append(m.rows, items...)
	return m.err
}

func (m *mockInserter) Close() error {
	m.closed = true
	return nil
}

type published struct {
	payload []byte
	attrs   map[string]string
}

type mockPublisher struct {
	msgs []published
	err  error
}

func (m *mockPublisher) Publish(_ context.Context, payload []byte, attrs map[string]string) error {
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, published{payload: payload, attrs: attrs})
	return nil
}

func (m *mockPublisher) Stop(_ context.Context) error { return nil }

type amqpPublish struct {
	exchange, key string
	msg           amqp.Publishing
}

type mockChannel struct {
	published []amqpPublish
	err       error
	closed    bool
}

func (m *mockChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, amqpPublish{exchange: exchange, key: key, msg: msg})
	return nil
}

func (m *mockChannel) Close() error {
	m.closed = true
	return nil
}
