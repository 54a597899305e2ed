package feedsession_test

import (
	"context"
	"strings"
	"sync"

	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
	"github.com/illmade-knight/go-railfeed/pkg/stompconsumer"
)

// --- Broker ---

type ackCall struct {
	Action string
	AckID  string
}

type mockClient struct {
	mu           sync.Mutex
	calls        []ackCall
	disconnected bool
	frames       chan *stompconsumer.Frame
	closeOnce    sync.Once
}

func newMockClient() *mockClient {
	return &mockClient{frames: make(chan *stompconsumer.Frame, 32)}
}

func (m *mockClient) Subscribe(_ string, _ stompconsumer.AckMode, _ string, _ map[string]string) (stompconsumer.Subscription, error) {
	return m, nil
}

func (m *mockClient) Frames() <-chan *stompconsumer.Frame { return m.frames }
func (m *mockClient) Unsubscribe() error                  { return nil }

// dropConnection simulates the broker closing the subscription.
func (m *mockClient) dropConnection() {
	m.closeOnce.Do(func() { close(m.frames) })
}

func (m *mockClient) Ack(f *stompconsumer.Frame) error  { return m.record("ack", f) }
func (m *mockClient) Nack(f *stompconsumer.Frame) error { return m.record("nack", f) }

func (m *mockClient) record(action string, f *stompconsumer.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ackCall{Action: action, AckID: f.AckID})
	return nil
}

func (m *mockClient) Disconnect() error {
	m.mu.Lock()
	m.disconnected = true
	m.mu.Unlock()
	m.dropConnection()
	return nil
}

func (m *mockClient) Calls() []ackCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ackCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockClient) dialer() stompconsumer.Dialer {
	return func(*stompconsumer.StompClientConfig) (stompconsumer.Client, error) {
		return m, nil
	}
}

// --- Sinks ---

type recordingSink struct {
	mu  sync.Mutex
	got [][]railfeed.NormalizedRecord
	err error
}

func (r *recordingSink) Deliver(_ context.Context, recs []railfeed.NormalizedRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, recs)
	return r.err
}

func (r *recordingSink) Deliveries() [][]railfeed.NormalizedRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]railfeed.NormalizedRecord(nil), r.got...)
}

type recordingPrinter struct {
	mu    sync.Mutex
	lines []string
}

func (p *recordingPrinter) PrintLines(lines []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lines = append(p.lines, lines...)
	return nil
}

func (p *recordingPrinter) Text() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.lines, "\n")
}

type recordingArchiver struct {
	mu   sync.Mutex
	data []*icestore.ArchivalData
}

func (a *recordingArchiver) Archive(d *icestore.ArchivalData) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.data = append(a.data, d)
	return true
}

func (a *recordingArchiver) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.data)
}
