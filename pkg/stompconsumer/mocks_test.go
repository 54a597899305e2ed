package stompconsumer_test

import (
	"errors"
	"sync"

	"github.com/illmade-knight/go-railfeed/pkg/stompconsumer"
)

// ackCall records one ACK or NACK sent by the code under test.
type ackCall struct {
	Action         string
	AckID          string
	SubscriptionID string
}

// mockClient is a hand-written stompconsumer.Client.
type mockClient struct {
	mu            sync.Mutex
	calls         []ackCall
	ackErr        error
	subscribeErr  error
	disconnected  bool
	subscribedTo  string
	subscribeMode stompconsumer.AckMode
	subscribeID   string
	subHeaders    map[string]string
	sub           *mockSubscription
}

func newMockClient() *mockClient {
	return &mockClient{sub: &mockSubscription{frames: make(chan *stompconsumer.Frame, 16)}}
}

func (m *mockClient) Subscribe(destination string, mode stompconsumer.AckMode, id string, headers map[string]string) (stompconsumer.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	m.subscribedTo = destination
	m.subscribeMode = mode
	m.subscribeID = id
	m.subHeaders = headers
	return m.sub, nil
}

func (m *mockClient) record(action string, f *stompconsumer.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, ackCall{Action: action, AckID: f.AckID, SubscriptionID: f.SubscriptionID})
	return m.ackErr
}

func (m *mockClient) Ack(f *stompconsumer.Frame) error  { return m.record("ack", f) }
func (m *mockClient) Nack(f *stompconsumer.Frame) error { return m.record("nack", f) }

func (m *mockClient) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = true
	m.sub.close()
	return nil
}

func (m *mockClient) Calls() []ackCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ackCall, len(m.calls))
	copy(out, m.calls)
	return out
}

func (m *mockClient) Disconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnected
}

func (m *mockClient) dialer() stompconsumer.Dialer {
	return func(cfg *stompconsumer.StompClientConfig) (stompconsumer.Client, error) {
		return m, nil
	}
}

func failingDialer(err error) stompconsumer.Dialer {
	return func(cfg *stompconsumer.StompClientConfig) (stompconsumer.Client, error) {
		return nil, err
	}
}

type mockSubscription struct {
	frames    chan *stompconsumer.Frame
	closeOnce sync.Once
}

func (s *mockSubscription) Frames() <-chan *stompconsumer.Frame { return s.frames }
func (s *mockSubscription) Unsubscribe() error                  { return nil }
func (s *mockSubscription) close()                              { s.closeOnce.Do(func() { close(s.frames) }) }

var errRefused = errors.New("connection refused")
