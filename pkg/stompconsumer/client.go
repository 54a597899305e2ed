package stompconsumer

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3"
	"github.com/go-stomp/stomp/v3/frame"
)

// AckMode is the subscription acknowledgement mode, fixed for the life of a session.
type AckMode int

const (
	// AckAuto: the broker considers a frame delivered once sent.
	AckAuto AckMode = iota
	// AckClientIndividual: each frame must be acknowledged on its own.
	AckClientIndividual
)

func (m AckMode) String() string {
	if m == AckClientIndividual {
		return "client-individual"
	}
	return "auto"
}

func (m AckMode) stomp() stomp.AckMode {
	if m == AckClientIndividual {
		return stomp.AckClientIndividual
	}
	return stomp.AckAuto
}

// Frame is one MESSAGE (or ERROR) delivered by the broker.
type Frame struct {
	Destination    string
	SubscriptionID string
	// AckID is what the broker expects back in ACK/NACK.
	AckID     string
	MessageID string
	Headers   map[string]string
	Body      []byte
	// Err is set for broker ERROR frames; the subscription closes after one.
	Err error

	raw *stomp.Message
}

// Client is the broker capability a consumer needs once connected.
type Client interface {
	Subscribe(destination string, mode AckMode, id string, headers map[string]string) (Subscription, error)
	Ack(f *Frame) error
	Nack(f *Frame) error
	Disconnect() error
}

// Subscription delivers frames in broker order. Frames is closed when the
// subscription or the connection ends.
type Subscription interface {
	Frames() <-chan *Frame
	Unsubscribe() error
}

// Dialer connects and logs in to a broker.
type Dialer func(cfg *StompClientConfig) (Client, error)

// DialStomp is the go-stomp Dialer.
func DialStomp(cfg *StompClientConfig) (Client, error) {
	netConn, err := dialNet(cfg)
	if err != nil {
		return nil, err
	}

	conn, err := stomp.Connect(netConn, connectOptions(cfg)...)
	if err != nil {
		_ = netConn.Close()
		return nil, err
	}
	return &stompClient{conn: conn}, nil
}

func dialNet(cfg *StompClientConfig) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	if !cfg.UseTLS {
		return dialer.Dial("tcp", cfg.Addr())
	}
	tlsConfig, err := newTLSConfig(cfg)
	if err != nil {
		return nil, err
	}
	return tls.DialWithDialer(dialer, "tcp", cfg.Addr(), tlsConfig)
}

func connectOptions(cfg *StompClientConfig) []func(*stomp.Conn) error {
	opts := []func(*stomp.Conn) error{
		stomp.ConnOpt.Login(cfg.Username, cfg.Password),
		stomp.ConnOpt.HeartBeat(cfg.SendHeartBeat, cfg.RecvHeartBeat),
		stomp.ConnOpt.Host(cfg.Host),
	}
	if cfg.Durable {
		opts = append(opts, stomp.ConnOpt.Header(ClientIDHeader, cfg.Username))
	}
	return opts
}

// newTLSConfig builds a tls.Config from the optional CA file.
func newTLSConfig(cfg *StompClientConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: cfg.Host, InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert file %s: %w", cfg.CACertFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA cert from %s", cfg.CACertFile)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

type stompClient struct {
	conn *stomp.Conn
}

func (c *stompClient) Subscribe(destination string, mode AckMode, id string, headers map[string]string) (Subscription, error) {
	opts := []func(*frame.Frame) error{stomp.SubscribeOpt.Id(id)}
	for k, v := range headers {
		opts = append(opts, stomp.SubscribeOpt.Header(k, v))
	}
	sub, err := c.conn.Subscribe(destination, mode.stomp(), opts...)
	if err != nil {
		return nil, err
	}
	s := &stompSubscription{sub: sub, frames: make(chan *Frame), done: make(chan struct{})}
	go s.forward()
	return s, nil
}

func (c *stompClient) Ack(f *Frame) error {
	if f.raw == nil {
		return fmt.Errorf("frame %s was not delivered by this client", f.MessageID)
	}
	return c.conn.Ack(f.raw)
}

func (c *stompClient) Nack(f *Frame) error {
	if f.raw == nil {
		return fmt.Errorf("frame %s was not delivered by this client", f.MessageID)
	}
	return c.conn.Nack(f.raw)
}

func (c *stompClient) Disconnect() error {
	return c.conn.Disconnect()
}

type stompSubscription struct {
	sub       *stomp.Subscription
	frames    chan *Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (s *stompSubscription) Frames() <-chan *Frame {
	return s.frames
}

// Unsubscribe stops forwarding first, so go-stomp can deliver what it still
// holds and close its channel while the UNSUBSCRIBE receipt is awaited.
func (s *stompSubscription) Unsubscribe() error {
	s.closeOnce.Do(func() { close(s.done) })
	if !s.sub.Active() {
		return nil
	}
	return s.sub.Unsubscribe()
}

// forward converts go-stomp messages until the library closes its channel.
// After Unsubscribe it keeps draining without forwarding; a blocked
// sub.C would stall the connection's read loop.
func (s *stompSubscription) forward() {
	defer close(s.frames)
	for msg := range s.sub.C {
		select {
		case <-s.done:
			continue
		default:
		}
		select {
		case s.frames <- fromStomp(msg):
		case <-s.done:
		}
	}
}

func fromStomp(msg *stomp.Message) *Frame {
	f := &Frame{
		Destination: msg.Destination,
		Body:        msg.Body,
		Err:         msg.Err,
		raw:         msg,
	}
	if msg.Header != nil {
		f.Headers = make(map[string]string, msg.Header.Len())
		for i := 0; i < msg.Header.Len(); i++ {
			k, v := msg.Header.GetAt(i)
			if _, seen := f.Headers[k]; !seen {
				f.Headers[k] = v
			}
		}
		f.SubscriptionID = msg.Header.Get(frame.Subscription)
		f.AckID = msg.Header.Get(frame.Ack)
		f.MessageID = msg.Header.Get(frame.MessageId)
	}
	return f
}

// brokerTimestamp returns the ActiveMQ "timestamp" header, or zero.
func brokerTimestamp(f *Frame) time.Time {
	ts, ok := f.Headers["timestamp"]
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
