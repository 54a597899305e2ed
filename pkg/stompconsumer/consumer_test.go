package stompconsumer_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
	"github.com/illmade-knight/go-railfeed/pkg/stompconsumer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(durable bool) *stompconsumer.StompClientConfig {
	cfg := stompconsumer.NewStompClientConfigDefaults()
	cfg.Username = "feeduser"
	cfg.Password = "secret"
	cfg.Durable = durable
	return cfg
}

func receiveMessage(t *testing.T, c *stompconsumer.StompConsumer) messagepipeline.Message {
	t.Helper()
	select {
	case msg, ok := <-c.Messages():
		require.True(t, ok, "message channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message from consumer")
	}
	return messagepipeline.Message{}
}

func TestStompConsumer_DurableSubscribe(t *testing.T) {
	client := newMockClient()
	var mu sync.Mutex
	var states []stompconsumer.State
	consumer, err := stompconsumer.NewStompConsumer(testConfig(true), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(client.dialer()),
		stompconsumer.WithStateListener(func(s stompconsumer.State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	assert.True(t, consumer.IsConnected())
	assert.Equal(t, stompconsumer.TopicTD, client.subscribedTo)
	assert.Equal(t, stompconsumer.AckClientIndividual, client.subscribeMode)
	assert.Equal(t, "1", client.subscribeID)
	assert.Equal(t, "feeduser/topic/TD_ALL_SIG_AREA", client.subHeaders[stompconsumer.SubscriptionNameHeader])

	mu.Lock()
	assert.Equal(t, []stompconsumer.State{
		stompconsumer.StateConnecting,
		stompconsumer.StateConnected,
		stompconsumer.StateSubscribed,
	}, states)
	mu.Unlock()
}

func TestStompConsumer_NonDurableSubscribe(t *testing.T) {
	client := newMockClient()
	consumer, err := stompconsumer.NewStompConsumer(testConfig(false), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(client.dialer()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	assert.Equal(t, stompconsumer.AckAuto, client.subscribeMode)
	assert.Empty(t, client.subHeaders)

	client.sub.frames <- &stompconsumer.Frame{Destination: stompconsumer.TopicTD, MessageID: "m1", AckID: "a1", SubscriptionID: "1", Body: []byte("[]")}
	msg := receiveMessage(t, consumer)
	msg.Ack()
	msg.Nack()
	assert.Empty(t, client.Calls(), "auto mode must never send ACK or NACK")
}

func TestStompConsumer_FramesAckedInOrder(t *testing.T) {
	const n = 5
	client := newMockClient()
	consumer, err := stompconsumer.NewStompConsumer(testConfig(true), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(client.dialer()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	var want []ackCall
	for i := 0; i < n; i++ {
		client.sub.frames <- &stompconsumer.Frame{
			Destination:    stompconsumer.TopicTD,
			MessageID:      fmt.Sprintf("ID:feed-%d", i),
			AckID:          fmt.Sprintf("ack-%d", i),
			SubscriptionID: "1",
			Headers:        map[string]string{"timestamp": "1700000000000"},
			Body:           []byte("[]"),
		}
		want = append(want, ackCall{Action: "ack", AckID: fmt.Sprintf("ack-%d", i), SubscriptionID: "1"})
	}

	for i := 0; i < n; i++ {
		msg := receiveMessage(t, consumer)
		assert.Equal(t, fmt.Sprintf("ID:feed-%d", i), msg.ID)
		assert.Equal(t, stompconsumer.TopicTD, msg.Destination())
		assert.Equal(t, fmt.Sprintf("ack-%d", i), msg.Attributes[messagepipeline.AttrAckID])
		assert.Equal(t, time.UnixMilli(1700000000000).UTC(), msg.PublishTime)
		msg.Ack()
	}

	assert.Equal(t, want, client.Calls())
}

func TestStompConsumer_ConnectFailure(t *testing.T) {
	consumer, err := stompconsumer.NewStompConsumer(testConfig(true), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(failingDialer(errRefused)))
	require.NoError(t, err)

	err = consumer.Start(context.Background())
	require.Error(t, err)

	var connectErr *stompconsumer.ConnectError
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, "connect", connectErr.Stage)
	assert.ErrorIs(t, err, errRefused)
	assert.False(t, consumer.IsConnected())

	require.NoError(t, consumer.Stop(context.Background()))
	<-consumer.Done()
}

func TestStompConsumer_SubscribeFailureDisconnects(t *testing.T) {
	client := newMockClient()
	client.subscribeErr = errors.New("not authorized")
	consumer, err := stompconsumer.NewStompConsumer(testConfig(true), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(client.dialer()))
	require.NoError(t, err)

	err = consumer.Start(context.Background())
	var connectErr *stompconsumer.ConnectError
	require.True(t, errors.As(err, &connectErr))
	assert.Equal(t, "subscribe", connectErr.Stage)
	assert.True(t, client.Disconnected())
}

func TestStompConsumer_BrokerErrorThenDisconnect(t *testing.T) {
	client := newMockClient()
	consumer, err := stompconsumer.NewStompConsumer(testConfig(true), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(client.dialer()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	client.sub.frames <- &stompconsumer.Frame{Err: errors.New("session expired")}
	client.sub.close()

	select {
	case <-consumer.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() should close when the broker drops the subscription")
	}
	_, ok := <-consumer.Messages()
	assert.False(t, ok, "ERROR frames are not forwarded")
	assert.False(t, consumer.IsConnected())
}

func TestStompConsumer_Stop(t *testing.T) {
	client := newMockClient()
	consumer, err := stompconsumer.NewStompConsumer(testConfig(true), stompconsumer.FailurePolicyAck, zerolog.Nop(),
		stompconsumer.WithDialer(client.dialer()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, consumer.Start(ctx))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, consumer.Stop(stopCtx))

	assert.True(t, client.Disconnected(), "Disconnect should have been called on the client")
	select {
	case <-consumer.Done():
	default:
		t.Fatal("Done() channel should be closed after Stop()")
	}
}

func TestNewStompConsumer_Validation(t *testing.T) {
	_, err := stompconsumer.NewStompConsumer(nil, stompconsumer.FailurePolicyAck, zerolog.Nop())
	assert.Error(t, err)

	cfg := testConfig(false)
	cfg.Username = ""
	_, err = stompconsumer.NewStompConsumer(cfg, stompconsumer.FailurePolicyAck, zerolog.Nop())
	assert.Error(t, err)
}
