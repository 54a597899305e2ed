package stompconsumer_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/stompconsumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadStompClientConfigFromEnv(t *testing.T) {
	t.Run("Default values are set correctly", func(t *testing.T) {
		cfg := stompconsumer.LoadStompClientConfigFromEnv()
		require.NotNil(t, cfg)
		assert.Equal(t, "publicdatafeeds.networkrail.co.uk", cfg.Host)
		assert.Equal(t, 61618, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.SendHeartBeat)
		assert.Equal(t, 5*time.Second, cfg.RecvHeartBeat)
		assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, "1", cfg.SubscriptionID)
		assert.Equal(t, stompconsumer.TopicTD, cfg.Destination)
		assert.Equal(t, stompconsumer.DefaultMaxFrameBytes, cfg.MaxFrameBytes)
	})

	t.Run("Values are loaded from environment", func(t *testing.T) {
		t.Setenv(stompconsumer.StompHost, "localhost")
		t.Setenv(stompconsumer.StompPort, "61613")
		t.Setenv(stompconsumer.StompHeartBeatMs, "10000")
		t.Setenv(stompconsumer.StompConnectTimeoutSeconds, "3")
		t.Setenv(stompconsumer.StompUseTLS, "true")
		t.Setenv(stompconsumer.StompSkipVerify, "true")
		t.Setenv(stompconsumer.StompMaxFrameBytes, "4096")

		cfg := stompconsumer.LoadStompClientConfigFromEnv()
		assert.Equal(t, "localhost", cfg.Host)
		assert.Equal(t, 61613, cfg.Port)
		assert.Equal(t, "localhost:61613", cfg.Addr())
		assert.Equal(t, 10*time.Second, cfg.SendHeartBeat)
		assert.Equal(t, 10*time.Second, cfg.RecvHeartBeat)
		assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)
		assert.True(t, cfg.UseTLS)
		assert.True(t, cfg.InsecureSkipVerify)
		assert.Equal(t, 4096, cfg.MaxFrameBytes)
	})

	t.Run("Invalid values fall back to defaults", func(t *testing.T) {
		t.Setenv(stompconsumer.StompPort, "not-a-port")
		t.Setenv(stompconsumer.StompHeartBeatMs, "-5")
		t.Setenv(stompconsumer.StompConnectTimeoutSeconds, "invalid")
		t.Setenv(stompconsumer.StompMaxFrameBytes, "-1")

		cfg := stompconsumer.LoadStompClientConfigFromEnv()
		assert.Equal(t, 61618, cfg.Port)
		assert.Equal(t, 5*time.Second, cfg.SendHeartBeat)
		assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
		assert.Equal(t, stompconsumer.DefaultMaxFrameBytes, cfg.MaxFrameBytes)
	})
}

func TestStompClientConfig_Subscription(t *testing.T) {
	cfg := stompconsumer.NewStompClientConfigDefaults()
	cfg.Username = "user@example.com"

	assert.Equal(t, stompconsumer.AckAuto, cfg.AckMode())
	assert.Nil(t, cfg.SubscribeHeaders())

	cfg.Durable = true
	assert.Equal(t, stompconsumer.AckClientIndividual, cfg.AckMode())
	assert.Equal(t, "user@example.com/topic/TD_ALL_SIG_AREA", cfg.SubscriptionName())
	assert.Equal(t, map[string]string{
		stompconsumer.SubscriptionNameHeader: "user@example.com/topic/TD_ALL_SIG_AREA",
	}, cfg.SubscribeHeaders())
}

func TestStompClientConfig_Validate(t *testing.T) {
	cfg := stompconsumer.NewStompClientConfigDefaults()
	assert.ErrorContains(t, cfg.Validate(), "username")

	cfg.Username = "u"
	assert.NoError(t, cfg.Validate())

	cfg.Destination = ""
	assert.ErrorContains(t, cfg.Validate(), "destination")
}

func TestParseFailurePolicy(t *testing.T) {
	p, err := stompconsumer.ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, stompconsumer.FailurePolicyAck, p)

	p, err = stompconsumer.ParseFailurePolicy("Redeliver")
	require.NoError(t, err)
	assert.Equal(t, stompconsumer.FailurePolicyRedeliver, p)

	_, err = stompconsumer.ParseFailurePolicy("retry-forever")
	assert.Error(t, err)
}
