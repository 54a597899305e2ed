package icestore_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/icestore"
	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
)

func TestBatchKey(t *testing.T) {
	at := time.Date(2024, 3, 31, 23, 30, 0, 0, time.UTC)
	assert.Equal(t, "2024/03/31/TD_ALL_SIG_AREA", icestore.BatchKey("/topic/TD_ALL_SIG_AREA", at))
	assert.Equal(t, "2024/03/31/TRAIN_MVT_ALL_TOC", icestore.BatchKey("/topic/TRAIN_MVT_ALL_TOC/", at))
	assert.Equal(t, "2024/03/31/unknown", icestore.BatchKey("", at))
}

func TestNewArchivalData(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("JSON body kept as raw JSON", func(t *testing.T) {
		msg := &messagepipeline.Message{
			MessageData: messagepipeline.MessageData{ID: "m1", Payload: []byte(`[{"CA_MSG":{}}]`)},
			Attributes:  map[string]string{messagepipeline.AttrDestination: "/topic/TD_ALL_SIG_AREA"},
		}
		data := icestore.NewArchivalData(msg, now)
		assert.Equal(t, "m1", data.ID)
		assert.Equal(t, "/topic/TD_ALL_SIG_AREA", data.Destination)
		assert.Equal(t, "2024/01/02/TD_ALL_SIG_AREA", data.GetBatchKey())
		assert.JSONEq(t, `[{"CA_MSG":{}}]`, string(data.Body))
		assert.Nil(t, data.RawBody)
		assert.Equal(t, now, data.PublishedAt)
	})

	t.Run("Non-JSON body kept as bytes", func(t *testing.T) {
		published := now.Add(-time.Hour)
		msg := &messagepipeline.Message{
			MessageData: messagepipeline.MessageData{ID: "m2", Payload: []byte("not json"), PublishTime: published},
		}
		data := icestore.NewArchivalData(msg, now)
		assert.Nil(t, data.Body)
		assert.Equal(t, []byte("not json"), data.RawBody)
		assert.Equal(t, published, data.PublishedAt)
		assert.Equal(t, now, data.ArchivedAt)
	})

	t.Run("Payload is copied", func(t *testing.T) {
		payload := []byte(`{"a":1}`)
		msg := &messagepipeline.Message{MessageData: messagepipeline.MessageData{Payload: payload}}
		data := icestore.NewArchivalData(msg, now)
		payload[1] = 'x'
		assert.JSONEq(t, `{"a":1}`, string(data.Body))
	})
}
