// Package icestore archives raw feed frames to Google Cloud Storage as gzipped
// JSON-lines objects, grouped by day and destination.
package icestore

import (
	"encoding/json"
	"path"
	"strings"
	"time"

	"github.com/illmade-knight/go-railfeed/pkg/messagepipeline"
)

// ArchivalData is one archived frame. Body holds the frame payload as-is when it
// is valid JSON; RawBody holds it otherwise.
type ArchivalData struct {
	ID          string          `json:"id"`
	BatchKey    string          `json:"-"`
	Destination string          `json:"destination"`
	Body        json.RawMessage `json:"body,omitempty"`
	RawBody     []byte          `json:"raw_body,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	ArchivedAt  time.Time       `json:"archived_at"`
}

// GetBatchKey returns the object path segment the item is grouped under.
func (a *ArchivalData) GetBatchKey() string {
	return a.BatchKey
}

// BatchKey builds "YYYY/MM/DD/<topic>" in UTC, where topic is the last segment
// of the destination ("/topic/TD_ALL_SIG_AREA" -> "TD_ALL_SIG_AREA").
func BatchKey(destination string, at time.Time) string {
	topic := path.Base(strings.TrimRight(destination, "/"))
	if topic == "." || topic == "/" || topic == "" {
		topic = "unknown"
	}
	return path.Join(at.UTC().Format("2006/01/02"), topic)
}

// NewArchivalData captures a pipeline message for archiving. The payload is
// copied so the caller may reuse its buffer.
func NewArchivalData(msg *messagepipeline.Message, now time.Time) *ArchivalData {
	published := msg.PublishTime
	if published.IsZero() {
		published = now
	}
	dest := msg.Destination()
	data := &ArchivalData{
		ID:          msg.ID,
		BatchKey:    BatchKey(dest, published),
		Destination: dest,
		PublishedAt: published,
		ArchivedAt:  now,
	}
	body := append([]byte(nil), msg.Payload...)
	if json.Valid(body) {
		data.Body = body
	} else {
		data.RawBody = body
	}
	return data
}
