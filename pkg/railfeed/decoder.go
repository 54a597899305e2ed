package railfeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedPayload is wrapped by every decode failure. A malformed frame is
// logged and dropped; it never ends the session.
var ErrMalformedPayload = errors.New("malformed payload")

// TD message types.
const (
	BerthStep               = "CA"
	BerthCancel             = "CB"
	BerthInterpose          = "CC"
	Heartbeat               = "CT"
	SignallingUpdate        = "SF"
	SignallingRefresh       = "SG"
	SignallingRefreshFinish = "SH"
)

// EpochMillis accepts epoch milliseconds encoded either as a JSON string (as the
// live feed sends them) or as a JSON number. null and "" decode to 0, which
// berth events reject.
type EpochMillis int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *EpochMillis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid epoch millis %q: %w", data, err)
	}
	*m = EpochMillis(v)
	return nil
}

// DecodedEvent is one TD message embedded in a frame body.
type DecodedEvent struct {
	MessageType     string      `json:"msg_type"`
	AreaID          string      `json:"area_id"`
	TimestampMillis EpochMillis `json:"time"`
	Description     string      `json:"descr,omitempty"`
	FromBerth       string      `json:"from,omitempty"`
	ToBerth         string      `json:"to,omitempty"`
}

// IsBerth reports whether the event is a step, cancel or interpose.
func (e DecodedEvent) IsBerth() bool {
	switch e.MessageType {
	case BerthStep, BerthCancel, BerthInterpose:
		return true
	}
	return false
}

// validate enforces the fields every event carries. Berth events must also
// name their area and carry a positive timestamp.
func (e DecodedEvent) validate() error {
	if e.MessageType == "" {
		return errors.New("msg_type is missing")
	}
	if !e.IsBerth() {
		return nil
	}
	if e.AreaID == "" {
		return fmt.Errorf("%s event has no area_id", e.MessageType)
	}
	if e.TimestampMillis <= 0 {
		return fmt.Errorf("%s event has no time", e.MessageType)
	}
	return nil
}

// unwrapEnvelopes splits a body shaped as [{"KEY": {...}}, ...] into the inner values.
func unwrapEnvelopes(body []byte) ([]json.RawMessage, error) {
	var outer []map[string]json.RawMessage
	if err := json.Unmarshal(body, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	values := make([]json.RawMessage, 0, len(outer))
	for i, element := range outer {
		if len(element) != 1 {
			return nil, fmt.Errorf("%w: element %d has %d keys, want 1", ErrMalformedPayload, i, len(element))
		}
		for _, v := range element {
			values = append(values, v)
		}
	}
	return values, nil
}

// DecodeTD parses a TD frame body into its events, preserving order. One
// invalid event rejects the whole frame.
func DecodeTD(body []byte) ([]DecodedEvent, error) {
	values, err := unwrapEnvelopes(body)
	if err != nil {
		return nil, err
	}
	events := make([]DecodedEvent, 0, len(values))
	for i, raw := range values {
		var ev DecodedEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedPayload, i, err)
		}
		if err := ev.validate(); err != nil {
			return nil, fmt.Errorf("%w: element %d: %v", ErrMalformedPayload, i, err)
		}
		events = append(events, ev)
	}
	return events, nil
}
