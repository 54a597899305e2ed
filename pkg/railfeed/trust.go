package railfeed

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TRUST message types.
const (
	TrustActivation     = "0001"
	TrustCancellation   = "0002"
	TrustMovement       = "0003"
	TrustReinstatement  = "0005"
	TrustChangeOrigin   = "0006"
	TrustChangeIdentity = "0007"
	TrustChangeLocation = "0008"
)

var trustTypeNames = map[string]string{
	TrustActivation:     "activation",
	TrustCancellation:   "cancellation",
	TrustMovement:       "movement",
	TrustReinstatement:  "reinstatement",
	TrustChangeOrigin:   "change of origin",
	TrustChangeIdentity: "change of identity",
	TrustChangeLocation: "change of location",
}

// TrustHeader is the common header of a TRUST message.
type TrustHeader struct {
	MessageType  string      `json:"msg_type"`
	SourceSystem string      `json:"source_system_id"`
	QueuedAt     EpochMillis `json:"msg_queue_timestamp"`
}

// TrustBody carries the fields used for display. Absent fields stay empty.
type TrustBody struct {
	TrainID          string      `json:"train_id"`
	EventType        string      `json:"event_type"`
	LocStanox        string      `json:"loc_stanox"`
	Platform         string      `json:"platform"`
	ActualTimestamp  EpochMillis `json:"actual_timestamp"`
	PlannedTimestamp EpochMillis `json:"planned_timestamp"`
	VariationStatus  string      `json:"variation_status"`
	Variation        string      `json:"timetable_variation"`
	TocID            string      `json:"toc_id"`
	Terminated       string      `json:"train_terminated"`
}

// TrustEvent is one TRUST message from a frame body.
type TrustEvent struct {
	Header TrustHeader `json:"header"`
	Body   TrustBody   `json:"body"`
}

// DecodeTrust parses a TRUST frame body: a JSON array of header/body objects.
func DecodeTrust(body []byte) ([]TrustEvent, error) {
	var events []TrustEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return events, nil
}

// TrustProcessor renders TRUST events as display lines. The TRUST feed is not
// geo-filtered and nothing from it is persisted.
type TrustProcessor struct{}

// NewTrustProcessor returns a TrustProcessor.
func NewTrustProcessor() *TrustProcessor {
	return &TrustProcessor{}
}

// Process returns one line per event, in order.
func (p *TrustProcessor) Process(events []TrustEvent) []string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		lines = append(lines, formatTrust(ev))
	}
	return lines
}

func formatTrust(ev TrustEvent) string {
	b := ev.Body
	if ev.Header.MessageType != TrustMovement {
		name, ok := trustTypeNames[ev.Header.MessageType]
		if !ok {
			name = "unknown"
		}
		return fmt.Sprintf("[%s] %-10s %s", ev.Header.MessageType, b.TrainID, name)
	}

	ts := ""
	if b.ActualTimestamp != 0 {
		ts = LocalTime(b.ActualTimestamp).Format(DisplayTimeLayout)
	}
	status := strings.ToLower(b.VariationStatus)
	if b.Variation != "" && b.Variation != "0" && status != "on time" {
		status = fmt.Sprintf("%s %s min", status, b.Variation)
	}
	line := fmt.Sprintf("%s [%s] %-10s %-10s %-5s %s", ts, ev.Header.MessageType, b.TrainID, strings.ToLower(b.EventType), b.LocStanox, status)
	if b.Terminated == "true" {
		line += " (terminated)"
	}
	return line
}
