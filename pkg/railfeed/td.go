package railfeed

import (
	"fmt"
	"time"
	_ "time/tzdata" // the feed's home zone must resolve on hosts without a zoneinfo database
)

// HomeZone is the civil timezone the feed's events are rendered in.
const HomeZone = "Europe/London"

var london = mustLoadLocation(HomeZone)

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(fmt.Sprintf("railfeed: cannot load %s: %v", name, err))
	}
	return loc
}

// London returns the feed's home location.
func London() *time.Location {
	return london
}

// NormalizedRecord is a berth event that passed the filters, with its time
// converted to the feed's home zone. This is what is displayed and persisted.
type NormalizedRecord struct {
	LocalTimestamp time.Time `json:"timestamp" bigquery:"timestamp"`
	MessageType    string    `json:"message_type" bigquery:"message_type"`
	AreaID         string    `json:"area_id" bigquery:"area_id"`
	Description    string    `json:"description" bigquery:"description"`
	FromBerth      string    `json:"from_berth" bigquery:"from_berth"`
	ToBerth        string    `json:"to_berth" bigquery:"to_berth"`
}

// LocalTime converts broker epoch milliseconds to the feed's home zone.
func LocalTime(ms EpochMillis) time.Time {
	return time.UnixMilli(int64(ms)).In(london)
}

// TdProcessor filters berth events by type and area and normalizes them.
type TdProcessor struct {
	selection AreaSelection
}

// NewTdProcessor returns a processor bound to an immutable area selection.
func NewTdProcessor(selection AreaSelection) *TdProcessor {
	return &TdProcessor{selection: selection}
}

// Selection returns the processor's area selection.
func (p *TdProcessor) Selection() AreaSelection {
	return p.selection
}

// Process keeps step, cancel and interpose events inside the selection, in
// encounter order. Heartbeats and signalling messages never produce records.
func (p *TdProcessor) Process(events []DecodedEvent) []NormalizedRecord {
	var out []NormalizedRecord
	for _, ev := range events {
		if !ev.IsBerth() {
			continue
		}
		if !p.selection.Contains(ev.AreaID) {
			continue
		}
		out = append(out, NormalizedRecord{
			LocalTimestamp: LocalTime(ev.TimestampMillis),
			MessageType:    ev.MessageType,
			AreaID:         ev.AreaID,
			Description:    ev.Description,
			FromBerth:      ev.FromBerth,
			ToBerth:        ev.ToBerth,
		})
	}
	return out
}
