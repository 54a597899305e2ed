package railfeed

import "fmt"

// DisplayTimeLayout is the timestamp layout of every display line.
const DisplayTimeLayout = "2006-01-02 15:04:05"

// FormatRecord renders a record as `YYYY-MM-DD HH:MM:SS [MT] AA DESCR FROM->TO`.
func FormatRecord(rec NormalizedRecord) string {
	return fmt.Sprintf("%s [%-2s] %-2s %-4s %5s->%-5s",
		rec.LocalTimestamp.Format(DisplayTimeLayout),
		rec.MessageType,
		rec.AreaID,
		rec.Description,
		rec.FromBerth,
		rec.ToBerth,
	)
}
