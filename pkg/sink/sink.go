// Package sink delivers normalized berth records to the console and to the
// configured persistent stores.
package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/illmade-knight/go-railfeed/pkg/railfeed"
)

// RecordSink receives the records produced from one frame.
type RecordSink interface {
	Deliver(ctx context.Context, recs []railfeed.NormalizedRecord) error
}

// PersistentSink is a named store that Fanout writes to after display.
type PersistentSink interface {
	RecordSink
	Name() string
	io.Closer
}

// StorageError reports a failed write to one persistent sink.
type StorageError struct {
	Sink string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Sink, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Console prints each record as one fixed-column line.
type Console struct {
	mu  sync.Mutex
	out io.Writer
}

// NewConsole writes to out, normally os.Stdout.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Deliver prints the records in order.
func (c *Console) Deliver(_ context.Context, recs []railfeed.NormalizedRecord) error {
	lines := make([]string, len(recs))
	for i, rec := range recs {
		lines[i] = railfeed.FormatRecord(rec)
	}
	return c.PrintLines(lines)
}

// PrintLines prints preformatted lines such as TRUST movement summaries.
func (c *Console) PrintLines(lines []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range lines {
		if _, err := fmt.Fprintln(c.out, line); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
	}
	return nil
}
