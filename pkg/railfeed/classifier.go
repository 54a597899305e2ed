package railfeed

import "strings"

// Category selects the processor for a frame.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryTD
	CategoryTrust
)

func (c Category) String() string {
	switch c {
	case CategoryTD:
		return "td"
	case CategoryTrust:
		return "trust"
	default:
		return "unknown"
	}
}

// Classify maps a frame destination to its category. TRUST is checked first.
func Classify(destination string) Category {
	switch {
	case strings.Contains(destination, "TRAIN_MVT_"):
		return CategoryTrust
	case strings.Contains(destination, "TD_"):
		return CategoryTD
	default:
		return CategoryUnknown
	}
}
