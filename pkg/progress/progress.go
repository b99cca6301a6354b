// Package progress defines the byte-counter sink the pull engine reports
// into, kept separate from both pkg/pull and pkg/transport so that either
// can depend on it without the two depending on each other.
package progress

// Sink receives a running byte count for one blob as it downloads (spec §4.G.5).
type Sink interface {
	Progress(blobName string, current, total int64)
}

// Nop discards progress reports.
type Nop struct{}

func (Nop) Progress(string, int64, int64) {}
