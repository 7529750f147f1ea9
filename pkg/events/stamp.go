package events

import (
	"sync"
	"time"
)

// TimestampLayout is fixed-width (zero-padded nanoseconds, UTC) so that
// lexical comparison of two timestamps matches chronological order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// Now returns the current time as a wire timestamp.
func Now() string {
	return time.Now().UTC().Format(TimestampLayout)
}

// Stamper issues strictly increasing timestamps. Two events stamped in
// the same nanosecond (or by a clock that went backwards) get stamps one
// nanosecond apart, which keeps timestamps usable as unique keys within
// a thread.
type Stamper struct {
	mu   sync.Mutex
	last string
	now  func() time.Time
}

// NewStamper returns a Stamper backed by the wall clock.
func NewStamper() *Stamper {
	return &Stamper{now: time.Now}
}

// Next returns a timestamp strictly greater than every stamp this
// Stamper has issued or observed.
func (s *Stamper) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC().Format(TimestampLayout)
	if s.last != "" && ts <= s.last {
		ts = bump(s.last)
	}
	s.last = ts
	return ts
}

// Observe feeds an existing timestamp (e.g. from a replayed thread) so
// subsequent stamps stay ahead of it.
func (s *Stamper) Observe(ts string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts > s.last {
		s.last = ts
	}
}

// bump returns a timestamp one nanosecond after ts. Timestamps from
// other writers may use looser ISO-8601 forms; those fall back to
// RFC3339 parsing, and anything unparseable is extended with a suffix
// that still sorts after the original.
func bump(ts string) string {
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, ts)
	}
	if err != nil {
		return ts + "0"
	}
	return t.Add(time.Nanosecond).UTC().Format(TimestampLayout)
}
