package scheduler

import (
	"sync"
	"time"

	"github.com/duskmud/driver/heap"
)

// SlowThreshold is the duration above which an operation is kept for
// diagnostics.
const SlowThreshold = 50 * time.Millisecond

const slowOpCap = 64

type OpKind string

const (
	OpHeartbeat OpKind = "heartbeat"
	OpCallOut   OpKind = "callout"
	OpCommand   OpKind = "command"
)

// SlowOp is one operation that ran longer than SlowThreshold.
type SlowOp struct {
	Kind     OpKind
	Object   string
	Callback string
	Duration time.Duration
	At       time.Time
}

// Stats counts scheduler operations and keeps an index of the slowest
// ones seen.
type Stats struct {
	mu     sync.Mutex
	counts map[OpKind]uint64
	totals map[OpKind]time.Duration
	slow   *heap.Bounded[SlowOp]
}

func NewStats() *Stats {
	return &Stats{
		counts: map[OpKind]uint64{},
		totals: map[OpKind]time.Duration{},
		slow: heap.NewBounded(slowOpCap, func(a, b SlowOp) bool {
			return a.Duration < b.Duration
		}),
	}
}

func (s *Stats) Record(kind OpKind, object, callback string, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[kind]++
	s.totals[kind] += dur
	if dur >= SlowThreshold {
		s.slow.Push(SlowOp{
			Kind:     kind,
			Object:   object,
			Callback: callback,
			Duration: dur,
			At:       time.Now(),
		})
	}
}

// Count returns how many operations of kind have run.
func (s *Stats) Count(kind OpKind) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[kind]
}

// Average returns the mean duration for kind, zero if none ran.
func (s *Stats) Average(kind OpKind) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[kind] == 0 {
		return 0
	}
	return s.totals[kind] / time.Duration(s.counts[kind])
}

// Slowest returns the retained slow operations, slowest first.
func (s *Stats) Slowest() []SlowOp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slow.Sorted()
}
