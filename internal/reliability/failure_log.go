package reliability

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Failure records an operation that was given up on
type Failure struct {
	ID         string    `json:"id"`
	Op         string    `json:"op"`
	Target     string    `json:"target"`
	Subject    string    `json:"subject,omitempty"`
	Attempts   int       `json:"attempts"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurredAt"`
}

// FailureStats summarises the log
type FailureStats struct {
	Total    int64            `json:"total"`
	Retained int              `json:"retained"`
	ByOp     map[string]int64 `json:"byOp"`
	Last     *time.Time       `json:"last,omitempty"`
}

// FailureLog keeps the most recent failures in a fixed size ring.
// Older entries are overwritten; the total count keeps growing.
type FailureLog struct {
	mu      sync.RWMutex
	entries []Failure
	next    int
	full    bool
	total   int64
	byOp    map[string]int64
	now     func() time.Time
}

// FailureLogOption configures the FailureLog
type FailureLogOption func(*FailureLog)

// WithFailureClock sets the time source for OccurredAt
func WithFailureClock(now func() time.Time) FailureLogOption {
	return func(l *FailureLog) {
		l.now = now
	}
}

// NewFailureLog creates a failure log retaining up to capacity entries
func NewFailureLog(capacity int, options ...FailureLogOption) *FailureLog {
	if capacity < 1 {
		capacity = 100
	}

	l := &FailureLog{
		entries: make([]Failure, capacity),
		byOp:    make(map[string]int64),
		now:     time.Now,
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// Record stores a failure and returns its id
func (l *FailureLog) Record(f Failure) string {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.OccurredAt.IsZero() {
		f.OccurredAt = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[l.next] = f
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.total++
	l.byOp[f.Op]++

	return f.ID
}

// Get returns a retained failure by id
func (l *FailureLog) Get(id string) (Failure, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, f := range l.retained() {
		if f.ID == id {
			return f, nil
		}
	}
	return Failure{}, ErrFailureNotFound
}

// Recent returns up to limit failures, newest first
func (l *FailureLog) Recent(limit int) []Failure {
	l.mu.RLock()
	defer l.mu.RUnlock()

	all := l.retained()
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}

	out := make([]Failure, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out
}

// Stats returns a snapshot of the counters
func (l *FailureLog) Stats() FailureStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byOp := make(map[string]int64, len(l.byOp))
	for k, v := range l.byOp {
		byOp[k] = v
	}

	stats := FailureStats{
		Total:    l.total,
		Retained: len(l.retained()),
		ByOp:     byOp,
	}
	if all := l.retained(); len(all) > 0 {
		last := all[len(all)-1].OccurredAt
		stats.Last = &last
	}
	return stats
}

// retained returns entries oldest first. Callers hold the lock.
func (l *FailureLog) retained() []Failure {
	if !l.full {
		return l.entries[:l.next]
	}
	out := make([]Failure, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	out = append(out, l.entries[:l.next]...)
	return out
}
