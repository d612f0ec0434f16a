package orchestration

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// OperationRecord is the single in-flight engine operation supervised by the
// watchdog.
type OperationRecord struct {
	ID        uint64
	Name      string
	StartedAt time.Time
}

// watchdog detects tracked operations that outlive maxOperationTime and hands
// them to onStuck. It only compares timestamps; it never waits on the
// operation itself.
type watchdog struct {
	maxOperationTime  time.Duration
	heartbeatInterval time.Duration
	now               func() time.Time
	onStuck           func(record OperationRecord, elapsed time.Duration)

	mu      sync.Mutex
	current *OperationRecord
	lastID  uint64
}

func newWatchdog(maxOperationTime, heartbeatInterval time.Duration, onStuck func(OperationRecord, time.Duration)) *watchdog {
	if onStuck == nil {
		onStuck = func(OperationRecord, time.Duration) {}
	}
	return &watchdog{
		maxOperationTime:  maxOperationTime,
		heartbeatInterval: heartbeatInterval,
		now:               time.Now,
		onStuck:           onStuck,
	}
}

// Track registers name as the in-flight operation, replacing any previous
// record. The returned release clears the record and reports whether it was
// still in flight, i.e. false means the watchdog already declared it stuck.
// Only the first call to release has an effect.
func (w *watchdog) Track(name string) (release func() bool) {
	w.mu.Lock()
	w.lastID++
	record := OperationRecord{ID: w.lastID, Name: name, StartedAt: w.now()}
	w.current = &record
	w.mu.Unlock()

	var released atomic.Bool
	return func() bool {
		if released.Swap(true) {
			return false
		}
		return w.clear(record)
	}
}

func (w *watchdog) clear(record OperationRecord) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil || w.current.ID != record.ID || w.current.Name != record.Name {
		return false
	}
	w.current = nil
	return true
}

// Current returns the in-flight record, if any.
func (w *watchdog) Current() (OperationRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return OperationRecord{}, false
	}
	return *w.current, true
}

// Check declares the in-flight operation stuck if it has been running longer
// than maxOperationTime at now. The record is cleared under the same lock it
// is inspected with, so an operation tracked after the stale one is never
// touched.
func (w *watchdog) Check(now time.Time) bool {
	if w.maxOperationTime <= 0 {
		return false
	}

	w.mu.Lock()
	if w.current == nil {
		w.mu.Unlock()
		return false
	}
	elapsed := now.Sub(w.current.StartedAt)
	if elapsed <= w.maxOperationTime {
		w.mu.Unlock()
		return false
	}
	record := *w.current
	w.current = nil
	w.mu.Unlock()

	w.onStuck(record, elapsed)
	return true
}

// Run checks the in-flight operation on every heartbeat until ctx is done.
func (w *watchdog) Run(ctx context.Context) {
	if w.heartbeatInterval <= 0 || w.maxOperationTime <= 0 {
		return
	}

	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(w.now())
		}
	}
}
