package pipeline

import (
	"fmt"
	"sync"
	"time"

	"github.com/roadside-data/perception/internal/perception"
	"github.com/roadside-data/perception/internal/timeutil"
)

// BufferedSink batches track states in memory and forwards them to the
// wrapped sink once enough states accumulate or the flush interval
// elapses. Cuts per-frame transaction overhead on slow storage while
// bounding how much history a crash can lose.
type BufferedSink struct {
	sink      PersistenceSink
	clock     timeutil.Clock
	interval  time.Duration
	maxStates int

	mu        sync.Mutex
	runID     string
	pending   []perception.TrackedState
	lastFlush time.Time
}

// NewBufferedSink wraps sink. A nil clock uses the wall clock. An
// interval <= 0 flushes on every call, which degenerates to the
// unbuffered behaviour.
func NewBufferedSink(sink PersistenceSink, clock timeutil.Clock, interval time.Duration, maxStates int) (*BufferedSink, error) {
	if isNilInterface(sink) {
		return nil, fmt.Errorf("buffered sink requires an underlying sink")
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if maxStates <= 0 {
		maxStates = 1024
	}
	return &BufferedSink{
		sink:      sink,
		clock:     clock,
		interval:  interval,
		maxStates: maxStates,
		lastFlush: clock.Now(),
	}, nil
}

// RecordStates buffers the frame. A change of run id forces the
// previous run's buffer out first so states never cross runs.
func (b *BufferedSink) RecordStates(runID string, states []perception.TrackedState) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.runID != "" && b.runID != runID {
		if err := b.flushLocked(); err != nil {
			return err
		}
	}
	b.runID = runID
	b.pending = append(b.pending, states...)

	if len(b.pending) >= b.maxStates || b.clock.Since(b.lastFlush) >= b.interval {
		return b.flushLocked()
	}
	return nil
}

// Flush forwards any buffered states immediately. Call before closing
// the underlying store.
func (b *BufferedSink) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

// Pending returns the number of buffered states, for monitoring.
func (b *BufferedSink) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *BufferedSink) flushLocked() error {
	b.lastFlush = b.clock.Now()
	if len(b.pending) == 0 {
		return nil
	}
	batch := b.pending
	b.pending = nil
	if err := b.sink.RecordStates(b.runID, batch); err != nil {
		return fmt.Errorf("flush %d buffered states: %w", len(batch), err)
	}
	return nil
}
