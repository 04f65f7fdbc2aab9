// Package commit coalesces many small tree mutations into periodic batched
// commits of the externally-visible transcript. The scheduler exists purely
// as a backpressure mechanism: it bounds commit frequency under arbitrarily
// bursty token arrival by trading at most one flush interval of latency for
// one commit per interval. The queue is fully drained every period, so it
// cannot grow unboundedly.
package commit

import (
	"sync"
	"time"

	"codeloom/internal/logging"
	"codeloom/internal/transcript"
)

// DefaultInterval is the fixed default flush period.
const DefaultInterval = 100 * time.Millisecond

// Transform is one pure tree mutation. Queued transforms compose
// left-to-right into a single commit.
type Transform func([]transcript.Entry) []transcript.Entry

// Snapshot is one committed view of the transcript handed to the sink.
// Stream-level failure is represented as data on the snapshot, never as a
// panic or an error return.
type Snapshot struct {
	Entries []transcript.Entry
	Err     string
	Done    bool
}

// Sink receives committed snapshots. Called from the scheduler's timer
// goroutine or from the caller's goroutine on explicit flushes.
type Sink func(Snapshot)

// Scheduler batches transcript transforms. It has two states: active (timer
// running, enqueues buffered) and disposed (writes apply immediately, no
// timer). All terminal operations are idempotent.
type Scheduler struct {
	mu       sync.Mutex
	entries  []transcript.Entry
	queue    []Transform
	sink     Sink
	err      string
	done     bool
	disposed bool

	interval time.Duration
	tick     <-chan time.Time // injectable tick source for tests
	ticker   *time.Ticker
	stop     chan struct{}
	stopOnce sync.Once
	log      *logging.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the default flush period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithTick injects an external tick source so tests can drive flushes
// deterministically instead of depending on real timers.
func WithTick(tick <-chan time.Time) Option {
	return func(s *Scheduler) { s.tick = tick }
}

// NewScheduler creates an active scheduler seeded with the given entries.
func NewScheduler(initial []transcript.Entry, sink Sink, opts ...Option) *Scheduler {
	s := &Scheduler{
		entries:  initial,
		sink:     sink,
		interval: DefaultInterval,
		stop:     make(chan struct{}),
		log:      logging.Get(logging.CategoryCommit),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tick == nil {
		s.ticker = time.NewTicker(s.interval)
		s.tick = s.ticker.C
	}
	go s.run()
	return s
}

func (s *Scheduler) run() {
	for {
		select {
		case <-s.tick:
			s.Flush()
		case <-s.stop:
			return
		}
	}
}

// Enqueue pushes a transform onto the ordered queue with no immediate
// effect. After disposal the transform is applied and committed immediately.
func (s *Scheduler) Enqueue(t Transform) {
	s.mu.Lock()
	if s.disposed {
		s.entries = t(s.entries)
		s.commitLocked()
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, t)
	s.mu.Unlock()
}

// Flush composes all queued transforms left-to-right into one function and
// performs exactly one external commit. No-op on an empty queue.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushLocked()
}

func (s *Scheduler) flushLocked() {
	if len(s.queue) == 0 {
		return
	}
	queued := s.queue
	s.queue = nil
	for _, t := range queued {
		s.entries = t(s.entries)
	}
	s.log.Debug("flushed %d transforms", len(queued))
	s.commitLocked()
}

func (s *Scheduler) commitLocked() {
	if s.sink == nil {
		return
	}
	s.sink(Snapshot{
		Entries: transcript.CloneEntries(s.entries),
		Err:     s.err,
		Done:    s.done,
	})
}

// MarkComplete flushes pending transforms, commits the terminal completion,
// and transitions to disposed. Safe to call more than once.
func (s *Scheduler) MarkComplete() {
	s.terminal(func() { s.done = true })
}

// SetError flushes pending transforms, commits the terminal error marker,
// and transitions to disposed. All already-produced content is preserved.
func (s *Scheduler) SetError(msg string) {
	s.terminal(func() { s.err = msg })
}

func (s *Scheduler) terminal(apply func()) {
	s.mu.Lock()
	s.flushLocked()
	apply()
	s.commitLocked()
	s.disposed = true
	s.mu.Unlock()
	s.stopTimer()
}

// DismissError clears a previously-set error marker and commits immediately,
// bypassing the queue even while active: error dismissal must never be
// delayed behind bulk streaming updates.
func (s *Scheduler) DismissError() {
	s.mu.Lock()
	s.err = ""
	s.commitLocked()
	s.mu.Unlock()
}

// Dispose stops the timer and switches to immediate-write mode. Idempotent:
// repeated disposal, or disposal after a terminal operation, is a safe no-op.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	s.flushLocked()
	s.disposed = true
	s.mu.Unlock()
	s.stopTimer()
}

func (s *Scheduler) stopTimer() {
	s.stopOnce.Do(func() {
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stop)
	})
}

// Entries returns a deep copy of the current committed transcript.
func (s *Scheduler) Entries() []transcript.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return transcript.CloneEntries(s.entries)
}

// Disposed reports whether the scheduler has reached its terminal state.
func (s *Scheduler) Disposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}
