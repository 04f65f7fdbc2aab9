package commit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"codeloom/internal/transcript"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// appendEntry returns a transform that appends one user entry.
func appendEntry(id string) Transform {
	return func(entries []transcript.Entry) []transcript.Entry {
		return append(entries, transcript.NewUserEntry(id, id))
	}
}

func entryIDs(entries []transcript.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

func TestEnqueueHasNoImmediateEffect(t *testing.T) {
	tick := make(chan time.Time)
	var commits int
	s := NewScheduler(nil, func(Snapshot) { commits++ }, WithTick(tick))
	defer s.Dispose()

	s.Enqueue(appendEntry("e1"))
	assert.Empty(t, s.Entries())
	assert.Zero(t, commits)
}

func TestBatchingDeterminism(t *testing.T) {
	tick := make(chan time.Time)

	var last Snapshot
	var commits int
	s := NewScheduler(nil, func(snap Snapshot) {
		last = snap
		commits++
	}, WithTick(tick))
	defer s.Dispose()

	s.Enqueue(appendEntry("t1"))
	s.Enqueue(appendEntry("t2"))
	s.Enqueue(appendEntry("t3"))
	s.Flush()

	// One commit, same result as applying T1, T2, T3 sequentially.
	assert.Equal(t, 1, commits)
	assert.Equal(t, []string{"t1", "t2", "t3"}, entryIDs(last.Entries))

	var sequential []transcript.Entry
	for _, tr := range []Transform{appendEntry("t1"), appendEntry("t2"), appendEntry("t3")} {
		sequential = tr(sequential)
	}
	assert.Equal(t, entryIDs(sequential), entryIDs(last.Entries))
}

func TestFlushOnEmptyQueueIsNoop(t *testing.T) {
	tick := make(chan time.Time)
	var commits int
	s := NewScheduler(nil, func(Snapshot) { commits++ }, WithTick(tick))
	defer s.Dispose()

	s.Flush()
	assert.Zero(t, commits)
}

func TestPeriodicFlushDrivenByTick(t *testing.T) {
	tick := make(chan time.Time)
	committed := make(chan Snapshot, 1)
	s := NewScheduler(nil, func(snap Snapshot) { committed <- snap }, WithTick(tick))
	defer s.Dispose()

	s.Enqueue(appendEntry("e1"))
	tick <- time.Now()

	select {
	case snap := <-committed:
		assert.Equal(t, []string{"e1"}, entryIDs(snap.Entries))
	case <-time.After(time.Second):
		t.Fatal("tick did not trigger a flush")
	}
}

func TestMarkCompleteFlushesThenCommitsTerminal(t *testing.T) {
	tick := make(chan time.Time)
	var snaps []Snapshot
	s := NewScheduler(nil, func(snap Snapshot) { snaps = append(snaps, snap) }, WithTick(tick))

	s.Enqueue(appendEntry("e1"))
	s.MarkComplete()

	require.Len(t, snaps, 2)
	assert.False(t, snaps[0].Done, "pending transforms commit before the terminal change")
	assert.True(t, snaps[1].Done)
	assert.Equal(t, []string{"e1"}, entryIDs(snaps[1].Entries))
	assert.True(t, s.Disposed())
}

func TestSetErrorPreservesContent(t *testing.T) {
	tick := make(chan time.Time)
	var last Snapshot
	s := NewScheduler(nil, func(snap Snapshot) { last = snap }, WithTick(tick))

	s.Enqueue(appendEntry("kept"))
	s.SetError("interrupted by user")

	assert.Equal(t, "interrupted by user", last.Err)
	assert.Equal(t, []string{"kept"}, entryIDs(last.Entries))
}

func TestDismissErrorBypassesQueue(t *testing.T) {
	tick := make(chan time.Time)
	var last Snapshot
	var commits int
	s := NewScheduler(nil, func(snap Snapshot) { last = snap; commits++ }, WithTick(tick))
	defer s.Dispose()

	s.Enqueue(appendEntry("queued"))
	s.DismissError()

	// Committed immediately without draining the queue.
	assert.Equal(t, 1, commits)
	assert.Empty(t, last.Entries)
	assert.Empty(t, last.Err)
}

func TestDisposeSafety(t *testing.T) {
	tick := make(chan time.Time)
	var commits int
	s := NewScheduler(nil, func(Snapshot) { commits++ }, WithTick(tick))

	s.Enqueue(appendEntry("e1"))
	s.MarkComplete()
	after := commits

	// Double dispose and dispose-after-terminal never panic and never
	// re-apply an already-applied commit.
	assert.NotPanics(t, func() {
		s.Dispose()
		s.Dispose()
		s.MarkComplete()
	})
	// MarkComplete after disposal re-commits the terminal state but must not
	// re-run queued transforms.
	assert.Equal(t, []string{"e1"}, entryIDs(s.Entries()))
	assert.GreaterOrEqual(t, commits, after)
}

func TestWritesApplyImmediatelyAfterDisposal(t *testing.T) {
	tick := make(chan time.Time)
	var last Snapshot
	s := NewScheduler(nil, func(snap Snapshot) { last = snap }, WithTick(tick))
	s.Dispose()

	s.Enqueue(appendEntry("late"))
	assert.Equal(t, []string{"late"}, entryIDs(last.Entries))
}

func TestDefaultTickerStopsOnDispose(t *testing.T) {
	// Real ticker path; goleak (TestMain) verifies the goroutine exits.
	s := NewScheduler(nil, func(Snapshot) {}, WithInterval(5*time.Millisecond))
	s.Enqueue(appendEntry("e1"))
	time.Sleep(20 * time.Millisecond)
	s.Dispose()
	assert.Equal(t, []string{"e1"}, entryIDs(s.Entries()))
}
