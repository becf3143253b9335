package party

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// primeBuffered gets a user past the first-stall exemption so later stalls
// can schedule pauses.
func primeBuffered(t *testing.T, engine *Engine, clock *fakeClock, roomID, userID string) {
	t.Helper()
	require.Equal(t, BufferRecorded, engine.BufferStart(roomID, userID))
	clock.advance(3)
	engine.BufferEnd(roomID, userID)
	clock.advance(3)
}

func TestFirstBufferStartOnlyRecords(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	engine.Play("room", "a1")
	clock.advance(10)

	outcome := engine.BufferStart("room", "a1")
	require.Equal(t, BufferRecorded, outcome)
	require.Empty(t, scheduler.tasks)

	state, _ := engine.RoomSnapshot("room")
	require.True(t, state.IsPlaying)
}

func TestBufferStartDedupWindow(t *testing.T) {
	engine, clock, _ := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	engine.Play("room", "a1")
	clock.advance(10)

	require.Equal(t, BufferRecorded, engine.BufferStart("room", "a1"))
	clock.advance(0.1)
	require.Equal(t, BufferDropped, engine.BufferStart("room", "a1"))
}

func TestBufferStartAfterSeekOnlyRecords(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)
	barrier, _ := engine.BeginBarrier("room", PauseReasonSeek, 100, "alice (Seek Sync)")
	engine.MarkBarrierReady("room", "a1", barrier.SeekEpoch)

	clock.advance(0.5)
	scheduler.tasks = nil
	require.Equal(t, BufferRecorded, engine.BufferStart("room", "a1"))
	require.Empty(t, scheduler.tasks)
}

func TestDelayedBufferPauseFires(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	conn := &recordSender{}
	alice := NewUser("a1", "alice", "🙂", conn)
	engine.Join("room", alice)
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)

	require.Equal(t, BufferPauseScheduled, engine.BufferStart("room", "a1"))
	clock.advance(2)
	scheduler.firePending()

	state, _ := engine.RoomSnapshot("room")
	require.False(t, state.IsPlaying)
	require.InDelta(t, 12.0, state.CurrentTime, 1e-9)

	frames := conn.decoded(t)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	require.Equal(t, "sync", last["type"])
	require.Equal(t, true, last["force_seek"])
	require.Equal(t, "alice (Buffering...)", last["triggered_by"])
}

func TestBufferEndCancelsScheduledPause(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)

	require.Equal(t, BufferPauseScheduled, engine.BufferStart("room", "a1"))
	clock.advance(1)
	engine.BufferEnd("room", "a1")

	clock.advance(5)
	scheduler.firePending()

	state, _ := engine.RoomSnapshot("room")
	require.True(t, state.IsPlaying)
}

func TestAutoResumeAfterLongStall(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)

	require.Equal(t, BufferPauseScheduled, engine.BufferStart("room", "a1"))
	clock.advance(2)
	scheduler.firePending()

	state, _ := engine.RoomSnapshot("room")
	require.False(t, state.IsPlaying)

	clock.advance(3)
	sync, resumed := engine.BufferEnd("room", "a1")
	require.True(t, resumed)
	require.True(t, sync.IsPlaying)
	require.Equal(t, "System (Auto Resume)", sync.TriggeredBy)

	state, _ = engine.RoomSnapshot("room")
	require.True(t, state.IsPlaying)
}

func TestAutoResumeShortlyAfterBufferPause(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)

	require.Equal(t, BufferPauseScheduled, engine.BufferStart("room", "a1"))
	clock.advance(2)
	scheduler.firePending()

	// Recovery right after the grace pause lands resumes immediately; the
	// manual-pause debounce does not apply to the pause the stall caused.
	clock.advance(0.5)
	sync, resumed := engine.BufferEnd("room", "a1")
	require.True(t, resumed)
	require.True(t, sync.IsPlaying)
}

func TestNoAutoResumeAfterManualPause(t *testing.T) {
	engine, clock, _ := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)

	engine.BufferStart("room", "a1")
	clock.advance(3)
	verdict, _ := engine.RequestPause("room", "a1", nil)
	require.Equal(t, PauseApplied, verdict)

	_, resumed := engine.BufferEnd("room", "a1")
	require.False(t, resumed)
}

func TestNoAutoResumeForShortBlip(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	joinUser(engine, "room", "b2", "bob")
	primeBuffered(t, engine, clock, "room", "a1")
	primeBuffered(t, engine, clock, "room", "b2")

	engine.Play("room", "a1")
	clock.advance(10)

	engine.BufferStart("room", "a1")
	clock.advance(2)
	scheduler.firePending()

	// Bob blips in and out of buffering while the room is paused for alice.
	// His short stall must not resume the room.
	engine.BufferStart("room", "b2")
	clock.advance(0.5)
	_, resumed := engine.BufferEnd("room", "b2")
	require.False(t, resumed)
}

func TestNoAutoResumeWhileOthersStillBuffering(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	joinUser(engine, "room", "b2", "bob")
	primeBuffered(t, engine, clock, "room", "a1")
	primeBuffered(t, engine, clock, "room", "b2")

	engine.Play("room", "a1")
	clock.advance(10)

	engine.BufferStart("room", "a1")
	clock.advance(0.5)
	engine.BufferStart("room", "b2")
	clock.advance(1.5)
	scheduler.firePending()

	state, _ := engine.RoomSnapshot("room")
	require.False(t, state.IsPlaying)

	clock.advance(3)
	_, resumed := engine.BufferEnd("room", "a1")
	require.False(t, resumed)

	sync, resumed := engine.BufferEnd("room", "b2")
	require.True(t, resumed)
	require.True(t, sync.IsPlaying)
}

func TestBufferSpamSuppressed(t *testing.T) {
	engine, clock, scheduler := newTestEngine()
	joinUser(engine, "room", "a1", "alice")
	primeBuffered(t, engine, clock, "room", "a1")

	engine.Play("room", "a1")
	clock.advance(10)

	// The priming stall already burned one trigger; a flapping client burns
	// through the rest of the budget.
	require.Equal(t, BufferPauseScheduled, engine.BufferStart("room", "a1"))
	clock.advance(1)
	engine.BufferEnd("room", "a1")
	clock.advance(2)
	require.Equal(t, BufferPauseScheduled, engine.BufferStart("room", "a1"))
	clock.advance(1)
	engine.BufferEnd("room", "a1")
	clock.advance(2)

	scheduler.tasks = nil
	require.Equal(t, BufferRecorded, engine.BufferStart("room", "a1"))
	require.Empty(t, scheduler.tasks)
}
