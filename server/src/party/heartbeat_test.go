package party

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func playingRoom(t *testing.T) (*Engine, *fakeClock, *User) {
	t.Helper()
	engine, clock, _ := newTestEngine()
	alice := joinUser(engine, "room", "a1", "alice")
	_, ok := engine.Play("room", "a1")
	require.True(t, ok)
	clock.advance(100)
	return engine, clock, alice
}

func heartbeatAt(e *Engine, u *User, clientTime float64) (Message, bool) {
	ct := clientTime
	return e.Heartbeat("room", u.UserID, &ct, false)
}

func TestHeartbeatInSyncSendsNothing(t *testing.T) {
	engine, _, alice := playingRoom(t)

	msg, ok := heartbeatAt(engine, alice, 100.1)
	require.False(t, ok)
	require.Nil(t, msg)
}

func TestHeartbeatSyncingFlagSkipsCorrection(t *testing.T) {
	engine, _, alice := playingRoom(t)

	ct := 1.0
	msg, ok := engine.Heartbeat("room", alice.UserID, &ct, true)
	require.False(t, ok)
	require.Nil(t, msg)
}

func TestHeartbeatHardSyncOnLargeDrift(t *testing.T) {
	engine, _, alice := playingRoom(t)

	msg, ok := heartbeatAt(engine, alice, 90)
	require.True(t, ok)
	sync, isSync := msg.(Sync)
	require.True(t, isSync)
	require.True(t, sync.ForceSeek)
	require.True(t, sync.IsPlaying)
	require.InDelta(t, 100.0, sync.CurrentTime, 1e-9)
	require.Equal(t, "System (Heartbeat Sync)", sync.TriggeredBy)
}

func TestHeartbeatHardSyncRespectsCooldown(t *testing.T) {
	engine, clock, alice := playingRoom(t)

	_, ok := heartbeatAt(engine, alice, 90)
	require.True(t, ok)

	clock.advance(1)
	_, ok = heartbeatAt(engine, alice, 80)
	require.False(t, ok)

	clock.advance(3)
	msg, ok := heartbeatAt(engine, alice, 80)
	require.True(t, ok)
	require.IsType(t, Sync{}, msg)
}

func TestHeartbeatStallDetection(t *testing.T) {
	engine, clock, alice := playingRoom(t)

	// The position stops moving while the room clock keeps going. The first
	// symptom is drift, answered with a rate nudge; once the stall is
	// confirmed and the cooldown passes, the correction escalates to a seek.
	_, ok := heartbeatAt(engine, alice, 100)
	require.False(t, ok)

	clock.advance(1)
	msg, ok := heartbeatAt(engine, alice, 100.01)
	require.True(t, ok)
	require.IsType(t, SyncCorrection{}, msg)

	clock.advance(1)
	_, ok = heartbeatAt(engine, alice, 100.02)
	require.False(t, ok)

	clock.advance(3)
	msg, ok = heartbeatAt(engine, alice, 100.03)
	require.True(t, ok)
	sync, isSync := msg.(Sync)
	require.True(t, isSync)
	require.True(t, sync.ForceSeek)
}

func TestHeartbeatSoftSyncRates(t *testing.T) {
	engine, clock, alice := playingRoom(t)

	// Client behind the room speeds up.
	msg, ok := heartbeatAt(engine, alice, 99)
	require.True(t, ok)
	correction, isCorrection := msg.(SyncCorrection)
	require.True(t, isCorrection)
	require.InDelta(t, 1.03, correction.Rate, 1e-9)

	// Once caught up, the rate renormalizes.
	clock.advance(4)
	msg, ok = heartbeatAt(engine, alice, 104.1)
	require.True(t, ok)
	correction = msg.(SyncCorrection)
	require.InDelta(t, 1.0, correction.Rate, 1e-9)

	// Client ahead of the room slows down.
	clock.advance(4)
	msg, ok = heartbeatAt(engine, alice, 109.5)
	require.True(t, ok)
	correction = msg.(SyncCorrection)
	require.InDelta(t, 0.97, correction.Rate, 1e-9)
}

func TestHeartbeatPausedRoomRenormalizesOnce(t *testing.T) {
	engine, clock, alice := playingRoom(t)

	msg, ok := heartbeatAt(engine, alice, 99)
	require.True(t, ok)
	require.IsType(t, SyncCorrection{}, msg)

	clock.advance(1)
	verdict, _ := engine.RequestPause("room", "a1", nil)
	require.Equal(t, PauseApplied, verdict)

	msg, ok = heartbeatAt(engine, alice, 99)
	require.True(t, ok)
	correction := msg.(SyncCorrection)
	require.InDelta(t, 1.0, correction.Rate, 1e-9)

	_, ok = heartbeatAt(engine, alice, 99)
	require.False(t, ok)
}

func TestHeartbeatSkippedDuringSeekBarrier(t *testing.T) {
	engine, _, alice := playingRoom(t)

	_, ok := engine.BeginBarrier("room", PauseReasonSeek, 10, "alice (Seek Sync)")
	require.True(t, ok)

	msg, ok := heartbeatAt(engine, alice, 500)
	require.False(t, ok)
	require.Nil(t, msg)
}

func TestHeartbeatVODEndGuard(t *testing.T) {
	engine, clock, _ := newTestEngine()
	alice := joinUser(engine, "room", "a1", "alice")
	engine.UpdateVideo("room", "alice", VideoChange{Title: "m"}, VideoMeta{URL: "http://x/v.mp4", Format: "mp4", Duration: 100})
	engine.Play("room", "a1")
	clock.advance(99.8)

	msg, ok := heartbeatAt(engine, alice, 50)
	require.False(t, ok)
	require.Nil(t, msg)
}
