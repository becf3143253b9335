package party

import (
	"math"

	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
)

// BeginBarrier starts an epoch-guarded seek barrier. Playback pauses at the
// target, every connected user must echo seek_ready with the new epoch, and
// the room resumes only if it was playing when the barrier began. A second
// barrier started mid-flight supersedes the first through the epoch bump.
func (e *Engine) BeginBarrier(roomID string, reason PauseReason, target float64, triggeredBy string) (Sync, bool) {
	e.mu.Lock()

	room, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return Sync{}, false
	}

	now := e.now()

	// Double-tap dedup: scrub bars fire the same position twice in a row.
	if math.Abs(target-room.SeekSyncTarget) < seekDedupDelta && now-room.LastSeekAt < seekDedupWindow {
		e.mu.Unlock()
		return Sync{}, false
	}

	if room.VideoDuration > 0 && room.VideoFormat != "hls" {
		limit := room.VideoDuration - 0.25
		if limit < 0 {
			limit = 0
		}
		if target > limit {
			target = limit
		}
	}
	if target < 0 {
		target = 0
	}

	wasPlaying := room.IsPlaying
	if room.PauseReason == PauseReasonSeek || room.PauseReason == PauseReasonResumeSync {
		wasPlaying = room.SeekSyncWasPlaying
	}

	e.clearBufferingLocked(room)

	room.SeekEpoch++
	epoch := room.SeekEpoch
	room.SeekSyncActive = true
	room.SeekSyncTarget = target
	room.SeekSyncWasPlaying = wasPlaying
	room.WaitingUsers = make(map[string]struct{}, len(room.Users))
	for id := range room.Users {
		room.WaitingUsers[id] = struct{}{}
	}

	room.setPaused(target, now, reason)
	room.LastSeekAt = now
	for _, u := range room.Users {
		u.lastRateSent = 1.0
		u.stallCount = 0
	}

	if room.barrierTask != nil {
		room.barrierTask.Stop()
	}
	room.barrierTask = e.after(e.cfg.BarrierTimeout, func() {
		e.barrierTimeout(roomID, epoch)
	})

	metrics.SeekBarriersStarted.Inc()
	logger.Debugw("seek barrier started", "room", roomID, "epoch", epoch, "target", target, "resume", wasPlaying)
	e.mu.Unlock()

	return Sync{
		IsPlaying:   false,
		CurrentTime: target,
		ForceSeek:   true,
		SeekSync:    true,
		SeekEpoch:   epoch,
		TriggeredBy: triggeredBy,
	}, true
}

// MarkBarrierReady records one user's seek_ready ack. Acks carrying a stale
// epoch are dropped. The returned Sync is the completion broadcast once the
// waiting set drains.
func (e *Engine) MarkBarrierReady(roomID, userID string, epoch int) (Sync, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return Sync{}, false
	}
	if !room.SeekSyncActive || epoch != room.SeekEpoch {
		return Sync{}, false
	}

	delete(room.WaitingUsers, userID)
	if len(room.WaitingUsers) > 0 {
		return Sync{}, false
	}

	return e.completeBarrierLocked(room, e.now(), "System (Seek Sync Complete)"), true
}

func (e *Engine) completeBarrierLocked(room *Room, now float64, triggeredBy string) Sync {
	room.SeekSyncActive = false
	room.WaitingUsers = make(map[string]struct{})
	// Invalidate a late timeout even if Stop lost the race.
	room.SeekEpoch++
	if room.barrierTask != nil {
		room.barrierTask.Stop()
		room.barrierTask = nil
	}

	target := room.SeekSyncTarget
	if room.SeekSyncWasPlaying {
		room.setPlaying(target, now)
		room.LastPlayAt = now
	} else {
		room.setPaused(target, now, PauseReasonManual)
	}
	room.LastRecoveryAt = now

	logger.Debugw("seek barrier done", "room", room.RoomID, "resumed", room.IsPlaying)
	return Sync{
		IsPlaying:   room.IsPlaying,
		CurrentTime: target,
		ForceSeek:   true,
		TriggeredBy: triggeredBy,
	}
}

func (e *Engine) barrierTimeout(roomID string, epoch int) {
	e.mu.Lock()
	room, ok := e.rooms[roomID]
	if !ok || !room.SeekSyncActive || epoch != room.SeekEpoch {
		e.mu.Unlock()
		return
	}

	stragglers := len(room.WaitingUsers)
	sync := e.completeBarrierLocked(room, e.now(), "System (Seek Sync Timeout)")
	e.mu.Unlock()

	metrics.SeekBarrierTimeouts.Inc()
	logger.Warnw("seek barrier timed out", "room", roomID, "epoch", epoch, "waiting", stragglers)
	e.Broadcast(roomID, sync, "")
}
