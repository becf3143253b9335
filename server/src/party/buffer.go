package party

import (
	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
)

type BufferOutcome int

const (
	BufferDropped BufferOutcome = iota
	BufferRecorded
	BufferPauseScheduled
)

// BufferStart admits one user's stall report. Most reports only get recorded:
// the room pauses for a buffering user only when the stall outlives the grace
// delay, and never for the first stall a fresh player emits while priming its
// pipeline, nor right after a seek when everyone rebuffers anyway.
func (e *Engine) BufferStart(roomID, userID string) BufferOutcome {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return BufferDropped
	}
	user, ok := room.Users[userID]
	if !ok {
		return BufferDropped
	}

	now := e.now()
	if last, seen := room.LastBufferStart[userID]; seen && now-last < bufferStartDedupWindow {
		return BufferDropped
	}
	room.LastBufferStart[userID] = now
	user.lastBufferStart = now
	room.BufferingUsers[userID] = struct{}{}

	// Sliding spam window. A client flapping in and out of buffering must not
	// keep yanking the whole room into pauses.
	kept := user.bufferTriggers[:0]
	for _, t := range user.bufferTriggers {
		if now-t < bufferSpamWindow {
			kept = append(kept, t)
		}
	}
	user.bufferTriggers = append(kept, now)
	if len(user.bufferTriggers) > bufferSpamLimit {
		// Still cancel whatever the flapper already scheduled; suppression
		// must not leave a ghost pause behind.
		if user.delayedPauseTask != nil {
			user.delayedPauseTask.Stop()
			user.delayedPauseTask = nil
		}
		user.bufferEpoch++
		logger.Debugw("buffer spam suppressed", "room", roomID, "user", user.Username, "count", len(user.bufferTriggers))
		return BufferRecorded
	}

	if !user.hasEverBuffered {
		user.hasEverBuffered = true
		return BufferRecorded
	}
	if now-room.LastSeekAt < postSeekBufferGrace {
		return BufferRecorded
	}
	if !room.IsPlaying || room.SeekSyncActive {
		return BufferRecorded
	}

	if user.delayedPauseTask != nil {
		user.delayedPauseTask.Stop()
	}
	user.bufferEpoch++
	epoch := user.bufferEpoch
	user.delayedPauseTask = e.after(e.cfg.BufferPauseDelay, func() {
		e.applyBufferPause(roomID, userID, epoch)
	})
	return BufferPauseScheduled
}

// applyBufferPause fires when a scheduled stall outlived the grace delay. The
// epoch check drops tasks that a buffer_end, seek or video change already
// invalidated.
func (e *Engine) applyBufferPause(roomID, userID string, epoch int) {
	e.mu.Lock()

	room, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	user, ok := room.Users[userID]
	if !ok || epoch != user.bufferEpoch {
		e.mu.Unlock()
		return
	}
	user.delayedPauseTask = nil

	if _, buffering := room.BufferingUsers[userID]; !buffering || !room.IsPlaying || room.SeekSyncActive {
		e.mu.Unlock()
		return
	}

	now := e.now()
	t := room.liveTime(now)
	// LastPauseAt deliberately stays untouched: it gates auto-resume against
	// manual pauses only, and this pause is the one auto-resume undoes.
	room.setPaused(t, now, PauseReasonBuffer)
	username := user.Username
	e.mu.Unlock()

	metrics.BufferPauses.Inc()
	logger.Infow("paused for buffering user", "room", roomID, "user", username, "time", t)
	e.Broadcast(roomID, Sync{
		IsPlaying:   false,
		CurrentTime: t,
		ForceSeek:   true,
		TriggeredBy: username + " (Buffering...)",
	}, "")
}

// BufferEnd clears the user's stall and auto-resumes the room once nobody is
// buffering anymore. Blips shorter than the minimum stall never auto-resume;
// the room was not paused on their account.
func (e *Engine) BufferEnd(roomID, userID string) (Sync, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return Sync{}, false
	}
	user, ok := room.Users[userID]
	if !ok {
		return Sync{}, false
	}

	now := e.now()
	start, stalled := room.LastBufferStart[userID]
	delete(room.BufferingUsers, userID)
	room.LastBufferEnd[userID] = now
	user.lastBufferEnd = now

	if user.delayedPauseTask != nil {
		user.delayedPauseTask.Stop()
		user.delayedPauseTask = nil
	}
	user.bufferEpoch++

	if room.IsPlaying || room.PauseReason != PauseReasonBuffer {
		return Sync{}, false
	}
	if !stalled || now-start < minBufferForAutoResume {
		return Sync{}, false
	}
	if now-room.LastPauseAt < autoResumePauseAge {
		return Sync{}, false
	}
	if len(room.BufferingUsers) > 0 {
		return Sync{}, false
	}

	t := room.CurrentTime
	room.setPlaying(t, now)
	room.LastAutoResumeAt = now
	room.LastPlayAt = now

	logger.Infow("auto resume", "room", roomID, "time", t)
	return Sync{
		IsPlaying:   true,
		CurrentTime: t,
		ForceSeek:   false,
		TriggeredBy: "System (Auto Resume)",
	}, true
}
