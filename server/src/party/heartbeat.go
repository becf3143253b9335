package party

import (
	"math"

	"github.com/beraber/beraber/server/src/metrics"
)

const (
	stallEpsilon      = 0.05
	stallCountTrigger = 2
	vodEndGuard       = 0.5
)

// Heartbeat folds one ping into the drift controller and returns the
// correction to send back, if any. Hard corrections force a seek; soft ones
// nudge the playback rate and renormalize once the client catches up.
func (e *Engine) Heartbeat(roomID, userID string, clientTime *float64, syncing bool) (Message, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return nil, false
	}
	user, ok := room.Users[userID]
	if !ok {
		return nil, false
	}

	// A client mid-seek reports garbage positions. Skip the math entirely.
	if syncing || room.SeekSyncActive || room.PauseReason == PauseReasonSeek {
		user.stallCount = 0
		return nil, false
	}

	if !room.IsPlaying {
		if user.lastRateSent != 1.0 {
			user.lastRateSent = 1.0
			return SyncCorrection{Rate: 1.0}, true
		}
		return nil, false
	}

	if clientTime == nil {
		return nil, false
	}

	now := e.now()
	serverTime := room.liveTime(now)

	// Near the end of finite content the positions collapse onto the clamp
	// and every client looks ahead or stalled. Let it coast out.
	if room.VideoDuration > 0 && room.VideoFormat != "hls" && serverTime > room.VideoDuration-vodEndGuard {
		return nil, false
	}

	ct := *clientTime
	if user.hasReportedTime && math.Abs(ct-user.lastClientTime) < stallEpsilon {
		user.stallCount++
	} else {
		user.stallCount = 0
	}
	user.lastClientTime = ct
	user.hasReportedTime = true

	// Right after a seek everyone is repositioning; drift is meaningless.
	if now-room.LastSeekAt < postSeekBufferGrace {
		user.stallCount = 0
		return nil, false
	}

	drift := serverTime - ct
	stallSuspected := user.stallCount >= stallCountTrigger

	if (stallSuspected || math.Abs(drift) > e.cfg.HardDriftThreshold) && now-user.lastSyncSentAt > e.cfg.SyncCooldown {
		user.lastSyncSentAt = now
		user.lastRateSent = 1.0
		user.stallCount = 0
		room.LastRecoveryAt = now
		room.LastAutoResumeAt = now
		metrics.HardSyncs.Inc()
		return Sync{
			IsPlaying:   true,
			CurrentTime: serverTime,
			ForceSeek:   true,
			TriggeredBy: "System (Heartbeat Sync)",
		}, true
	}

	if math.Abs(drift) > e.cfg.SoftDriftThreshold && math.Abs(drift) <= e.cfg.HardDriftThreshold &&
		!stallSuspected && now-user.lastSyncSentAt > e.cfg.SyncCooldown {
		rate := e.cfg.RateSlow
		if drift > 0 {
			rate = e.cfg.RateFast
		}
		if rate != user.lastRateSent {
			user.lastRateSent = rate
			user.lastSyncSentAt = now
			metrics.SoftSyncs.Inc()
			return SyncCorrection{Rate: rate}, true
		}
		return nil, false
	}

	if math.Abs(drift) <= e.cfg.SoftDriftThreshold && user.lastRateSent != 1.0 {
		user.lastRateSent = 1.0
		return SyncCorrection{Rate: 1.0}, true
	}

	return nil, false
}
