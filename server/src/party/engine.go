package party

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
)

const (
	pauseAfterRecoveryWindow    = 2.0
	pauseAfterAutoResumeWindow  = 0.3
	pauseAfterPlayWindow        = 0.5
	pauseAfterBufferEndWindow   = 0.2
	pauseAfterBufferStartWindow = 0.5
	seekViaPauseThreshold       = 2.0
	seekDedupDelta              = 0.2
	seekDedupWindow             = 0.15
	bufferStartDedupWindow      = 0.3
	postSeekBufferGrace         = 1.0
	bufferSpamWindow            = 30.0
	bufferSpamLimit             = 3
	minBufferForAutoResume      = 2.0
	autoResumePauseAge          = 1.0
)

type EngineConfig struct {
	BarrierTimeout   time.Duration
	BufferPauseDelay time.Duration
	SendTimeout      time.Duration
	ReaperInterval   time.Duration

	HardDriftThreshold float64
	SoftDriftThreshold float64
	RateFast           float64
	RateSlow           float64
	SyncCooldown       float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BarrierTimeout:     8 * time.Second,
		BufferPauseDelay:   2 * time.Second,
		SendTimeout:        800 * time.Millisecond,
		ReaperInterval:     30 * time.Second,
		HardDriftThreshold: 3.0,
		SoftDriftThreshold: 0.5,
		RateFast:           1.03,
		RateSlow:           0.97,
		SyncCooldown:       3.0,
	}
}

// Engine owns every room. All room and user state is guarded by the single
// engine mutex; broadcasts and timer scheduling happen outside of it.
type Engine struct {
	mu    sync.Mutex
	rooms map[string]*Room

	cfg   EngineConfig
	now   func() float64
	after scheduleFunc
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.BarrierTimeout <= 0 {
		cfg.BarrierTimeout = 8 * time.Second
	}
	if cfg.BufferPauseDelay <= 0 {
		cfg.BufferPauseDelay = 2 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 800 * time.Millisecond
	}
	if cfg.ReaperInterval <= 0 {
		cfg.ReaperInterval = 30 * time.Second
	}
	if cfg.HardDriftThreshold <= 0 {
		cfg.HardDriftThreshold = 3.0
	}
	if cfg.SoftDriftThreshold <= 0 {
		cfg.SoftDriftThreshold = 0.5
	}
	if cfg.RateFast <= 0 {
		cfg.RateFast = 1.03
	}
	if cfg.RateSlow <= 0 {
		cfg.RateSlow = 0.97
	}
	if cfg.SyncCooldown <= 0 {
		cfg.SyncCooldown = 3.0
	}

	return &Engine{
		rooms: make(map[string]*Room),
		cfg:   cfg,
		now:   monotonicNow,
		after: scheduleAfter,
	}
}

type JoinResult struct {
	State  RoomState
	Joined UserJoined
}

// Join adds the user to the room, creating the room on first join. The first
// user becomes host. The returned State goes to the joiner, Joined to the
// rest of the room.
func (e *Engine) Join(roomID string, user *User) JoinResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	room, ok := e.rooms[roomID]
	if !ok {
		room = newRoom(roomID, now)
		e.rooms[roomID] = room
		metrics.RoomsActive.Inc()
		logger.Infow("room created", "room", roomID)
	}

	if len(room.Users) == 0 {
		user.IsHost = true
		room.HostID = user.UserID
	}
	room.Users[user.UserID] = user
	metrics.UsersConnected.Inc()

	users := room.userSnapshots()
	return JoinResult{
		State:  e.roomStateLocked(room, now),
		Joined: UserJoined{Username: user.Username, Avatar: user.Avatar, UserID: user.UserID, IsHost: user.IsHost, Users: users},
	}
}

type LeaveResult struct {
	Left        bool
	Username    string
	UserID      string
	Users       []UserSnapshot
	RoomRemoved bool

	// Set when removing the last waiting user completed an active barrier.
	BarrierDone bool
	BarrierSync Sync
}

func (e *Engine) Leave(roomID, userID string) LeaveResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leaveLocked(roomID, userID)
}

func (e *Engine) leaveLocked(roomID, userID string) LeaveResult {
	room, ok := e.rooms[roomID]
	if !ok {
		return LeaveResult{}
	}
	user, ok := room.Users[userID]
	if !ok {
		return LeaveResult{}
	}

	now := e.now()
	delete(room.Users, userID)
	metrics.UsersConnected.Dec()

	if user.delayedPauseTask != nil {
		user.delayedPauseTask.Stop()
		user.delayedPauseTask = nil
	}
	delete(room.BufferingUsers, userID)
	delete(room.LastBufferStart, userID)
	delete(room.LastBufferEnd, userID)

	result := LeaveResult{
		Left:     true,
		Username: user.Username,
		UserID:   user.UserID,
	}

	// A departing straggler may be the last one a barrier was waiting for.
	if room.SeekSyncActive {
		delete(room.WaitingUsers, userID)
		if len(room.WaitingUsers) == 0 {
			result.BarrierSync = e.completeBarrierLocked(room, now, "System (Seek Sync Complete)")
			result.BarrierDone = true
		}
	}

	if len(room.Users) == 0 {
		e.destroyRoomLocked(room)
		result.RoomRemoved = true
		return result
	}

	if room.HostID == userID {
		for _, next := range room.Users {
			next.IsHost = true
			room.HostID = next.UserID
			logger.Infow("host reassigned", "room", roomID, "host", next.Username)
			break
		}
	}

	result.Users = room.userSnapshots()
	return result
}

func (e *Engine) destroyRoomLocked(room *Room) {
	if room.barrierTask != nil {
		room.barrierTask.Stop()
		room.barrierTask = nil
	}
	room.cancelDelayedPauses()
	delete(e.rooms, room.RoomID)
	metrics.RoomsActive.Dec()
	logger.Infow("room destroyed", "room", room.RoomID)
}

// Play resumes playback from the paused position. Returns the sync to
// broadcast, or false when the request is a no-op.
func (e *Engine) Play(roomID, userID string) (Sync, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return Sync{}, false
	}
	if room.IsPlaying {
		return Sync{}, false
	}
	e.cancelBarrierLocked(room)

	now := e.now()
	t := room.CurrentTime
	room.setPlaying(t, now)
	room.LastPlayAt = now
	e.clearBufferingLocked(room)

	triggeredBy := ""
	if u, ok := room.Users[userID]; ok {
		triggeredBy = u.Username
	}
	return Sync{IsPlaying: true, CurrentTime: t, ForceSeek: false, TriggeredBy: triggeredBy}, true
}

type PauseVerdict int

const (
	PauseRejected PauseVerdict = iota
	PauseApplied
	PauseAsSeek
)

// RequestPause runs pause admission. A pause carrying a position far from the
// live position while playing is a seek expressed through the pause control
// and is escalated to a barrier instead.
func (e *Engine) RequestPause(roomID, userID string, reqTime *float64) (PauseVerdict, Sync) {
	e.mu.Lock()

	room, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return PauseRejected, Sync{}
	}

	now := e.now()
	live := room.liveTime(now)

	if reqTime != nil && room.IsPlaying && math.Abs(*reqTime-live) > seekViaPauseThreshold {
		target := *reqTime
		username := ""
		if u, ok := room.Users[userID]; ok {
			username = u.Username
		}
		e.mu.Unlock()
		sync, ok := e.BeginBarrier(roomID, PauseReasonSeek, target, username+" (Seek via Pause)")
		if !ok {
			return PauseRejected, Sync{}
		}
		return PauseAsSeek, sync
	}

	defer e.mu.Unlock()

	if !e.shouldAcceptPauseLocked(room, now) {
		logger.Debugw("pause rejected", "room", roomID, "reason", room.PauseReason)
		return PauseRejected, Sync{}
	}

	e.cancelBarrierLocked(room)

	t := live
	if reqTime != nil && !room.IsPlaying {
		t = *reqTime
	}
	room.setPaused(t, now, PauseReasonManual)
	room.LastPauseAt = now
	e.clearBufferingLocked(room)

	triggeredBy := ""
	if u, ok := room.Users[userID]; ok {
		triggeredBy = u.Username
	}
	return PauseApplied, Sync{IsPlaying: false, CurrentTime: t, ForceSeek: true, TriggeredBy: triggeredBy}
}

// cancelBarrierLocked tears down an active barrier without completing it. The
// epoch bump turns the pending timeout into a no-op.
func (e *Engine) cancelBarrierLocked(room *Room) {
	if !room.SeekSyncActive {
		return
	}
	room.SeekSyncActive = false
	room.WaitingUsers = make(map[string]struct{})
	room.SeekEpoch++
	if room.barrierTask != nil {
		room.barrierTask.Stop()
		room.barrierTask = nil
	}
}

// shouldAcceptPauseLocked suppresses pause echoes that player UIs emit right
// after the server itself changed playback state.
func (e *Engine) shouldAcceptPauseLocked(room *Room, now float64) bool {
	if !room.IsPlaying && room.PauseReason != PauseReasonBuffer && room.PauseReason != PauseReasonSeek {
		return false
	}
	if now-room.LastRecoveryAt < pauseAfterRecoveryWindow {
		return false
	}
	if now-room.LastAutoResumeAt < pauseAfterAutoResumeWindow {
		return false
	}
	if now-room.LastPlayAt < pauseAfterPlayWindow && now-room.LastAutoResumeAt < pauseAfterPlayWindow {
		return false
	}
	if last := room.maxBufferClock(room.LastBufferEnd); last > 0 && now-last < pauseAfterBufferEndWindow {
		return false
	}
	if last := room.maxBufferClock(room.LastBufferStart); last > 0 && now-last < pauseAfterBufferStartWindow {
		return false
	}
	return true
}

func (e *Engine) clearBufferingLocked(room *Room) {
	for id := range room.BufferingUsers {
		delete(room.BufferingUsers, id)
	}
	room.cancelDelayedPauses()
}

// VideoMeta is the resolved description of a stream a room switches to.
type VideoMeta struct {
	URL      string
	Title    string
	Format   string
	Duration float64
}

// UpdateVideo swaps the room onto a new video and resets all playback and
// coordination state. Every in-flight barrier and delayed pause becomes stale
// through the epoch bump.
func (e *Engine) UpdateVideo(roomID, changedBy string, change VideoChange, meta VideoMeta) (VideoChanged, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return VideoChanged{}, false
	}

	// The user's title wins over the extractor's.
	title := change.Title
	if title == "" {
		title = meta.Title
	}
	if title == "" {
		title = "Video"
	}

	now := e.now()
	room.VideoURL = meta.URL
	room.VideoTitle = title
	room.VideoFormat = meta.Format
	room.VideoDuration = meta.Duration
	room.SubtitleURL = change.SubtitleURL
	room.UserAgent = change.UserAgent
	room.Referer = change.Referer

	room.setPaused(0, now, PauseReasonNone)
	room.SeekEpoch++
	room.SeekSyncActive = false
	room.WaitingUsers = make(map[string]struct{})
	if room.barrierTask != nil {
		room.barrierTask.Stop()
		room.barrierTask = nil
	}
	e.clearBufferingLocked(room)
	room.LastBufferStart = make(map[string]float64)
	room.LastBufferEnd = make(map[string]float64)
	room.LastPlayAt = 0
	room.LastPauseAt = 0
	room.LastSeekAt = 0
	room.LastAutoResumeAt = 0
	room.LastRecoveryAt = 0
	for _, u := range room.Users {
		u.lastRateSent = 1.0
		u.stallCount = 0
		u.hasReportedTime = false
		u.hasEverBuffered = false
		u.bufferTriggers = nil
	}

	logger.Infow("video changed", "room", roomID, "title", title, "format", meta.Format, "by", changedBy)
	return VideoChanged{
		URL:         meta.URL,
		Title:       title,
		Format:      meta.Format,
		Duration:    meta.Duration,
		UserAgent:   change.UserAgent,
		Referer:     change.Referer,
		SubtitleURL: change.SubtitleURL,
		ChangedBy:   changedBy,
	}, true
}

// AppendChat records a chat message in the capped history and returns the
// broadcast payload.
func (e *Engine) AppendChat(roomID, userID, text string, replyTo map[string]interface{}) (ChatBroadcast, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return ChatBroadcast{}, false
	}
	user, ok := room.Users[userID]
	if !ok {
		return ChatBroadcast{}, false
	}

	msg := &ChatMessage{
		Username:  user.Username,
		Avatar:    user.Avatar,
		Message:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ReplyTo:   replyTo,
	}
	room.appendChat(msg)

	return ChatBroadcast{
		Username:  msg.Username,
		Avatar:    msg.Avatar,
		Message:   msg.Message,
		Timestamp: msg.Timestamp,
		ReplyTo:   msg.ReplyTo,
	}, true
}

// RoomSnapshot returns the state payload sent on get_state and join.
func (e *Engine) RoomSnapshot(roomID string) (RoomState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	room, ok := e.rooms[roomID]
	if !ok {
		return RoomState{}, false
	}
	return e.roomStateLocked(room, e.now()), true
}

func (e *Engine) roomStateLocked(room *Room, now float64) RoomState {
	// The log keeps more history than snapshots expose.
	recent := room.Chat
	if len(recent) > chatSnapshotLimit {
		recent = recent[len(recent)-chatSnapshotLimit:]
	}
	chat := make([]*ChatMessage, len(recent))
	copy(chat, recent)
	return RoomState{
		RoomID:        room.RoomID,
		VideoURL:      room.VideoURL,
		VideoTitle:    room.VideoTitle,
		VideoFormat:   room.VideoFormat,
		VideoDuration: room.VideoDuration,
		SubtitleURL:   room.SubtitleURL,
		UserAgent:     room.UserAgent,
		Referer:       room.Referer,
		CurrentTime:   room.liveTime(now),
		IsPlaying:     room.IsPlaying,
		HostID:        room.HostID,
		Users:         room.userSnapshots(),
		ChatMessages:  chat,
	}
}

// HasRoom reports whether a room currently exists.
func (e *Engine) HasRoom(roomID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.rooms[roomID]
	return ok
}

// StartReaper sweeps out users whose sends failed, so a wedged TCP peer does
// not linger in the user list until its read loop finally errors.
func (e *Engine) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.cfg.ReaperInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.reapFailedUsers()
			}
		}
	}()
}

func (e *Engine) reapFailedUsers() {
	type reaped struct {
		roomID string
		userID string
	}

	e.mu.Lock()
	var victims []reaped
	for roomID, room := range e.rooms {
		for userID, u := range room.Users {
			if _, failed := u.failedSince(); failed {
				victims = append(victims, reaped{roomID: roomID, userID: userID})
			}
		}
	}
	e.mu.Unlock()

	for _, v := range victims {
		logger.Warnw("removing unresponsive user", "room", v.roomID, "user", v.userID)
		result := e.Leave(v.roomID, v.userID)
		e.announceLeave(v.roomID, result)
	}
}

// announceLeave pushes the departure events produced by a Leave result.
func (e *Engine) announceLeave(roomID string, result LeaveResult) {
	if !result.Left || result.RoomRemoved {
		return
	}
	e.Broadcast(roomID, UserLeft{Username: result.Username, UserID: result.UserID, Users: result.Users}, "")
	if result.BarrierDone {
		e.Broadcast(roomID, result.BarrierSync, "")
	}
}
