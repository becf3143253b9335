package party

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// PauseReason records why playback last stopped. The empty value means the
// room has never paused or was resumed normally.
type PauseReason string

const (
	PauseReasonNone       PauseReason = ""
	PauseReasonManual     PauseReason = "manual"
	PauseReasonBuffer     PauseReason = "buffer"
	PauseReasonSeek       PauseReason = "seek"
	PauseReasonResumeSync PauseReason = "resume_sync"
)

// Sender pushes an already encoded frame to one client. Implementations must
// be safe for use from a single goroutine at a time; User serializes access
// through sendMu.
type Sender interface {
	Send(ctx context.Context, data []byte) error
}

type User struct {
	UserID   string
	Username string
	Avatar   string
	IsHost   bool

	conn   Sender
	sendMu sync.Mutex

	// Drift bookkeeping, guarded by the engine mutex.
	lastRateSent     float64
	lastSyncSentAt   float64
	lastClientTime   float64
	stallCount       int
	hasReportedTime  bool
	lastBufferStart  float64
	lastBufferEnd    float64
	bufferTriggers   []float64
	hasEverBuffered  bool
	delayedPauseTask taskHandle
	bufferEpoch      int

	// Float64 bits of the monotonic second a send last failed, 0 when healthy.
	failedAt atomic.Uint64
}

func NewUser(id, username, avatar string, conn Sender) *User {
	return &User{
		UserID:       id,
		Username:     username,
		Avatar:       avatar,
		conn:         conn,
		lastRateSent: 1.0,
	}
}

// SendEncoded writes one frame with a bounded wait. A timeout or write error
// stamps the user as failed; the reaper removes failed users later instead of
// the send path blocking the whole room.
func (u *User) SendEncoded(data []byte, timeout time.Duration, now float64) error {
	u.sendMu.Lock()
	defer u.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := u.conn.Send(ctx, data); err != nil {
		u.failedAt.Store(math.Float64bits(now))
		return err
	}

	u.failedAt.Store(0)
	return nil
}

func (u *User) failedSince() (float64, bool) {
	bits := u.failedAt.Load()
	if bits == 0 {
		return 0, false
	}
	return math.Float64frombits(bits), true
}

func (u *User) snapshot() UserSnapshot {
	return UserSnapshot{
		UserID:   u.UserID,
		Username: u.Username,
		Avatar:   u.Avatar,
		IsHost:   u.IsHost,
	}
}

type ChatMessage struct {
	Username  string                 `json:"username"`
	Avatar    string                 `json:"avatar"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	ReplyTo   map[string]interface{} `json:"reply_to,omitempty"`
}

const (
	chatHistoryLimit  = 100
	chatSnapshotLimit = 50
)

type Room struct {
	RoomID string

	VideoURL      string
	VideoTitle    string
	VideoFormat   string
	VideoDuration float64
	SubtitleURL   string
	UserAgent     string
	Referer       string

	// Authoritative playback tuple. CurrentTime is the position at UpdatedAt;
	// the live position while playing is CurrentTime + (now - UpdatedAt).
	IsPlaying   bool
	CurrentTime float64
	UpdatedAt   float64
	PauseReason PauseReason

	HostID string
	Users  map[string]*User
	Chat   []*ChatMessage

	// Barrier state. Epoch increments on every barrier start and on video
	// change; tasks and seek_ready acks carrying a stale epoch are ignored.
	SeekEpoch          int
	SeekSyncActive     bool
	SeekSyncTarget     float64
	SeekSyncWasPlaying bool
	WaitingUsers       map[string]struct{}
	barrierTask        taskHandle

	BufferingUsers map[string]struct{}

	// Debounce clocks, all monotonic seconds.
	LastSeekAt       float64
	LastPauseAt      float64
	LastPlayAt       float64
	LastAutoResumeAt float64
	LastRecoveryAt   float64
	LastBufferStart  map[string]float64
	LastBufferEnd    map[string]float64

	CreatedAt float64
}

func newRoom(roomID string, now float64) *Room {
	return &Room{
		RoomID:          roomID,
		Users:           make(map[string]*User),
		WaitingUsers:    make(map[string]struct{}),
		BufferingUsers:  make(map[string]struct{}),
		LastBufferStart: make(map[string]float64),
		LastBufferEnd:   make(map[string]float64),
		UpdatedAt:       now,
		CreatedAt:       now,
	}
}

// liveTime computes the current playback position, clamped to slightly before
// the end for finite VOD content so a drift correction never seeks past EOF.
func (r *Room) liveTime(now float64) float64 {
	t := r.CurrentTime
	if r.IsPlaying {
		t += now - r.UpdatedAt
	}
	if r.VideoDuration > 0 && r.VideoFormat != "hls" {
		limit := r.VideoDuration - 0.25
		if limit < 0 {
			limit = 0
		}
		if t > limit {
			t = limit
		}
	}
	if t < 0 {
		t = 0
	}
	return t
}

func (r *Room) setPlaying(t, now float64) {
	r.IsPlaying = true
	r.CurrentTime = t
	r.UpdatedAt = now
	r.PauseReason = PauseReasonNone
}

func (r *Room) setPaused(t, now float64, reason PauseReason) {
	r.IsPlaying = false
	r.CurrentTime = t
	r.UpdatedAt = now
	r.PauseReason = reason
}

func (r *Room) userSnapshots() []UserSnapshot {
	users := make([]UserSnapshot, 0, len(r.Users))
	for _, u := range r.Users {
		users = append(users, u.snapshot())
	}
	return users
}

func (r *Room) appendChat(msg *ChatMessage) {
	r.Chat = append(r.Chat, msg)
	if len(r.Chat) > chatHistoryLimit {
		r.Chat = r.Chat[len(r.Chat)-chatHistoryLimit:]
	}
}

func (r *Room) maxBufferClock(m map[string]float64) float64 {
	max := 0.0
	for _, t := range m {
		if t > max {
			max = t
		}
	}
	return max
}

// cancelDelayedPauses stops every pending per-user buffer pause and bumps the
// per-user epochs so in-flight tasks see themselves stale.
func (r *Room) cancelDelayedPauses() {
	for _, u := range r.Users {
		if u.delayedPauseTask != nil {
			u.delayedPauseTask.Stop()
			u.delayedPauseTask = nil
		}
		u.bufferEpoch++
	}
}
