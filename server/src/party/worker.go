package party

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
)

const (
	// MaxPayloadBytes caps a single inbound frame. Oversized frames get an
	// error reply instead of a close so a fat chat paste does not kick the
	// user out of the room.
	MaxPayloadBytes = 512 * 1024

	maxChatLength  = 2000
	resolveTimeout = 25 * time.Second
	defaultAvatar  = "👤"
	userIDLength   = 8
	guestSuffixLen = 4
)

// VideoResolver turns a page or stream URL into playable stream metadata.
type VideoResolver interface {
	Resolve(ctx context.Context, url, userAgent, referer string) (VideoMeta, error)
}

// WebSocketReaderWriter is the transport a Worker reads frames from and
// writes frames to.
type WebSocketReaderWriter interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, data []byte) error
	Close() error
}

// Worker owns one websocket connection for its whole lifetime: it reads
// frames, admits them through the rate limiter and the join gate, and
// dispatches them into the engine. Everything here runs on the single read
// loop goroutine except video resolution, which is slow and goes background.
type Worker struct {
	engine   *Engine
	resolver VideoResolver
	rw       WebSocketReaderWriter
	roomID   string
	proxyURL string

	user    *User
	limiter *messageLimiter
}

func NewWorker(engine *Engine, resolver VideoResolver, rw WebSocketReaderWriter, roomID, proxyURL string) *Worker {
	return &Worker{
		engine:   engine,
		resolver: resolver,
		rw:       rw,
		roomID:   roomID,
		proxyURL: proxyURL,
		limiter:  newMessageLimiter(engine.now),
	}
}

func (w *Worker) Start(ctx context.Context) {
	defer w.cleanup()

	for {
		data, err := w.rw.ReadMessage(ctx)
		if err != nil {
			logger.Debugw("read loop closed", "room", w.roomID, "error", err)
			return
		}
		w.handleData(ctx, data)
	}
}

func (w *Worker) cleanup() {
	w.rw.Close()
	if w.user == nil {
		return
	}
	result := w.engine.Leave(w.roomID, w.user.UserID)
	w.engine.announceLeave(w.roomID, result)
	logger.Infow("user left", "room", w.roomID, "user", w.user.Username)
}

func (w *Worker) handleData(ctx context.Context, data []byte) {
	if len(data) > MaxPayloadBytes {
		w.replyError(ctx, "message too large")
		return
	}

	msg, err := UnmarshalMessage(data)
	if err != nil {
		w.replyError(ctx, "invalid message")
		return
	}

	switch w.limiter.admit(msg.Type()) {
	case limitDropSilent:
		return
	case limitReject:
		w.replyError(ctx, "rate limit exceeded")
		return
	}

	metrics.MessagesReceived.WithLabelValues(string(msg.Type())).Inc()

	if w.user == nil {
		// Anything else before join is dropped without a reply.
		switch m := msg.(type) {
		case *Join:
			w.handleJoin(ctx, m)
		case *Ping:
			w.reply(ctx, Pong{PingID: m.PingID})
		case *GetState:
			w.handleGetState(ctx)
		}
		return
	}

	switch m := msg.(type) {
	case *Join:
		// Already in the room.
	case *Play:
		w.handlePlay()
	case *Pause:
		w.handlePause(m)
	case *Seek:
		w.handleSeek(m)
	case *SeekReady:
		w.handleSeekReady(m)
	case *BufferStart:
		w.engine.BufferStart(w.roomID, w.user.UserID)
	case *BufferEnd:
		w.handleBufferEnd()
	case *Chat:
		w.handleChat(ctx, m)
	case *Typing:
		w.engine.Broadcast(w.roomID, Typing{Username: w.user.Username}, w.user.UserID)
	case *VideoChange:
		w.handleVideoChange(ctx, m)
	case *Ping:
		w.handlePing(m)
	case *GetState:
		w.handleGetState(ctx)
	default:
		// Unknown types drop silently.
	}
}

func (w *Worker) handleJoin(ctx context.Context, m *Join) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:userIDLength]

	username := strings.TrimSpace(m.Username)
	if username == "" {
		username = "Guest-" + id[:guestSuffixLen]
	}
	avatar := m.Avatar
	if avatar == "" {
		avatar = defaultAvatar
	}

	w.user = NewUser(id, username, avatar, w.rw)
	result := w.engine.Join(w.roomID, w.user)

	state := result.State
	state.ProxyURL = w.proxyURL
	w.reply(ctx, state)

	w.engine.Broadcast(w.roomID, result.Joined, w.user.UserID)
	logger.Infow("user joined", "room", w.roomID, "user", username, "host", result.Joined.IsHost)
}

func (w *Worker) handlePlay() {
	if sync, ok := w.engine.Play(w.roomID, w.user.UserID); ok {
		w.engine.Broadcast(w.roomID, sync, "")
	}
}

func (w *Worker) handlePause(m *Pause) {
	verdict, sync := w.engine.RequestPause(w.roomID, w.user.UserID, m.Time)
	if verdict != PauseRejected {
		w.engine.Broadcast(w.roomID, sync, "")
	}
}

func (w *Worker) handleSeek(m *Seek) {
	sync, ok := w.engine.BeginBarrier(w.roomID, PauseReasonSeek, m.Time, w.user.Username+" (Seek Sync)")
	if ok {
		w.engine.Broadcast(w.roomID, sync, "")
	}
}

func (w *Worker) handleSeekReady(m *SeekReady) {
	if sync, ok := w.engine.MarkBarrierReady(w.roomID, w.user.UserID, m.SeekEpoch); ok {
		w.engine.Broadcast(w.roomID, sync, "")
	}
}

func (w *Worker) handleBufferEnd() {
	if sync, ok := w.engine.BufferEnd(w.roomID, w.user.UserID); ok {
		w.engine.Broadcast(w.roomID, sync, "")
	}
}

func (w *Worker) handleChat(ctx context.Context, m *Chat) {
	text := strings.TrimSpace(m.Message)
	if text == "" {
		return
	}
	if len(text) > maxChatLength {
		w.replyError(ctx, "message too long")
		return
	}
	if cb, ok := w.engine.AppendChat(w.roomID, w.user.UserID, text, m.ReplyTo); ok {
		w.engine.Broadcast(w.roomID, cb, "")
	}
}

func (w *Worker) handlePing(m *Ping) {
	if correction, ok := w.engine.Heartbeat(w.roomID, w.user.UserID, m.CurrentTime, m.Syncing); ok {
		w.engine.SendTo(w.user, correction)
	}
	w.engine.SendTo(w.user, Pong{PingID: m.PingID})
}

// handleVideoChange resolves the stream off the read loop so a slow extractor
// never stalls the connection's other messages.
func (w *Worker) handleVideoChange(ctx context.Context, m *VideoChange) {
	url := strings.TrimSpace(m.URL)
	if url == "" {
		w.replyError(ctx, "video url required")
		return
	}

	user := w.user
	change := *m
	go func() {
		resolveCtx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
		defer cancel()

		meta, err := w.resolver.Resolve(resolveCtx, url, change.UserAgent, change.Referer)
		if err != nil {
			// Extractor down or unable: proceed with the client's URL and a
			// suffix-guessed format.
			logger.Warnw("video resolve failed, using raw url", "room", w.roomID, "url", url, "error", err)
			meta = fallbackVideoMeta(url)
		}

		if changed, ok := w.engine.UpdateVideo(w.roomID, user.Username, change, meta); ok {
			w.engine.Broadcast(w.roomID, changed, "")
		}
	}()
}

func fallbackVideoMeta(url string) VideoMeta {
	lower := strings.ToLower(url)
	format := "mp4"
	switch {
	case strings.Contains(lower, ".m3u8"):
		format = "hls"
	case strings.Contains(lower, ".webm"):
		format = "webm"
	}
	return VideoMeta{URL: url, Format: format}
}

func (w *Worker) handleGetState(ctx context.Context) {
	state, ok := w.engine.RoomSnapshot(w.roomID)
	if !ok {
		w.replyError(ctx, "room not found")
		return
	}
	state.ProxyURL = w.proxyURL
	w.reply(ctx, state)
}

// reply writes directly on the connection. Used before a user exists; after
// join the engine send path with its failure stamping is preferred, but a
// direct reply on the read loop is still safe because of the connection's
// internal write serialization.
func (w *Worker) reply(ctx context.Context, msg Message) {
	data, err := MarshalMessage(msg)
	if err != nil {
		logger.Errorw("failed to marshal reply", "type", msg.Type(), "error", err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, w.engine.cfg.SendTimeout)
	defer cancel()
	if err := w.rw.Send(writeCtx, data); err != nil {
		logger.Debugw("reply failed", "room", w.roomID, "error", err)
	}
}

func (w *Worker) replyError(ctx context.Context, text string) {
	w.reply(ctx, ErrorMessage{Message: text})
}
