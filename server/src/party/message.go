package party

import (
	"encoding/json"
)

type MessageType string

const (
	JoinType        MessageType = "join"
	PlayType        MessageType = "play"
	PauseType       MessageType = "pause"
	SeekType        MessageType = "seek"
	SeekReadyType   MessageType = "seek_ready"
	BufferStartType MessageType = "buffer_start"
	BufferEndType   MessageType = "buffer_end"
	ChatType        MessageType = "chat"
	TypingType      MessageType = "typing"
	VideoChangeType MessageType = "video_change"
	PingType        MessageType = "ping"
	GetStateType    MessageType = "get_state"

	RoomStateType      MessageType = "room_state"
	UserJoinedType     MessageType = "user_joined"
	UserLeftType       MessageType = "user_left"
	SyncType           MessageType = "sync"
	SyncCorrectionType MessageType = "sync_correction"
	VideoChangedType   MessageType = "video_changed"
	PongType           MessageType = "pong"
	ErrorType          MessageType = "error"
	UnknownType        MessageType = "unknown"
)

type Message interface {
	Type() MessageType
}

// Inbound messages.

type Join struct {
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

func (j Join) Type() MessageType { return JoinType }

type Play struct{}

func (p Play) Type() MessageType { return PlayType }

type Pause struct {
	// Clients that issue seek-as-pause carry the target position here.
	Time *float64 `json:"time"`
}

func (p Pause) Type() MessageType { return PauseType }

type Seek struct {
	Time float64 `json:"time"`
}

func (s Seek) Type() MessageType { return SeekType }

type SeekReady struct {
	SeekEpoch int `json:"seek_epoch"`
}

func (s SeekReady) Type() MessageType { return SeekReadyType }

type BufferStart struct{}

func (b BufferStart) Type() MessageType { return BufferStartType }

type BufferEnd struct{}

func (b BufferEnd) Type() MessageType { return BufferEndType }

type Chat struct {
	Message string                 `json:"message"`
	ReplyTo map[string]interface{} `json:"reply_to,omitempty"`
}

func (c Chat) Type() MessageType { return ChatType }

type Typing struct {
	Username string `json:"username,omitempty"`
}

func (t Typing) Type() MessageType { return TypingType }

type VideoChange struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	UserAgent   string `json:"user_agent"`
	Referer     string `json:"referer"`
	SubtitleURL string `json:"subtitle_url"`
}

func (v VideoChange) Type() MessageType { return VideoChangeType }

type Ping struct {
	CurrentTime *float64 `json:"current_time"`
	PingID      *float64 `json:"_ping_id"`
	Syncing     bool     `json:"syncing"`
}

func (p Ping) Type() MessageType { return PingType }

type GetState struct{}

func (g GetState) Type() MessageType { return GetStateType }

// Outbound messages.

type UserSnapshot struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	IsHost   bool   `json:"is_host"`
}

type RoomState struct {
	RoomID        string         `json:"room_id"`
	VideoURL      string         `json:"video_url"`
	VideoTitle    string         `json:"video_title"`
	VideoFormat   string         `json:"video_format"`
	VideoDuration float64        `json:"video_duration"`
	SubtitleURL   string         `json:"subtitle_url"`
	UserAgent     string         `json:"user_agent"`
	Referer       string         `json:"referer"`
	ProxyURL      string         `json:"proxy_url,omitempty"`
	CurrentTime   float64        `json:"current_time"`
	IsPlaying     bool           `json:"is_playing"`
	HostID        string         `json:"host_id"`
	Users         []UserSnapshot `json:"users"`
	ChatMessages  []*ChatMessage `json:"chat_messages"`
}

func (r RoomState) Type() MessageType { return RoomStateType }

type UserJoined struct {
	Username string         `json:"username"`
	Avatar   string         `json:"avatar"`
	UserID   string         `json:"user_id"`
	IsHost   bool           `json:"is_host"`
	Users    []UserSnapshot `json:"users"`
}

func (u UserJoined) Type() MessageType { return UserJoinedType }

type UserLeft struct {
	Username string         `json:"username"`
	UserID   string         `json:"user_id"`
	Users    []UserSnapshot `json:"users"`
}

func (u UserLeft) Type() MessageType { return UserLeftType }

// Sync is the authoritative playback update. ForceSeek asks clients to hard
// seek instead of drift-correcting; SeekSync requests barrier participation
// and carries the epoch the client must echo back in seek_ready.
type Sync struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time"`
	ForceSeek   bool    `json:"force_seek"`
	SeekSync    bool    `json:"seek_sync,omitempty"`
	SeekEpoch   int     `json:"seek_epoch,omitempty"`
	TriggeredBy string  `json:"triggered_by,omitempty"`
}

func (s Sync) Type() MessageType { return SyncType }

type SyncCorrection struct {
	Rate float64 `json:"rate"`
}

func (s SyncCorrection) Type() MessageType { return SyncCorrectionType }

type ChatBroadcast struct {
	Username  string                 `json:"username"`
	Avatar    string                 `json:"avatar"`
	Message   string                 `json:"message"`
	Timestamp string                 `json:"timestamp"`
	ReplyTo   map[string]interface{} `json:"reply_to,omitempty"`
}

func (c ChatBroadcast) Type() MessageType { return ChatType }

type VideoChanged struct {
	URL         string  `json:"url"`
	Title       string  `json:"title"`
	Format      string  `json:"format"`
	Duration    float64 `json:"duration"`
	UserAgent   string  `json:"user_agent"`
	Referer     string  `json:"referer"`
	SubtitleURL string  `json:"subtitle_url"`
	ChangedBy   string  `json:"changed_by"`
}

func (v VideoChanged) Type() MessageType { return VideoChangedType }

type Pong struct {
	// Always serialized, nil included; an empty body would not survive
	// appendType's string surgery.
	PingID *float64 `json:"_ping_id"`
}

func (p Pong) Type() MessageType { return PongType }

type ErrorMessage struct {
	Message string `json:"message"`
}

func (e ErrorMessage) Type() MessageType { return ErrorType }

type Unknown struct {
	json.RawMessage
}

func (u Unknown) Type() MessageType { return UnknownType }

func UnmarshalMessage(data []byte) (Message, error) {
	message, err := getMessage(data)
	if err != nil {
		return nil, err
	}

	// Unknown absorbs any JSON object, so this second pass cannot fail for
	// payloads that survived the type-head decode.
	json.Unmarshal(data, &message)

	return message, nil
}

func getMessage(data []byte) (Message, error) {
	var messageHead struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &messageHead); err != nil {
		return nil, err
	}

	var message Message
	switch messageHead.Type {
	case JoinType:
		message = &Join{}
	case PlayType:
		message = &Play{}
	case PauseType:
		message = &Pause{}
	case SeekType:
		message = &Seek{}
	case SeekReadyType:
		message = &SeekReady{}
	case BufferStartType:
		message = &BufferStart{}
	case BufferEndType:
		message = &BufferEnd{}
	case ChatType:
		message = &Chat{}
	case TypingType:
		message = &Typing{}
	case VideoChangeType:
		message = &VideoChange{}
	case PingType:
		message = &Ping{}
	case GetStateType:
		message = &GetState{}
	default:
		message = &Unknown{}
	}

	return message, nil
}

func MarshalMessage(message Message) ([]byte, error) {
	encodedMessage, err := json.Marshal(message)
	if err != nil {
		return nil, err
	}

	appendedMessage := appendType(encodedMessage, message.Type())
	return appendedMessage, nil
}

func appendType(encodedMessage []byte, messageType MessageType) []byte {
	appendedMessage := string(encodedMessage)
	appendedMessage = appendedMessage[:len(appendedMessage)-1] + `,"type":"` + string(messageType) + `"}`
	return []byte(appendedMessage)
}
