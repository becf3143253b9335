package party

import (
	"sync"

	"github.com/beraber/beraber/server/src/logger"
	"github.com/beraber/beraber/server/src/metrics"
)

// Broadcast fans a message out to every user in the room except the excluded
// one. The user list is snapshotted under the engine lock and the sends run
// concurrently outside of it; one slow socket only delays its own goroutine.
func (e *Engine) Broadcast(roomID string, msg Message, excludeUserID string) {
	e.mu.Lock()
	room, ok := e.rooms[roomID]
	if !ok {
		e.mu.Unlock()
		return
	}
	targets := make([]*User, 0, len(room.Users))
	for id, u := range room.Users {
		if id == excludeUserID {
			continue
		}
		targets = append(targets, u)
	}
	now := e.now()
	e.mu.Unlock()

	if len(targets) == 0 {
		return
	}

	data, err := MarshalMessage(msg)
	if err != nil {
		logger.Errorw("failed to marshal broadcast", "room", roomID, "type", msg.Type(), "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, u := range targets {
		wg.Add(1)
		go func(u *User) {
			defer wg.Done()
			if err := u.SendEncoded(data, e.cfg.SendTimeout, now); err != nil {
				metrics.BroadcastFailures.Inc()
				logger.Debugw("broadcast send failed", "room", roomID, "user", u.Username, "error", err)
			}
		}(u)
	}
	wg.Wait()
}

// SendTo delivers one message to a single user.
func (e *Engine) SendTo(u *User, msg Message) {
	data, err := MarshalMessage(msg)
	if err != nil {
		logger.Errorw("failed to marshal message", "type", msg.Type(), "error", err)
		return
	}
	if err := u.SendEncoded(data, e.cfg.SendTimeout, e.now()); err != nil {
		logger.Debugw("send failed", "user", u.Username, "error", err)
	}
}
