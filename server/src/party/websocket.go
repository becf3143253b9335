package party

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/beraber/beraber/server/src/logger"
)

type webSocketConn struct {
	conn *websocket.Conn
}

func newWebSocketConn(conn *websocket.Conn) *webSocketConn {
	// The worker replies to oversized frames instead of closing, so the
	// transport limit sits above the payload cap.
	conn.SetReadLimit(2 * MaxPayloadBytes)
	return &webSocketConn{conn: conn}
}

func (c *webSocketConn) ReadMessage(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *webSocketConn) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *webSocketConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

// WSHandler upgrades /ws/{room_id} requests and hands the connection to a
// worker for its lifetime.
func WSHandler(engine *Engine, resolver VideoResolver, proxyURL string) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		roomID := chi.URLParam(r, "room_id")
		if roomID == "" {
			http.Error(rw, "room id required", http.StatusBadRequest)
			return
		}

		conn, err := websocket.Accept(rw, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			logger.Warnw("websocket accept failed", "room", roomID, "error", err)
			return
		}

		worker := NewWorker(engine, resolver, newWebSocketConn(conn), roomID, proxyURL)
		worker.Start(r.Context())
	}
}
