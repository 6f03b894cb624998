package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/obot-platform/fleetdeck/server/internal/apperr"
	"github.com/obot-platform/fleetdeck/server/internal/model"
	"github.com/obot-platform/fleetdeck/server/internal/session"
)

const (
	terminalWriteWait = 10 * time.Second
	defaultRows       = 24
	defaultCols       = 80
)

// TerminalMessage is one websocket frame in either direction.
type TerminalMessage struct {
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// TerminalStart is the data of a "start" message.
type TerminalStart struct {
	Connect
	Rows int `json:"rows"`
	Cols int `json:"cols"`
}

// wsWriter serializes frames onto one websocket. gorilla connections allow a
// single concurrent writer.
type wsWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (w *wsWriter) send(typ string, data any, reason string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(terminalWriteWait))
	return w.conn.WriteJSON(TerminalMessage{Type: typ, Data: raw, Reason: reason})
}

func (w *wsWriter) fail(err error) {
	_ = w.send("error", err.Error(), "")
}

// wsSink is the session sink of one started shell. Output is held back until
// the "established" status has been written.
type wsSink struct {
	w     *wsWriter
	ready chan struct{}
}

func (s *wsSink) Output(data []byte) {
	<-s.ready
	_ = s.w.send("output", string(data), "")
}

func (s *wsSink) Closed(reason string) {
	<-s.ready
	_ = s.w.send("status", session.ShellClosed.String(), reason)
}

// TerminalWebSocket bridges a websocket to one interactive shell session.
// Closing the socket closes the session.
// GET /api/terminal/ws
func (h *Handler) TerminalWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.shells == nil {
		h.Fail(w, apperr.ConfigurationMissing("terminal", "shell sessions are not available"))
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.serveTerminal(ctx, conn)
}

func (h *Handler) serveTerminal(ctx context.Context, conn *websocket.Conn) {
	connID := uuid.NewString()
	out := &wsWriter{conn: conn}
	defer h.shells.Close(connID)

	for {
		var msg TerminalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("terminal read ended", "conn", connID, "error", err)
			}
			return
		}

		switch msg.Type {
		case "start":
			var start TerminalStart
			if err := json.Unmarshal(msg.Data, &start); err != nil {
				out.fail(apperr.InvalidInput("terminal start", "invalid start data: %v", err))
				continue
			}
			sink := &wsSink{w: out, ready: make(chan struct{})}
			err := h.startShell(ctx, connID, start, sink)
			if err == nil {
				_ = out.send("status", session.ShellEstablished.String(), "")
			}
			close(sink.ready)
			if err != nil {
				out.fail(err)
			}

		case "input":
			var data string
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				out.fail(apperr.InvalidInput("terminal input", "input must be a string"))
				continue
			}
			if err := h.shells.Input(connID, []byte(data)); err != nil {
				out.fail(err)
			}

		case "resize":
			var size session.Size
			if err := json.Unmarshal(msg.Data, &size); err != nil {
				out.fail(apperr.InvalidInput("terminal resize", "invalid size: %v", err))
				continue
			}
			if err := h.shells.Resize(connID, size); err != nil {
				out.fail(err)
			}

		default:
			out.fail(apperr.InvalidInput("terminal", "unknown message type %q", msg.Type))
		}
	}
}

func (h *Handler) startShell(ctx context.Context, connID string, start TerminalStart, sink *wsSink) error {
	t, err := h.target(ctx, "terminal start", start.Connect, model.KindShell)
	if err != nil {
		return err
	}
	size := session.Size{Rows: start.Rows, Cols: start.Cols}
	if size.Rows <= 0 {
		size.Rows = defaultRows
	}
	if size.Cols <= 0 {
		size.Cols = defaultCols
	}
	return h.shells.Start(ctx, connID, t, size, sink)
}
