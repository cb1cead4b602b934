package widget

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"FhirChat/internal/conversation"
)

const writeWait = 10 * time.Second

// client is one browser connection and the conversation it owns.
type client struct {
	conn   *websocket.Conn
	conv   *conversation.Conversation
	logger *slog.Logger

	// gorilla/websocket allows one concurrent writer.
	writeMu sync.Mutex

	mu   sync.Mutex
	open bool

	inflight sync.WaitGroup
}

func newClient(conn *websocket.Conn, conv *conversation.Conversation, logger *slog.Logger) *client {
	return &client{
		conn:   conn,
		conv:   conv,
		logger: logger,
	}
}

func (c *client) write(frame ServerFrame) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(frame); err != nil {
		c.logger.Debug("failed to write frame", "type", frame.Type, "error", err)
	}
}

// close tells the browser the server is going away and closes the
// connection, which ends the read loop in serve.
func (c *client) close() {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// serve pushes conversation events to the browser and handles its frames
// until the connection closes. Replies still in flight when the browser
// goes away are awaited, not canceled.
func (c *client) serve(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	cancel := c.conv.Subscribe(func(ev conversation.Event) {
		switch ev.Kind {
		case conversation.EventMessage:
			c.write(messageFrame(ev.Message))
		case conversation.EventTyping:
			c.write(typingFrame(ev.Typing))
		}
	})
	defer cancel()
	defer c.inflight.Wait()

	c.logger.Info("widget connected")
	c.write(stateFrame(false))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket closed unexpectedly", "error", err)
			} else {
				c.logger.Info("widget disconnected")
			}
			return
		}

		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.write(errorFrame("malformed frame"))
			continue
		}
		c.handle(ctx, frame)
	}
}

func (c *client) handle(ctx context.Context, frame ClientFrame) {
	switch frame.Type {
	case FrameToggle:
		c.mu.Lock()
		c.open = !c.open
		open := c.open
		c.mu.Unlock()
		c.write(stateFrame(open))

	case FrameSend:
		c.mu.Lock()
		open := c.open
		c.mu.Unlock()
		if !open {
			c.write(errorFrame("chat window is closed"))
			return
		}
		c.inflight.Add(1)
		go func() {
			defer c.inflight.Done()
			c.conv.Send(ctx, frame.Text)
		}()

	default:
		c.write(errorFrame("unknown frame type: " + frame.Type))
	}
}
