package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Wundero/sinkr/internal/domain"
	"github.com/Wundero/sinkr/internal/protocol"
)

// Protocol-level constants for the sink/source socket.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

// Dispatcher executes one source route request against the coordinator.
type Dispatcher interface {
	Dispatch(ctx context.Context, appID, peerID string, route protocol.Route, raw json.RawMessage) (interface{}, error)
}

// StoredMessageRequester resolves a sink's request-stored-messages ask.
type StoredMessageRequester interface {
	RequestStoredMessages(ctx context.Context, appID, peerID, channelID string, messageIDs []string) error
}

// Conn is one live WebSocket connection. It implements registry.Handle, so
// the same type serves both source and sink peers: every connected peer,
// regardless of kind, can be the target of a sink frame (join-channel,
// member-join, direct/broadcast/channel messages); only a peer of type
// source may also drive route requests back over the same socket (spec
// §4.4).
type Conn struct {
	conn   *websocket.Conn
	appID  string
	peerID string
	typ    domain.PeerType

	dispatch Dispatcher
	replay   StoredMessageRequester
	onClose  func()

	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once
}

// NewConn builds a Conn. onClose is invoked exactly once, from ReadPump's
// own goroutine, after the socket is confirmed dead — never from within
// SendFrame, since SendFrame can run on a shard's single-threaded command
// loop and onClose's caller (shard.UnregisterPeer) submits back onto that
// same loop; invoking it inline would deadlock the shard against itself.
func NewConn(conn *websocket.Conn, appID, peerID string, typ domain.PeerType, dispatch Dispatcher, replay StoredMessageRequester, onClose func()) *Conn {
	return &Conn{
		conn:     conn,
		appID:    appID,
		peerID:   peerID,
		typ:      typ,
		dispatch: dispatch,
		replay:   replay,
		onClose:  onClose,
		send:     make(chan []byte, sendBufferSize),
		log:      slog.Default().With("component", "ws-conn", "app_id", appID, "peer_id", peerID),
	}
}

// PeerID returns the connection's assigned peer id.
func (c *Conn) PeerID() string { return c.peerID }

// SendFrame implements registry.Handle. A saturated send buffer means this
// peer cannot keep up; per §5's back-pressure rule it is considered dead,
// so the socket is force-closed here and the error is returned for the
// caller to ignore or log — cleanup itself happens later, asynchronously,
// when ReadPump observes the closed connection.
func (c *Conn) SendFrame(frame protocol.SinkFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("conn: marshal frame: %w", err)
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.log.Warn("send buffer saturated, dropping peer")
		c.Close(1000, "backpressure")
		return fmt.Errorf("conn: send buffer full for peer %s", c.peerID)
	}
}

// Close implements registry.Handle: it writes a close control frame and
// tears down the socket. Safe to call more than once or concurrently with
// ReadPump/WritePump observing the same closed connection.
func (c *Conn) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// writeEnvelope enqueues a source's correlated response. Like SendFrame, a
// full buffer force-closes the connection rather than blocking the caller.
func (c *Conn) writeEnvelope(env protocol.ResponseEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		c.log.Error("marshal response envelope", "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer saturated writing response, dropping peer")
		c.Close(1000, "backpressure")
	}
}

// ReadPump reads frames off the socket until it errors or closes, then
// invokes onClose. It must run in its own goroutine alongside WritePump.
func (c *Conn) ReadPump(ctx context.Context) {
	defer func() {
		close(c.send)
		c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("unexpected close", "error", err)
			}
			return
		}
		if c.typ == domain.PeerSource {
			c.handleSourceFrame(ctx, raw)
		} else {
			c.handleSinkFrame(ctx, raw)
		}
	}
}

// handleSourceFrame parses and dispatches a source's request envelope,
// replying with a correlated response regardless of outcome.
func (c *Conn) handleSourceFrame(ctx context.Context, raw []byte) {
	var env protocol.RequestEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.log.Warn("malformed request envelope", "error", err)
		return
	}

	resp, err := c.dispatch.Dispatch(ctx, c.appID, c.peerID, env.Data.Route, env.Data.Request)
	if err != nil {
		c.writeEnvelope(protocol.ResponseEnvelope{
			ID:       env.ID,
			Route:    env.Data.Route,
			Response: protocol.NewErrorResponse(protocol.AsRouteError(err)),
		})
		return
	}
	c.writeEnvelope(protocol.ResponseEnvelope{ID: env.ID, Route: env.Data.Route, Response: resp})
}

// handleSinkFrame implements the sink's narrow inbound surface (spec §4.4):
// a literal "ping" answered with a literal "pong", and
// request-stored-messages. Everything else is silently ignored — a sink
// is a read-mostly connection and an unrecognized frame from one is not
// the caller's problem to diagnose over the wire.
func (c *Conn) handleSinkFrame(ctx context.Context, raw []byte) {
	if strings.Trim(string(raw), `" `) == "ping" {
		select {
		case c.send <- []byte(`"pong"`):
		default:
			c.Close(1000, "backpressure")
		}
		return
	}

	var req protocol.RequestStoredMessages
	if err := json.Unmarshal(raw, &req); err != nil {
		return
	}
	if req.Event != "request-stored-messages" {
		return
	}
	if err := c.replay.RequestStoredMessages(ctx, c.appID, c.peerID, req.ChannelID, req.MessageIDs); err != nil {
		c.log.Warn("request-stored-messages failed", "error", err, "channel_id", req.ChannelID)
	}
}

// WritePump drains the send channel to the socket and keeps the connection
// alive with periodic pings. Each queued frame is written as its own text
// frame so the far end can decode them independently.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
