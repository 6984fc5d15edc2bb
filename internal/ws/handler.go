// Package ws adapts the broadcast protocol onto WebSocket connections.
package ws

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/calebferris/parley/internal/chat"
)

// Handler upgrades HTTP requests to WebSockets and bridges each connection
// to the protocol. It also implements chat.Transport for event delivery.
type Handler struct {
	manager  *ConnManager
	protocol *chat.Protocol
	log      *zap.Logger
}

// NewHandler creates the WebSocket handler. Call SetProtocol before serving.
func NewHandler(manager *ConnManager, log *zap.Logger) *Handler {
	return &Handler{manager: manager, log: log}
}

// SetProtocol wires the protocol in. Separate from the constructor because
// the protocol itself needs the handler as its Transport.
func (h *Handler) SetProtocol(p *chat.Protocol) {
	h.protocol = p
}

// SendTo implements chat.Transport.
func (h *Handler) SendTo(connID string, env chat.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Error("envelope marshal failed", zap.String("conn_id", connID), zap.Error(err))
		return
	}
	h.manager.Send(connID, data)
}

// CloseConn implements chat.Transport. The close lands after any events
// already queued for the connection.
func (h *Handler) CloseConn(connID string, reason string) {
	h.manager.Close(connID, websocket.StatusPolicyViolation, reason)
}

// ServeHTTP upgrades the connection and runs the read loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		h.log.Info("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := &Client{ID: uuid.NewString(), conn: conn}
	connCtx := h.manager.Add(client)
	if connCtx.Err() != nil {
		// Rejected: manager closed or at capacity.
		return
	}

	h.protocol.Connect(client.ID)
	h.log.Debug("connection opened", zap.String("conn_id", client.ID))

	defer func() {
		h.protocol.Disconnect(client.ID)
		h.manager.Remove(client.ID)
		h.log.Debug("connection closed", zap.String("conn_id", client.ID))
	}()

	h.readLoop(r.Context(), connCtx, client)
}

// readLoop reads client events until the connection closes or the manager
// cancels connCtx. Events are dispatched synchronously in arrival order.
func (h *Handler) readLoop(ctx context.Context, connCtx context.Context, client *Client) {
	for {
		select {
		case <-connCtx.Done():
			return
		default:
		}

		_, data, err := client.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancelled.
			return
		}

		h.manager.TouchActivity(client.ID)

		var env chat.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			h.SendTo(client.ID, chat.NewEnvelope(chat.EventError, chat.ErrorPayload{Message: "invalid JSON"}))
			continue
		}
		h.protocol.Dispatch(ctx, client.ID, env)
	}
}
