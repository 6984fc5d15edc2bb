// Package chat implements the broadcast protocol: the per-connection state
// machine coordinating join, send, edit, react, delete and leave, and the
// fan-out of the resulting events to every connected peer.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calebferris/parley/internal/auth"
	"github.com/calebferris/parley/internal/message"
	"github.com/calebferris/parley/internal/observability"
	"github.com/calebferris/parley/internal/presence"
)

// maxBodyLength is the longest accepted message body, in runes.
const maxBodyLength = 2000

// Transport delivers envelopes to individual connections and force-closes
// them. Implementations must not block: a slow consumer is the transport's
// problem, not the protocol's.
type Transport interface {
	SendTo(connID string, env Envelope)
	CloseConn(connID string, reason string)
}

type connState int

const (
	stateUnauthenticated connState = iota
	stateAuthenticated
	stateClosed
)

type connection struct {
	id       string
	state    connState
	identity auth.Identity
}

type handlerFunc func(ctx context.Context, c *connection, payload json.RawMessage)

// Protocol is the single-room broadcast state machine. One mutex serializes
// every event, so handlers never race on the presence registry or on
// per-connection state.
type Protocol struct {
	verifier  auth.Verifier
	presence  *presence.Registry
	store     message.Store
	transport Transport
	log       *zap.Logger

	historyLimit int
	handlers     map[string]handlerFunc

	mu    sync.Mutex
	conns map[string]*connection

	// Overridable for tests.
	now   func() time.Time
	newID func() string
}

// NewProtocol creates the protocol over the given collaborators.
func NewProtocol(verifier auth.Verifier, reg *presence.Registry, store message.Store, transport Transport, log *zap.Logger, historyLimit int) *Protocol {
	p := &Protocol{
		verifier:     verifier,
		presence:     reg,
		store:        store,
		transport:    transport,
		log:          log,
		historyLimit: historyLimit,
		conns:        make(map[string]*connection),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	p.handlers = map[string]handlerFunc{
		EventAuthenticate: p.handleAuthenticate,
		EventSend:         p.handleSend,
		EventEdit:         p.handleEdit,
		EventReact:        p.handleReact,
		EventUnreact:      p.handleUnreact,
		EventDelete:       p.handleDelete,
	}
	return p
}

// Connect registers a new, unauthenticated connection. No broadcast.
func (p *Protocol) Connect(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conns[connID] = &connection{id: connID, state: stateUnauthenticated}
}

// Dispatch routes one client event to its handler. Events arrive in order
// per connection; ordering across connections is not guaranteed.
func (p *Protocol) Dispatch(ctx context.Context, connID string, env Envelope) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[connID]
	if !ok || c.state == stateClosed {
		return
	}
	handler, ok := p.handlers[env.Type]
	if !ok {
		p.sendError(connID, "unknown event type: "+env.Type)
		return
	}
	handler(ctx, c, env.Payload)
}

// Disconnect transitions a connection to Closed and cleans up its presence
// entry. A disconnect with no matching entry is a silent no-op.
func (p *Protocol) Disconnect(connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.conns[connID]
	if ok {
		c.state = stateClosed
	}
	delete(p.conns, connID)

	id, removed := p.presence.Unregister(connID)
	if !removed {
		return
	}

	p.log.Info("user left", zap.String("conn_id", connID), zap.String("user_id", id.ID))
	p.broadcast(NewEnvelope(EventUserLeft, UserPayload{Name: id.Name}), connID)
	p.broadcast(NewEnvelope(EventActiveUsers, ActiveUsersPayload{Users: p.presence.ListDisplayNames()}), connID)
}

func (p *Protocol) handleAuthenticate(ctx context.Context, c *connection, payload json.RawMessage) {
	var req AuthenticatePayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Credential == "" {
		p.send(c.id, NewEnvelope(EventAuthError, ErrorPayload{Message: "credential is required"}))
		return
	}

	id, err := p.verifier.Verify(req.Credential)
	if err != nil {
		observability.AuthFailuresTotal.Inc()
		p.log.Info("authentication rejected", zap.String("conn_id", c.id))
		p.send(c.id, NewEnvelope(EventAuthError, ErrorPayload{Message: "invalid credential"}))
		return
	}

	if evicted, ok := p.presence.Register(c.id, id); ok {
		// A second login for the same identity force-terminates the first.
		p.send(evicted, NewEnvelope(EventAuthError, ErrorPayload{Message: "signed in from another connection"}))
		if old, exists := p.conns[evicted]; exists {
			old.state = stateClosed
			delete(p.conns, evicted)
		}
		p.transport.CloseConn(evicted, "signed in from another connection")
		p.log.Info("evicted prior connection",
			zap.String("user_id", id.ID), zap.String("evicted_conn_id", evicted))
	}

	c.state = stateAuthenticated
	c.identity = id
	p.log.Info("user joined", zap.String("conn_id", c.id), zap.String("user_id", id.ID))

	p.broadcast(NewEnvelope(EventUserJoined, UserPayload{Name: id.Name}), c.id)
	p.send(c.id, NewEnvelope(EventActiveUsers, ActiveUsersPayload{Users: p.presence.ListDisplayNames()}))
	p.send(c.id, NewEnvelope(EventAuthSuccess, AuthSuccessPayload{User: id}))

	// History is best-effort: a store failure never fails the join.
	msgs, err := p.store.ListRecent(ctx, p.historyLimit)
	if err != nil {
		p.log.Error("history load failed", zap.String("conn_id", c.id), zap.Error(err))
		return
	}
	if msgs == nil {
		msgs = []*message.Message{}
	}
	p.send(c.id, NewEnvelope(EventChatHistory, HistoryPayload{Messages: msgs}))
}

func (p *Protocol) handleSend(ctx context.Context, c *connection, payload json.RawMessage) {
	if !p.requireAuth(c) {
		return
	}
	var req SendPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		p.sendError(c.id, "invalid send payload")
		return
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		p.sendError(c.id, "message body cannot be empty")
		return
	}
	if len([]rune(body)) > maxBodyLength {
		p.sendError(c.id, "message exceeds maximum length of 2000 characters")
		return
	}

	// The client-supplied ID wins when present; a collision rejects the send.
	msgID := req.ClientMessageID
	if msgID == "" {
		msgID = p.newID()
	}
	msg := &message.Message{
		ID:         msgID,
		AuthorID:   c.identity.ID,
		AuthorName: c.identity.Name,
		Body:       body,
		CreatedAt:  p.now(),
	}

	if err := p.store.Insert(ctx, msg); err != nil {
		if errors.Is(err, message.ErrDuplicateID) {
			p.sendError(c.id, "message id already exists")
			return
		}
		p.log.Error("message insert failed", zap.String("message_id", msgID), zap.Error(err))
		p.sendError(c.id, "failed to store message, try again")
		return
	}

	observability.MessagesTotal.WithLabelValues("send").Inc()
	p.broadcast(NewEnvelope(EventReceive, msg), c.id)
	p.send(c.id, NewEnvelope(EventMessageSent, msg))
}

func (p *Protocol) handleEdit(ctx context.Context, c *connection, payload json.RawMessage) {
	if !p.requireAuth(c) {
		return
	}
	var req EditPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		p.sendError(c.id, "invalid edit payload")
		return
	}
	newText := strings.TrimSpace(req.NewText)
	if newText == "" {
		p.sendError(c.id, "message body cannot be empty")
		return
	}

	msg, err := p.findOwned(ctx, c, req.MessageID)
	if err != nil {
		return
	}

	editedAt := p.now()
	if err := p.store.UpdateBody(ctx, msg.ID, newText, editedAt); err != nil {
		if errors.Is(err, message.ErrNotFound) {
			p.sendError(c.id, "message not found")
			return
		}
		p.log.Error("message edit failed", zap.String("message_id", msg.ID), zap.Error(err))
		p.sendError(c.id, "failed to edit message, try again")
		return
	}

	observability.MessagesTotal.WithLabelValues("edit").Inc()
	p.broadcast(NewEnvelope(EventMessageEdited, MessageEditedPayload{
		MessageID:  msg.ID,
		NewText:    newText,
		AuthorName: msg.AuthorName,
		AuthorID:   msg.AuthorID,
		EditedAt:   editedAt,
	}), "")
}

func (p *Protocol) handleReact(ctx context.Context, c *connection, payload json.RawMessage) {
	if !p.requireAuth(c) {
		return
	}
	var req ReactPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Emoji == "" {
		p.sendError(c.id, "invalid react payload")
		return
	}

	reaction := message.Reaction{
		Emoji:     req.Emoji,
		ReactorID: c.identity.ID,
		ReactedAt: p.now(),
	}
	if err := p.store.AppendReaction(ctx, req.MessageID, reaction); err != nil {
		switch {
		case errors.Is(err, message.ErrDuplicateReaction):
			// Idempotent: the same (reactor, emoji) pair is a no-op.
		case errors.Is(err, message.ErrNotFound):
			p.sendError(c.id, "message not found")
		default:
			p.log.Error("reaction append failed", zap.String("message_id", req.MessageID), zap.Error(err))
			p.sendError(c.id, "failed to add reaction, try again")
		}
		return
	}

	observability.MessagesTotal.WithLabelValues("react").Inc()
	p.broadcast(NewEnvelope(EventReactionAdded, ReactionAddedPayload{
		MessageID:   req.MessageID,
		Emoji:       req.Emoji,
		ReactorID:   c.identity.ID,
		ReactorName: c.identity.Name,
		ReactedAt:   reaction.ReactedAt,
	}), "")
}

func (p *Protocol) handleUnreact(ctx context.Context, c *connection, payload json.RawMessage) {
	if !p.requireAuth(c) {
		return
	}
	var req ReactPayload
	if err := json.Unmarshal(payload, &req); err != nil || req.Emoji == "" {
		p.sendError(c.id, "invalid unreact payload")
		return
	}

	if err := p.store.RemoveReaction(ctx, req.MessageID, c.identity.ID, req.Emoji); err != nil {
		switch {
		case errors.Is(err, message.ErrReactionNotFound):
			// Removing a reaction that was never added is a no-op.
		case errors.Is(err, message.ErrNotFound):
			p.sendError(c.id, "message not found")
		default:
			p.log.Error("reaction remove failed", zap.String("message_id", req.MessageID), zap.Error(err))
			p.sendError(c.id, "failed to remove reaction, try again")
		}
		return
	}

	observability.MessagesTotal.WithLabelValues("unreact").Inc()
	p.broadcast(NewEnvelope(EventReactionRemoved, ReactionRemovedPayload{
		MessageID:   req.MessageID,
		Emoji:       req.Emoji,
		ReactorID:   c.identity.ID,
		ReactorName: c.identity.Name,
	}), "")
}

func (p *Protocol) handleDelete(ctx context.Context, c *connection, payload json.RawMessage) {
	if !p.requireAuth(c) {
		return
	}
	var req DeletePayload
	if err := json.Unmarshal(payload, &req); err != nil {
		p.sendError(c.id, "invalid delete payload")
		return
	}

	msg, err := p.findOwned(ctx, c, req.MessageID)
	if err != nil {
		return
	}

	if err := p.store.DeleteByID(ctx, msg.ID); err != nil {
		if errors.Is(err, message.ErrNotFound) {
			p.sendError(c.id, "message not found")
			return
		}
		p.log.Error("message delete failed", zap.String("message_id", msg.ID), zap.Error(err))
		p.sendError(c.id, "failed to delete message, try again")
		return
	}

	observability.MessagesTotal.WithLabelValues("delete").Inc()
	p.broadcast(NewEnvelope(EventMessageDeleted, MessageDeletedPayload{
		MessageID: msg.ID,
		DeletedBy: c.identity.ID,
	}), "")
}

// findOwned loads a message and checks the caller is its author. On failure
// the rejection has already been sent to the caller.
func (p *Protocol) findOwned(ctx context.Context, c *connection, msgID string) (*message.Message, error) {
	msg, err := p.store.FindByID(ctx, msgID)
	if err != nil {
		if errors.Is(err, message.ErrNotFound) {
			p.sendError(c.id, "message not found")
		} else {
			p.log.Error("message lookup failed", zap.String("message_id", msgID), zap.Error(err))
			p.sendError(c.id, "failed to load message, try again")
		}
		return nil, err
	}
	if msg.AuthorID != c.identity.ID {
		p.sendError(c.id, "ownership violation: not the author of this message")
		return nil, errors.New("ownership violation")
	}
	return msg, nil
}

// requireAuth rejects the single event if the connection has not
// authenticated. The connection itself stays open.
func (p *Protocol) requireAuth(c *connection) bool {
	if c.state != stateAuthenticated {
		p.sendError(c.id, "not registered in the chat")
		return false
	}
	return true
}

// broadcast fans an envelope out to every authenticated connection except
// exceptConnID. An empty exceptConnID reaches everyone.
func (p *Protocol) broadcast(env Envelope, exceptConnID string) {
	for id, c := range p.conns {
		if c.state != stateAuthenticated || id == exceptConnID {
			continue
		}
		p.transport.SendTo(id, env)
	}
	observability.BroadcastsTotal.Inc()
}

func (p *Protocol) send(connID string, env Envelope) {
	p.transport.SendTo(connID, env)
}

func (p *Protocol) sendError(connID, msg string) {
	p.send(connID, NewEnvelope(EventError, ErrorPayload{Message: msg}))
}
