package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/calebferris/parley/internal/observability"
)

const (
	// sendBufferSize is the number of events that can be queued per client.
	sendBufferSize = 32

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second

	// idleCheckInterval is how often the idle reaper runs.
	idleCheckInterval = 30 * time.Second
)

// Client is one WebSocket connection.
type Client struct {
	ID   string
	conn *websocket.Conn
	send chan outbound
}

// outbound is either a frame to write or an instruction to close the
// connection after everything queued before it has been flushed.
type outbound struct {
	data   []byte
	close  bool
	code   websocket.StatusCode
	reason string
}

// connEntry holds per-connection metadata alongside the cancel function.
type connEntry struct {
	client      *Client
	cancel      context.CancelFunc
	connectedAt time.Time
	lastActive  time.Time
}

// ConnStats holds point-in-time connection statistics.
type ConnStats struct {
	Active          int
	MaxConns        int
	Rejected        int64
	DroppedMessages int64
	IdleReaped      int64
}

// ConnManager tracks all active WebSocket connections and provides
// lifecycle management: per-client buffered write pumps, connection limits,
// idle detection, and graceful shutdown.
type ConnManager struct {
	log *zap.Logger

	mu       sync.Mutex
	clients  map[string]*connEntry
	closed   bool
	maxConns int
	idleTTL  time.Duration
	stopIdle context.CancelFunc

	rejected        atomic.Int64
	droppedMessages atomic.Int64
	idleReaped      atomic.Int64
}

// ConnManagerOption configures a ConnManager.
type ConnManagerOption func(*ConnManager)

// WithMaxConns caps concurrent connections; 0 means unlimited (default).
func WithMaxConns(n int) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.maxConns = n
	}
}

// WithIdleTimeout closes connections idle for longer than d; 0 disables
// idle reaping (default).
func WithIdleTimeout(d time.Duration) ConnManagerOption {
	return func(cm *ConnManager) {
		cm.idleTTL = d
	}
}

// NewConnManager creates a connection manager.
func NewConnManager(log *zap.Logger, opts ...ConnManagerOption) *ConnManager {
	cm := &ConnManager{
		log:     log,
		clients: make(map[string]*connEntry),
	}
	for _, opt := range opts {
		opt(cm)
	}
	if cm.idleTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		cm.stopIdle = cancel
		go cm.idleReapLoop(ctx)
	}
	return cm
}

// Add registers a client and starts its write pump. The returned context is
// cancelled when the client is removed or the manager shuts down; callers
// should select on ctx.Done() in their read loop. Returns a cancelled
// context if the manager is closed or at capacity.
func (cm *ConnManager) Add(c *Client) context.Context {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		return cancelledContext()
	}
	if cm.maxConns > 0 && len(cm.clients) >= cm.maxConns {
		cm.rejected.Add(1)
		c.conn.Close(websocket.StatusTryAgainLater, "server at capacity")
		return cancelledContext()
	}

	now := time.Now()
	c.send = make(chan outbound, sendBufferSize)
	ctx, cancel := context.WithCancel(context.Background())
	cm.clients[c.ID] = &connEntry{
		client:      c,
		cancel:      cancel,
		connectedAt: now,
		lastActive:  now,
	}
	observability.WebSocketConnectionsActive.Set(float64(len(cm.clients)))

	go cm.writePump(ctx, c)

	return ctx
}

// Remove stops a client's write pump and cleans it up.
func (cm *ConnManager) Remove(connID string) {
	cm.mu.Lock()
	entry, ok := cm.clients[connID]
	if ok {
		delete(cm.clients, connID)
	}
	observability.WebSocketConnectionsActive.Set(float64(len(cm.clients)))
	cm.mu.Unlock()

	// The send channel is never closed: the write pump exits via the
	// cancelled context, which avoids racing a concurrent Send.
	if ok {
		entry.cancel()
	}
}

// Send queues a frame for delivery. Returns false if the client's buffer is
// full (slow consumer) or the client is gone.
func (cm *ConnManager) Send(connID string, data []byte) bool {
	cm.mu.Lock()
	entry, ok := cm.clients[connID]
	cm.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case entry.client.send <- outbound{data: data}:
		return true
	default:
		cm.droppedMessages.Add(1)
		observability.DroppedMessagesTotal.Inc()
		cm.log.Warn("send buffer full, dropping frame", zap.String("conn_id", connID))
		return false
	}
}

// Close queues a connection close that takes effect after every frame
// queued before it has been written, so a final error event still reaches
// the client.
func (cm *ConnManager) Close(connID string, code websocket.StatusCode, reason string) {
	cm.mu.Lock()
	entry, ok := cm.clients[connID]
	cm.mu.Unlock()
	if !ok {
		return
	}

	select {
	case entry.client.send <- outbound{close: true, code: code, reason: reason}:
	default:
		// Buffer full; close immediately rather than wait on a slow consumer.
		entry.client.conn.Close(code, reason)
	}
}

// TouchActivity updates the last-active timestamp for a client.
func (cm *ConnManager) TouchActivity(connID string) {
	cm.mu.Lock()
	if entry, ok := cm.clients[connID]; ok {
		entry.lastActive = time.Now()
	}
	cm.mu.Unlock()
}

// Count returns the number of active connections.
func (cm *ConnManager) Count() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return len(cm.clients)
}

// Stats returns point-in-time connection statistics.
func (cm *ConnManager) Stats() ConnStats {
	cm.mu.Lock()
	active := len(cm.clients)
	maxConns := cm.maxConns
	cm.mu.Unlock()
	return ConnStats{
		Active:          active,
		MaxConns:        maxConns,
		Rejected:        cm.rejected.Load(),
		DroppedMessages: cm.droppedMessages.Load(),
		IdleReaped:      cm.idleReaped.Load(),
	}
}

// Shutdown gracefully closes all connections.
func (cm *ConnManager) Shutdown() {
	cm.mu.Lock()
	cm.closed = true
	clients := cm.clients
	cm.clients = make(map[string]*connEntry)
	observability.WebSocketConnectionsActive.Set(0)
	cm.mu.Unlock()

	if cm.stopIdle != nil {
		cm.stopIdle()
	}

	for _, entry := range clients {
		entry.cancel()
		entry.client.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}

// idleReapLoop periodically checks for and closes idle connections.
func (cm *ConnManager) idleReapLoop(ctx context.Context) {
	ticker := time.NewTicker(idleCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cm.reapIdle()
		}
	}
}

// reapIdle closes connections that have been idle longer than idleTTL.
func (cm *ConnManager) reapIdle() {
	cm.mu.Lock()
	now := time.Now()
	stale := make(map[string]*connEntry)
	for id, entry := range cm.clients {
		if now.Sub(entry.lastActive) > cm.idleTTL {
			stale[id] = entry
			delete(cm.clients, id)
		}
	}
	observability.WebSocketConnectionsActive.Set(float64(len(cm.clients)))
	cm.mu.Unlock()

	for id, entry := range stale {
		entry.cancel()
		entry.client.conn.Close(websocket.StatusPolicyViolation, "idle timeout")
		cm.idleReaped.Add(1)
		cm.log.Info("reaped idle connection", zap.String("conn_id", id))
	}
}

// writePump drains the client's send channel, writing each frame to the
// WebSocket. It exits when ctx is cancelled, a write fails, or a queued
// close is reached.
func (cm *ConnManager) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-c.send:
			if out.close {
				c.conn.Close(out.code, out.reason)
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(writeCtx, websocket.MessageText, out.data)
			cancel()
			if err != nil {
				cm.log.Debug("write failed", zap.String("conn_id", c.ID), zap.Error(err))
				return
			}
		}
	}
}

func cancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}
