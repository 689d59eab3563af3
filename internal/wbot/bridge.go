package wbot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/atendezap/atendezap/internal/model"
)

const (
	dialTimeout      = 10 * time.Second
	maxReconnectWait = 30 * time.Second
	batchQueueDepth  = 64
)

// BatchFunc receives one inbound batch for a session. The bridge calls
// it from a single worker goroutine per session, so batches for one
// connection never overlap.
type BatchFunc func(ctx context.Context, sess *Session, batch []InboundMessage)

// StatusFunc observes session lifecycle transitions. The qrcode payload
// is non-empty only for the qrcode state.
type StatusFunc func(ctx context.Context, connectionID uuid.UUID, status model.ConnectionStatus, qrcode string)

// Bridge connects to a whatsapp-web.js style protocol bridge over
// WebSocket. The bridge process handles the actual wire protocol; this
// client exchanges JSON frames with it and implements Sender.
type Bridge struct {
	connectionID uuid.UUID
	url          string

	session  *Session
	onBatch  BatchFunc
	onStatus StatusFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	// per-session ordered queue: listenLoop enqueues, workLoop drains
	queue chan []InboundMessage
}

// bridgeFrame is the JSON envelope exchanged with the bridge process.
type bridgeFrame struct {
	Type  string           `json:"type"` // "messages", "qr", "status", "message", "presence"
	State string           `json:"state,omitempty"`
	Data  string           `json:"data,omitempty"`
	To    string           `json:"to,omitempty"`
	Text  string           `json:"content,omitempty"`
	Items []InboundMessage `json:"items,omitempty"`
}

// StartSession dials the bridge for a connection, registers the session
// in the registry, and begins delivering inbound batches. The returned
// session is immediately usable; sends fail until the bridge reports
// connected.
func StartSession(ctx context.Context, conn *model.Connection, reg *Registry, onBatch BatchFunc, onStatus StatusFunc) (*Session, error) {
	if conn.BridgeURL == "" {
		return nil, fmt.Errorf("connection %s: bridge_url is required", conn.ID)
	}

	b := &Bridge{
		connectionID: conn.ID,
		url:          conn.BridgeURL,
		onBatch:      onBatch,
		onStatus:     onStatus,
		queue:        make(chan []InboundMessage, batchQueueDepth),
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.session = NewSession(conn.ID, conn.TenantID, b)

	// Replaces any previous session for this connection (reconnect).
	reg.Put(conn.ID, b.session)
	b.setStatus(model.ConnectionOpening, "")

	if err := b.connect(); err != nil {
		// Don't fail hard; the listen loop keeps retrying.
		slog.Warn("initial bridge connection failed, will retry",
			"connection", conn.ID, "error", err)
	}

	go b.listenLoop()
	go b.workLoop()

	return b.session, nil
}

// Stop tears down the bridge and evicts the session from the registry.
func (b *Bridge) Stop(reg *Registry) {
	b.cancel()
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()
	reg.Remove(b.connectionID)
	b.setStatus(model.ConnectionDisconnected, "")
}

// SendText delivers a text frame to the bridge.
func (b *Bridge) SendText(_ context.Context, to, text string) error {
	return b.writeFrame(bridgeFrame{Type: "message", To: to, Text: text})
}

// SendPresence emits a presence frame (composing/paused/available).
func (b *Bridge) SendPresence(_ context.Context, to, state string) error {
	return b.writeFrame(bridgeFrame{Type: "presence", To: to, State: state})
}

func (b *Bridge) writeFrame(f bridgeFrame) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("bridge %s: %w", b.connectionID, ErrSessionNotFound)
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal bridge frame: %w", err)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write bridge frame: %w", err)
	}
	return nil
}

func (b *Bridge) connect() error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = dialTimeout

	conn, _, err := dialer.DialContext(b.ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.url, err)
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	slog.Info("bridge connected", "connection", b.connectionID, "url", b.url)
	return nil
}

// listenLoop reads frames from the bridge with automatic reconnection.
func (b *Bridge) listenLoop() {
	backoff := time.Second

	for {
		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()

		if conn == nil {
			slog.Info("attempting bridge reconnect",
				"connection", b.connectionID, "backoff", backoff)

			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if err := b.connect(); err != nil {
				slog.Warn("bridge reconnect failed",
					"connection", b.connectionID, "error", err)
				backoff = min(backoff*2, maxReconnectWait)
				continue
			}
			backoff = time.Second
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			slog.Warn("bridge read error, will reconnect",
				"connection", b.connectionID, "error", err)

			b.mu.Lock()
			if b.conn != nil {
				_ = b.conn.Close()
				b.conn = nil
			}
			b.mu.Unlock()

			b.setStatus(model.ConnectionDisconnected, "")
			continue
		}

		var f bridgeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid bridge frame", "connection", b.connectionID, "error", err)
			continue
		}
		b.handleFrame(f)
	}
}

func (b *Bridge) handleFrame(f bridgeFrame) {
	switch f.Type {
	case "messages":
		if len(f.Items) == 0 {
			return
		}
		select {
		case b.queue <- f.Items:
		case <-b.ctx.Done():
		}
	case "qr":
		b.setStatus(model.ConnectionQrcode, f.Data)
	case "status":
		switch f.State {
		case "connected":
			b.setStatus(model.ConnectionConnected, "")
		case "disconnected":
			b.setStatus(model.ConnectionDisconnected, "")
		}
	default:
		slog.Debug("unhandled bridge frame", "connection", b.connectionID, "type", f.Type)
	}
}

// workLoop drains the batch queue sequentially. One worker per session:
// a batch is processed to completion before the next one starts, which
// gives the pipeline its in-order delivery guarantee.
func (b *Bridge) workLoop() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case batch := <-b.queue:
			b.onBatch(b.ctx, b.session, batch)
		}
	}
}

func (b *Bridge) setStatus(st model.ConnectionStatus, qrcode string) {
	b.session.SetStatus(st)
	if b.onStatus != nil {
		b.onStatus(b.ctx, b.connectionID, st, qrcode)
	}
}
