// Package hub fans messages out to the set of connected viewers.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"dockpulse/internal/models"
	"dockpulse/internal/telemetry"
)

var (
	ErrClosed         = errors.New("hub closed")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrNotRegistered  = errors.New("connection not registered")
)

// Conn is one viewer transport. WriteMessage must honour ctx where it can;
// Close must unblock a pending WriteMessage.
type Conn interface {
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
}

type peer struct {
	conn Conn
	mu   sync.Mutex
}

type Hub struct {
	writeTimeout time.Duration
	log          *slog.Logger
	metrics      *telemetry.Metrics

	mu     sync.Mutex
	peers  map[Conn]*peer
	closed bool
}

func New(writeTimeout time.Duration, logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	return &Hub{
		writeTimeout: writeTimeout,
		log:          logger,
		metrics:      metrics,
		peers:        map[Conn]*peer{},
	}
}

func (h *Hub) Register(c Conn) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.peers[c] = &peer{conn: c}
	h.metrics.SetViewers(len(h.peers))
	return nil
}

// Deregister removes c and closes it. It is a no-op for connections the hub
// no longer holds.
func (h *Hub) Deregister(c Conn) {
	if h.remove(c) {
		_ = c.Close()
	}
}

func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Broadcast delivers msg to every connection registered when it starts and
// returns how many deliveries succeeded. Failed or slow connections are
// dropped.
func (h *Hub) Broadcast(ctx context.Context, msg models.Message) int {
	b, err := json.Marshal(msg)
	if err != nil {
		h.log.Error("encode message", "type", msg.Type, "err", err)
		return 0
	}

	h.mu.Lock()
	peers := make([]*peer, 0, len(h.peers))
	for _, p := range h.peers {
		peers = append(peers, p)
	}
	h.mu.Unlock()

	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, p := range peers {
		wg.Add(1)
		go func(p *peer) {
			defer wg.Done()
			if err := h.deliver(ctx, p, b); err != nil {
				h.fail(p.conn, msg.Type, err)
				return
			}
			delivered.Add(1)
		}(p)
	}
	wg.Wait()
	return int(delivered.Load())
}

// Send delivers msg to a single registered connection under the same rules
// as Broadcast.
func (h *Hub) Send(ctx context.Context, c Conn, msg models.Message) error {
	h.mu.Lock()
	p, ok := h.peers[c]
	h.mu.Unlock()
	if !ok {
		return ErrNotRegistered
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := h.deliver(ctx, p, b); err != nil {
		h.fail(c, msg.Type, err)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return nil
}

// Close deregisters and closes every connection. Later Register calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	peers := h.peers
	h.peers = map[Conn]*peer{}
	h.metrics.SetViewers(0)
	h.mu.Unlock()

	for c := range peers {
		_ = c.Close()
	}
	if len(peers) > 0 {
		h.log.Info("hub drained", "connections", len(peers))
	}
}

func (h *Hub) deliver(ctx context.Context, p *peer, b []byte) error {
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		done <- p.conn.WriteMessage(ctx, b)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) fail(c Conn, msgType string, err error) {
	if !h.remove(c) {
		return
	}
	_ = c.Close()
	h.metrics.DeliveryFailed()
	h.log.Warn("viewer dropped", "type", msgType, "err", err)
}

func (h *Hub) remove(c Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.peers[c]; !ok {
		return false
	}
	delete(h.peers, c)
	h.metrics.SetViewers(len(h.peers))
	return true
}
