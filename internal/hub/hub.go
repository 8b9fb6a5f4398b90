// Package hub fans job state changes out to live WebSocket
// subscribers and drives the per-connection snapshot heartbeat.
package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultHeartbeat = time.Second

// Conn is the minimal connection surface the hub writes to. The
// WebSocket adapter lives in the API layer; tests plug in fakes.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// subscriber serializes writes to one connection, so a publish and a
// heartbeat never interleave on the wire.
type subscriber struct {
	mu   sync.Mutex
	conn Conn
}

func (s *subscriber) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(data)
}

// Hub owns the live subscriber set. Snapshot is called once per
// heartbeat tick per subscriber to build the full-state message.
type Hub struct {
	snapshot  func() any
	heartbeat time.Duration
	log       *zap.Logger

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func New(snapshot func() any, log *zap.Logger) *Hub {
	return &Hub{
		snapshot:  snapshot,
		heartbeat: defaultHeartbeat,
		log:       log,
		subs:      make(map[*subscriber]struct{}),
	}
}

// Publish serializes v once and pushes it to every subscriber. Each
// subscriber sees published messages in publish order; ordering
// across subscribers is unspecified. A subscriber whose send fails is dropped
// immediately; one bounded write attempt, never a retry.
func (h *Hub) Publish(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal broadcast", zap.Error(err))
		return
	}
	for _, sub := range h.subscribers() {
		if err := sub.send(payload); err != nil {
			h.drop(sub)
			h.log.Debug("subscriber dropped on publish", zap.Error(err))
		}
	}
}

// Run registers conn and drives its heartbeat: a full snapshot every
// second until the context ends or a write fails. It blocks for the
// connection's lifetime and unregisters on the way out.
func (h *Hub) Run(ctx context.Context, conn Conn) {
	sub := &subscriber{conn: conn}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.log.Info("subscriber connected", zap.Int("subscribers", n))
	defer h.drop(sub)

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := json.Marshal(h.snapshot())
			if err != nil {
				h.log.Error("marshal snapshot", zap.Error(err))
				continue
			}
			if err := sub.send(payload); err != nil {
				h.log.Debug("subscriber dropped on heartbeat", zap.Error(err))
				return
			}
		}
	}
}

// Subscribers reports the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// subscribers snapshots the set, so publishing never iterates a map
// that registration or removal is mutating.
func (h *Hub) subscribers() []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.subs))
	for sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) drop(sub *subscriber) {
	h.mu.Lock()
	_, present := h.subs[sub]
	delete(h.subs, sub)
	h.mu.Unlock()
	if present {
		_ = sub.conn.Close()
	}
}
