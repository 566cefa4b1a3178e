package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"pixrouter/selector"
)

const wsWriteTimeout = 10 * time.Second

// decisionEvent is the wire form of one streamed decision. Only hashed
// fingerprints and routing metadata cross the socket.
type decisionEvent struct {
	RulesetID   int64     `json:"ruleset_id"`
	Version     int64     `json:"version"`
	RuleID      int64     `json:"rule_id,omitempty"`
	Kind        string    `json:"kind"`
	Gateway     string    `json:"gateway,omitempty"`
	Fingerprint string    `json:"fingerprint"`
	LatencyUS   int64     `json:"latency_us"`
	ObservedAt  time.Time `json:"observed_at"`
}

// StreamHub fans decision events out to websocket subscribers. Publish
// never blocks; a subscriber that falls behind loses events instead of
// stalling selections.
type StreamHub struct {
	logger *slog.Logger
	mu     sync.Mutex
	subs   map[chan decisionEvent]struct{}
}

func NewStreamHub(logger *slog.Logger) *StreamHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHub{logger: logger, subs: make(map[chan decisionEvent]struct{})}
}

// Publish forwards one decision to every subscriber. Wire it as a
// selector.OnDecision hook.
func (h *StreamHub) Publish(ev selector.Event) {
	wire := decisionEvent{
		RulesetID:   ev.RulesetID,
		Version:     ev.Version,
		RuleID:      ev.RuleID,
		Kind:        ev.Kind.String(),
		Gateway:     ev.Gateway,
		Fingerprint: ev.Fingerprint,
		LatencyUS:   ev.Latency.Microseconds(),
		ObservedAt:  time.Now().UTC(),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- wire:
		default:
		}
	}
}

func (h *StreamHub) subscribe() chan decisionEvent {
	ch := make(chan decisionEvent, 64)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *StreamHub) unsubscribe(ch chan decisionEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// DecisionStream upgrades the request and streams decision events until
// the client goes away.
func (s *Server) DecisionStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		s.logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	if err := s.streamDecisions(r.Context(), conn); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamDecisions(ctx context.Context, conn *websocket.Conn) error {
	events := s.hub.subscribe()
	defer s.hub.unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-events:
			if err := writeDecisionEvent(ctx, conn, ev); err != nil {
				return err
			}
		}
	}
}

func writeDecisionEvent(ctx context.Context, conn *websocket.Conn, ev decisionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
