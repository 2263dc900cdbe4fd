// Package realtime tracks live dashboard subscribers and fans analytics
// pushes out to them.
package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"linkpulse/internal/analytics"
	"linkpulse/internal/chain"
)

// Message types pushed to subscribers.
const (
	MsgRealtime  = "analytics:realtime"
	MsgNewView   = "analytics:new_view"
	MsgNewClick  = "analytics:new_click"
	MsgPong      = "pong"
	MsgHeartbeat = "heartbeat"
	MsgError     = "error"
)

// Error codes sent to subscribers.
const (
	CodeProfileNotFound   = "PROFILE_NOT_FOUND"
	CodeSubscriptionError = "SUBSCRIPTION_ERROR"
)

const subscriberBuffer = 256

// Envelope is one server-to-client message.
type Envelope struct {
	Type        string      `json:"type"`
	ProfileID   string      `json:"profileId,omitempty"`
	Data        interface{} `json:"data,omitempty"`
	Timestamp   int64       `json:"timestamp"`
	Message     string      `json:"message,omitempty"`
	Code        string      `json:"code,omitempty"`
	Connections int         `json:"connections,omitempty"`
}

// Subscriber is one connected dashboard. Outbound messages go through a
// bounded queue; a full queue drops the newest message and flags the
// subscriber for disconnect.
type Subscriber struct {
	send      chan Envelope
	closeOnce sync.Once
	closed    chan struct{}
}

// NewSubscriber creates a detached subscriber. Exported for testing.
func NewSubscriber() *Subscriber {
	return &Subscriber{
		send:   make(chan Envelope, subscriberBuffer),
		closed: make(chan struct{}),
	}
}

// Outbound returns the channel the connection writer drains.
func (s *Subscriber) Outbound() <-chan Envelope { return s.send }

// Closed is signalled when the hub flags the subscriber for disconnect.
func (s *Subscriber) Closed() <-chan struct{} { return s.closed }

// flagClose marks the subscriber for disconnect. Idempotent.
func (s *Subscriber) flagClose() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// offer enqueues without blocking. Returns false when the queue is full;
// the message is dropped and the subscriber flagged.
func (s *Subscriber) offer(msg Envelope) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.send <- msg:
		return true
	default:
		s.flagClose()
		return false
	}
}

// Hub maintains the profile → subscriber mapping. The mutex guards only
// structural changes and broadcast snapshots, never a network write.
type Hub struct {
	analytics    *analytics.Service
	chainAdapter chain.Adapter
	logger       *slog.Logger

	heartbeatInterval time.Duration

	mu          sync.Mutex
	subscribers map[string]map[*Subscriber]struct{}
	connections map[*Subscriber]struct{}
}

// NewHub wires the realtime fan-out.
func NewHub(analyticsService *analytics.Service, chainAdapter chain.Adapter, logger *slog.Logger, heartbeatInterval time.Duration) *Hub {
	if heartbeatInterval <= 0 {
		heartbeatInterval = 30 * time.Second
	}
	return &Hub{
		analytics:         analyticsService,
		chainAdapter:      chainAdapter,
		logger:            logger,
		heartbeatInterval: heartbeatInterval,
		subscribers:       make(map[string]map[*Subscriber]struct{}),
		connections:       make(map[*Subscriber]struct{}),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(sub *Subscriber) {
	h.mu.Lock()
	h.connections[sub] = struct{}{}
	h.mu.Unlock()
}

// Unregister removes a connection and all its profile subscriptions.
func (h *Hub) Unregister(sub *Subscriber) {
	h.mu.Lock()
	delete(h.connections, sub)
	for profileID, subs := range h.subscribers {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, profileID)
		}
	}
	h.mu.Unlock()
	sub.flagClose()
}

// Subscribe attaches a connection to a profile stream.
func (h *Hub) Subscribe(sub *Subscriber, profileID string) {
	h.mu.Lock()
	if h.subscribers[profileID] == nil {
		h.subscribers[profileID] = make(map[*Subscriber]struct{})
	}
	h.subscribers[profileID][sub] = struct{}{}
	h.mu.Unlock()
}

// Unsubscribe detaches a connection from a profile stream.
func (h *Hub) Unsubscribe(sub *Subscriber, profileID string) {
	h.mu.Lock()
	if subs := h.subscribers[profileID]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(h.subscribers, profileID)
		}
	}
	h.mu.Unlock()
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

// snapshot copies the subscriber set for a profile so broadcasting happens
// outside the lock.
func (h *Hub) snapshot(profileID string) []*Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := make([]*Subscriber, 0, len(h.subscribers[profileID]))
	for sub := range h.subscribers[profileID] {
		subs = append(subs, sub)
	}
	return subs
}

// subscribedProfiles lists profiles with at least one subscriber.
func (h *Hub) subscribedProfiles() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	profiles := make([]string, 0, len(h.subscribers))
	for profileID := range h.subscribers {
		profiles = append(profiles, profileID)
	}
	return profiles
}

func (h *Hub) broadcast(profileID string, msg Envelope) {
	dropped := 0
	for _, sub := range h.snapshot(profileID) {
		if !sub.offer(msg) {
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.Debug("Dropped realtime messages on backpressure",
			slog.String("profile_id", profileID),
			slog.Int("subscribers", dropped))
	}
}

// PublishView implements tracking.Publisher. Called after the store write
// commits.
func (h *Hub) PublishView(profileID string, payload map[string]interface{}) {
	h.broadcast(profileID, Envelope{
		Type:      MsgNewView,
		ProfileID: profileID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishClick implements tracking.Publisher.
func (h *Hub) PublishClick(profileID string, payload map[string]interface{}) {
	h.broadcast(profileID, Envelope{
		Type:      MsgNewClick,
		ProfileID: profileID,
		Data:      payload,
		Timestamp: time.Now().UnixMilli(),
	})
}

// pushRealtime sends a fresh live tuple to one subscriber or, when sub is
// nil, to every subscriber of the profile.
func (h *Hub) pushRealtime(ctx context.Context, profileID string, sub *Subscriber) {
	stats, err := h.analytics.GetRealTimeAnalytics(ctx, profileID)
	if err != nil {
		h.logger.Warn("Failed to load realtime stats",
			slog.String("profile_id", profileID),
			slog.Any("error", err))
		return
	}
	msg := Envelope{
		Type:      MsgRealtime,
		ProfileID: profileID,
		Data:      stats,
		Timestamp: time.Now().UnixMilli(),
	}
	if sub != nil {
		sub.offer(msg)
		return
	}
	h.broadcast(profileID, msg)
}

// Run drives the periodic pushes: live tuples every 10 s to each subscribed
// profile and a heartbeat at the configured interval. Blocks until ctx is
// done.
func (h *Hub) Run(ctx context.Context) {
	statsTicker := time.NewTicker(10 * time.Second)
	heartbeatTicker := time.NewTicker(h.heartbeatInterval)
	defer statsTicker.Stop()
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-statsTicker.C:
			for _, profileID := range h.subscribedProfiles() {
				h.pushRealtime(ctx, profileID, nil)
			}
		case <-heartbeatTicker.C:
			h.heartbeat()
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) heartbeat() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.connections))
	for sub := range h.connections {
		subs = append(subs, sub)
	}
	count := len(subs)
	h.mu.Unlock()

	msg := Envelope{
		Type:        MsgHeartbeat,
		Timestamp:   time.Now().UnixMilli(),
		Connections: count,
	}
	for _, sub := range subs {
		sub.offer(msg)
	}
}
