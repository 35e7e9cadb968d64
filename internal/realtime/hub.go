package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcast scopes. Host-scoped messages are delivered only to connections in
// the room's host set; direct messages to a single caller never leave the
// local instance.
const (
	ScopeRoom  = "room"
	ScopeHosts = "hosts"
)

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Publisher publishes activity events for cross-instance broadcast.
type Publisher interface {
	PublishActivityEvent(activityID, event, scope, origin string, payload []byte) error
}

// Subscriber subscribes to an activity's channel and invokes handler for
// incoming events. The returned cancel stops the subscription.
type Subscriber interface {
	SubscribeActivity(activityID string, handler func(event, scope, origin string, payload []byte)) (cancel func(), err error)
}

// HostResolver returns the connection ids currently hosting an activity.
// The hub needs it to deliver host-scoped messages arriving from the bridge.
type HostResolver func(activityID string) []string

// Hub fans activity events out to connected clients. It tracks which
// connections are attached to which activity rooms and bridges broadcasts
// across instances through an optional Publisher/Subscriber pair.
type Hub struct {
	instanceID string

	mu    sync.RWMutex
	rooms map[string]map[string]*Client // activity id -> conn id -> client
	conns map[string]*Client
	subs  map[string]func() // cancel bridge subscription per activity

	logger *zap.Logger
	pub    Publisher
	sub    Subscriber
	hosts  HostResolver
}

// NewHub creates a hub. pub and sub may be nil for single-instance use.
func NewHub(logger *zap.Logger, pub Publisher, sub Subscriber) *Hub {
	return &Hub{
		instanceID: uuid.New().String(),
		rooms:      make(map[string]map[string]*Client),
		conns:      make(map[string]*Client),
		subs:       make(map[string]func()),
		logger:     logger,
		pub:        pub,
		sub:        sub,
	}
}

// SetHostResolver sets the host lookup used for bridged host-scoped messages.
func (h *Hub) SetHostResolver(fn HostResolver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hosts = fn
}

// RegisterConn tracks a newly admitted connection.
func (h *Hub) RegisterConn(c *Client) {
	h.mu.Lock()
	h.conns[c.ID] = c
	h.mu.Unlock()
}

// UnregisterConn drops a connection and detaches it from any room sets it is
// still in. Room-level departures are the router's job; this is the backstop.
func (h *Hub) UnregisterConn(c *Client) {
	h.mu.Lock()
	delete(h.conns, c.ID)
	for activityID, clients := range h.rooms {
		if _, ok := clients[c.ID]; ok {
			h.detachLocked(activityID, c.ID)
		}
	}
	h.mu.Unlock()
}

// Attach adds a connection to an activity's delivery set. The first local
// attachment opens the bridge subscription for that activity.
func (h *Hub) Attach(activityID string, c *Client) {
	h.mu.Lock()
	if h.rooms[activityID] == nil {
		h.rooms[activityID] = make(map[string]*Client)
		if h.sub != nil {
			cancel, err := h.sub.SubscribeActivity(activityID, func(event, scope, origin string, payload []byte) {
				h.deliverBridged(activityID, event, scope, origin, payload)
			})
			if err != nil {
				h.logger.Warn("bridge subscribe failed", zap.String("activity_id", activityID), zap.Error(err))
			} else {
				h.subs[activityID] = cancel
			}
		}
	}
	h.rooms[activityID][c.ID] = c
	h.mu.Unlock()
}

// Detach removes a connection from an activity's delivery set. The last local
// detachment closes the bridge subscription.
func (h *Hub) Detach(activityID, connID string) {
	h.mu.Lock()
	h.detachLocked(activityID, connID)
	h.mu.Unlock()
}

func (h *Hub) detachLocked(activityID, connID string) {
	clients := h.rooms[activityID]
	if clients == nil {
		return
	}
	delete(clients, connID)
	if len(clients) == 0 {
		delete(h.rooms, activityID)
		if cancel, ok := h.subs[activityID]; ok {
			cancel()
			delete(h.subs, activityID)
		}
	}
}

// BroadcastToRoom sends an event to every connection in the room, locally and
// through the bridge.
func (h *Hub) BroadcastToRoom(activityID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.sendLocal(activityID, nil, WSMessage{Event: event, Data: data})
	h.publish(activityID, event, ScopeRoom, data)
}

// BroadcastToHosts sends an event to the given host connections, locally and
// through the bridge with host scope.
func (h *Hub) BroadcastToHosts(activityID string, hostIDs []string, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.String("event", event), zap.Error(err))
		return
	}
	h.sendLocal(activityID, hostIDs, WSMessage{Event: event, Data: data})
	h.publish(activityID, event, ScopeHosts, data)
}

// SendToConn sends an event directly to one local connection.
func (h *Hub) SendToConn(connID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal direct send", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	c := h.conns[connID]
	h.mu.RUnlock()
	if c == nil {
		return
	}
	c.enqueue(WSMessage{Event: event, Data: data})
}

// sendLocal delivers to the activity's local connections; only records whose
// conn id appears in only (all when only is nil). Slow consumers are skipped
// rather than blocking the caller.
func (h *Hub) sendLocal(activityID string, only []string, msg WSMessage) {
	var filter map[string]struct{}
	if only != nil {
		filter = make(map[string]struct{}, len(only))
		for _, id := range only {
			filter[id] = struct{}{}
		}
	}
	h.mu.RLock()
	clients := h.rooms[activityID]
	targets := make([]*Client, 0, len(clients))
	for id, c := range clients {
		if filter != nil {
			if _, ok := filter[id]; !ok {
				continue
			}
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.enqueue(msg)
	}
}

func (h *Hub) publish(activityID, event, scope string, data []byte) {
	if h.pub == nil {
		return
	}
	if err := h.pub.PublishActivityEvent(activityID, event, scope, h.instanceID, data); err != nil {
		h.logger.Warn("bridge publish failed", zap.String("activity_id", activityID), zap.String("event", event), zap.Error(err))
	}
}

// deliverBridged re-broadcasts a bridge message locally, skipping messages
// this instance published itself.
func (h *Hub) deliverBridged(activityID, event, scope, origin string, payload []byte) {
	if origin == h.instanceID {
		return
	}
	msg := WSMessage{Event: event, Data: payload}
	switch scope {
	case ScopeHosts:
		h.mu.RLock()
		resolve := h.hosts
		h.mu.RUnlock()
		if resolve == nil {
			return
		}
		h.sendLocal(activityID, resolve(activityID), msg)
	default:
		h.sendLocal(activityID, nil, msg)
	}
}
