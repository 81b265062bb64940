package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/observability"
)

// Frame is the JSON envelope exchanged with clients.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outboundFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Hub is the process-wide registry of live connections and the rooms they
// joined. Every delivery is non-blocking: a client whose buffer is full loses
// the frame instead of stalling the sender.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*Conn]struct{}
	principals map[string]map[*Conn]struct{}
	sendBuffer int
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewHub creates an empty hub.
func NewHub(sendBuffer int, logger *zap.Logger, metrics *observability.Metrics) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		rooms:      make(map[string]map[*Conn]struct{}),
		principals: make(map[string]map[*Conn]struct{}),
		sendBuffer: sendBuffer,
		logger:     logger,
		metrics:    metrics,
	}
}

// Register adds a connection for the principal.
func (h *Hub) Register(principal domain.Principal) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		principal: principal,
		hub:       h,
		send:      make(chan []byte, h.sendBuffer),
		rooms:     make(map[string]struct{}),
	}
	h.mu.Lock()
	set, ok := h.principals[principal.ExternalID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.principals[principal.ExternalID] = set
	}
	set[c] = struct{}{}
	h.mu.Unlock()
	h.metrics.ConnectionOpened()
	return c
}

// Unregister removes the connection from every room and the registry and
// closes its outbound channel. It reports whether the principal has no other
// live connection left.
func (h *Hub) Unregister(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	for room := range c.rooms {
		h.leaveLocked(c, room)
	}
	last := true
	if set, ok := h.principals[c.principal.ExternalID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.principals, c.principal.ExternalID)
		} else {
			last = false
		}
	}
	close(c.send)
	h.metrics.ConnectionClosed()
	return last
}

// ToRoom sends an event to every connection in the room.
func (h *Hub) ToRoom(room, event string, payload any) {
	h.ToRoomExcept(room, "", event, payload)
}

// ToRoomExcept sends an event to the room, skipping one connection id.
func (h *Hub) ToRoomExcept(room, exceptConnID, event string, payload any) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c.id == exceptConnID {
			continue
		}
		h.deliverLocked(c, event, frame)
	}
}

// ToPrincipal sends an event to every live connection of the principal.
func (h *Hub) ToPrincipal(principalID, event string, payload any) {
	frame, ok := h.encode(event, payload)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.principals[principalID] {
		h.deliverLocked(c, event, frame)
	}
}

// IsOnline reports whether the principal has at least one live connection.
func (h *Hub) IsOnline(principalID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.principals[principalID]) > 0
}

// IsViewing reports whether any live connection of the principal currently
// has the conversation open.
func (h *Hub) IsViewing(principalID, conversationID string) bool {
	if conversationID == "" {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.principals[principalID] {
		if c.viewingConversationID == conversationID {
			return true
		}
	}
	return false
}

// RoomSize returns the number of connections in a room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// ConnectionCount returns the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, conns := range h.principals {
		total += len(conns)
	}
	return total
}

func (h *Hub) encode(event string, payload any) ([]byte, bool) {
	frame, err := json.Marshal(outboundFrame{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("encode realtime frame", zap.String("event", event), zap.Error(err))
		return nil, false
	}
	return frame, true
}

// deliverLocked requires h.mu held in either mode.
func (h *Hub) deliverLocked(c *Conn, event string, frame []byte) {
	if c.closed {
		return
	}
	select {
	case c.send <- frame:
	default:
		h.metrics.RecordDroppedFrame()
		h.logger.Warn("dropping frame for slow client",
			zap.String("event", event),
			zap.String("principal_id", c.principal.ExternalID),
			zap.String("conn_id", c.id))
	}
}

// joinLocked requires h.mu held for writing.
func (h *Hub) joinLocked(c *Conn, room string) {
	if c.closed {
		return
	}
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Conn]struct{})
		h.rooms[room] = set
	}
	set[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

// leaveLocked requires h.mu held for writing.
func (h *Hub) leaveLocked(c *Conn, room string) {
	if set, ok := h.rooms[room]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}
