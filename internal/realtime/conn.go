package realtime

import "github.com/spec-kit/livechat-service/internal/domain"

// Conn is the context of one live connection: who it belongs to, which rooms
// it joined and what it is currently looking at. Its mutable fields are
// guarded by the owning hub's lock.
type Conn struct {
	id        string
	principal domain.Principal
	hub       *Hub
	send      chan []byte

	closed                bool
	rooms                 map[string]struct{}
	conversationID        string
	viewingConversationID string
	viewingTicketID       string
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Principal returns the authenticated principal.
func (c *Conn) Principal() domain.Principal { return c.principal }

// Outbound yields encoded frames until the connection is unregistered.
func (c *Conn) Outbound() <-chan []byte { return c.send }

// ConversationID returns the conversation bound to this connection.
func (c *Conn) ConversationID() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.conversationID
}

// BindConversation switches the connection to a conversation room, leaving
// the previously bound one.
func (c *Conn) BindConversation(id string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.conversationID == id {
		c.hub.joinLocked(c, ConversationRoom(id))
		return
	}
	if c.conversationID != "" {
		c.hub.leaveLocked(c, ConversationRoom(c.conversationID))
	}
	c.conversationID = id
	if id != "" {
		c.hub.joinLocked(c, ConversationRoom(id))
	}
}

// JoinRoom adds the connection to a room.
func (c *Conn) JoinRoom(room string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.joinLocked(c, room)
}

// LeaveRoom removes the connection from a room.
func (c *Conn) LeaveRoom(room string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.hub.leaveLocked(c, room)
}

// InRoom reports membership.
func (c *Conn) InRoom(room string) bool {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// SetViewing records that the connection has a ticket/conversation open.
func (c *Conn) SetViewing(conversationID, ticketID string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	c.viewingConversationID = conversationID
	c.viewingTicketID = ticketID
}

// ClearViewing forgets the viewing state if it still points at conversationID.
// An empty id clears unconditionally.
func (c *Conn) ClearViewing(conversationID string) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if conversationID == "" || c.viewingConversationID == conversationID {
		c.viewingConversationID = ""
		c.viewingTicketID = ""
	}
}

// Emit sends an event to this connection only.
func (c *Conn) Emit(event string, payload any) {
	frame, ok := c.hub.encode(event, payload)
	if !ok {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	c.hub.deliverLocked(c, event, frame)
}
