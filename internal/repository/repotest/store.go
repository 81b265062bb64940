// Package repotest provides in-memory implementations of the repository
// interfaces for tests. All repositories built from one Store share a lock,
// so conditional updates behave like their SQL counterparts.
package repotest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/repository"
)

// Store holds every table.
type Store struct {
	mu            sync.Mutex
	seq           int
	users         map[string]*domain.User
	conversations map[string]*domain.Conversation
	convSeq       map[string]int
	tickets       map[string]*domain.Ticket
	history       []domain.TicketHistory
	messages      []*domain.Message
	notifications []*domain.Notification
	rooms         map[string]*domain.Room
	roomMessages  []*domain.RoomMessage
	images        map[string]*domain.Image

	Users         *Users
	Conversations *Conversations
	Tickets       *Tickets
	History       *History
	Messages      *Messages
	Notifications *Notifications
	Rooms         *Rooms
	RoomMessages  *RoomMessages
	Images        *Images
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		users:         make(map[string]*domain.User),
		conversations: make(map[string]*domain.Conversation),
		convSeq:       make(map[string]int),
		tickets:       make(map[string]*domain.Ticket),
		rooms:         make(map[string]*domain.Room),
		images:        make(map[string]*domain.Image),
	}
	s.Users = &Users{s}
	s.Conversations = &Conversations{s}
	s.Tickets = &Tickets{s}
	s.History = &History{s}
	s.Messages = &Messages{s}
	s.Notifications = &Notifications{s}
	s.Rooms = &Rooms{s}
	s.RoomMessages = &RoomMessages{s}
	s.Images = &Images{s}
	return s
}

var (
	_ repository.UserRepository          = (*Users)(nil)
	_ repository.ConversationRepository  = (*Conversations)(nil)
	_ repository.TicketRepository        = (*Tickets)(nil)
	_ repository.TicketHistoryRepository = (*History)(nil)
	_ repository.MessageRepository       = (*Messages)(nil)
	_ repository.NotificationRepository  = (*Notifications)(nil)
	_ repository.RoomRepository          = (*Rooms)(nil)
	_ repository.RoomMessageRepository   = (*RoomMessages)(nil)
	_ repository.ImageRepository         = (*Images)(nil)
)

func copyLedger(l domain.UnreadLedger) domain.UnreadLedger {
	return l.Snapshot()
}

// ---- users

// Users implements repository.UserRepository.
type Users struct{ s *Store }

// Upsert creates or refreshes a user.
func (r *Users) Upsert(_ context.Context, p domain.Principal) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[p.ExternalID]
	if !ok {
		u = &domain.User{ExternalID: p.ExternalID, CreatedAt: time.Now()}
		r.s.users[p.ExternalID] = u
	}
	u.DisplayName = p.DisplayName
	u.Role = p.Role
	u.UpdatedAt = time.Now()
	out := *u
	return &out, nil
}

// GetByExternalID loads a user.
func (r *Users) GetByExternalID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *u
	return &out, nil
}

// ListByRoles lists users having any of the roles, ordered by id.
func (r *Users) ListByRoles(_ context.Context, roles ...domain.Role) ([]domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.User
	for _, u := range r.s.users {
		for _, role := range roles {
			if u.Role == role {
				out = append(out, *u)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out, nil
}

// SetOnline updates presence.
func (r *Users) SetOnline(_ context.Context, id string, online bool, at time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.IsOnline = online
		u.LastSeen = &at
	})
}

// SaveUploadWarnings stores the warning counter.
func (r *Users) SaveUploadWarnings(_ context.Context, id string, warnings int, last *time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.ImageUploadWarnings = warnings
		u.LastImageWarningAt = last
	})
}

// Ban bans a user until the given instant.
func (r *Users) Ban(_ context.Context, id, reason string, at, until time.Time) error {
	return r.update(id, func(u *domain.User) {
		u.IsBanned = true
		u.BannedAt = &at
		u.BannedUntil = &until
		u.BanReason = reason
	})
}

// LiftBan clears a ban and the warning counter.
func (r *Users) LiftBan(_ context.Context, id string) error {
	return r.update(id, func(u *domain.User) {
		u.IsBanned = false
		u.BannedAt = nil
		u.BannedUntil = nil
		u.BanReason = ""
		u.ImageUploadWarnings = 0
		u.LastImageWarningAt = nil
	})
}

func (r *Users) update(id string, fn func(*domain.User)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(u)
	return nil
}

// ---- conversations

// Conversations implements repository.ConversationRepository.
type Conversations struct{ s *Store }

// Create inserts a conversation.
func (r *Conversations) Create(_ context.Context, c *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.ID = uuid.NewString()
	stored := *c
	r.s.conversations[c.ID] = &stored
	r.s.seq++
	r.s.convSeq[c.ID] = r.s.seq
	return nil
}

// GetByID loads a conversation.
func (r *Conversations) GetByID(_ context.Context, id string) (*domain.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *c
	return &out, nil
}

// FindActiveByOwner returns the owner's most recent active conversation.
func (r *Conversations) FindActiveByOwner(_ context.Context, ownerID string) (*domain.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var best *domain.Conversation
	for _, c := range r.s.conversations {
		if c.OwnerID != ownerID || c.Status != domain.ConversationActive {
			continue
		}
		if best == nil || c.LastMessageAt.After(best.LastMessageAt) ||
			(c.LastMessageAt.Equal(best.LastMessageAt) && r.s.convSeq[c.ID] > r.s.convSeq[best.ID]) {
			best = c
		}
	}
	if best == nil {
		return nil, pgx.ErrNoRows
	}
	out := *best
	return &out, nil
}

// List filters conversations, newest activity first.
func (r *Conversations) List(_ context.Context, f repository.ConversationFilter) ([]domain.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Conversation
	for _, c := range r.s.conversations {
		if f.OwnerID != nil && c.OwnerID != *f.OwnerID {
			continue
		}
		if f.AssignedOperatorID != nil && (c.AssignedOperatorID == nil || *c.AssignedOperatorID != *f.AssignedOperatorID) {
			continue
		}
		if len(f.Statuses) > 0 && !containsStatus(f.Statuses, c.Status) {
			continue
		}
		if f.NeedsHumanOnly && !c.NeedsHumanAttention {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastMessageAt.After(out[j].LastMessageAt) })
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListActive returns every active conversation, oldest activity first.
func (r *Conversations) ListActive(ctx context.Context) ([]domain.Conversation, error) {
	list, err := r.List(ctx, repository.ConversationFilter{Statuses: []domain.ConversationStatus{domain.ConversationActive}})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].LastMessageAt.Before(list[j].LastMessageAt) })
	return list, nil
}

// TransitionStatus moves the status when it currently is one of from.
func (r *Conversations) TransitionStatus(_ context.Context, id string, from []domain.ConversationStatus, to domain.ConversationStatus) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok || !containsStatus(from, c.Status) {
		return false, nil
	}
	c.Status = to
	c.Metadata.InactivityWarningSentAt = nil
	return true, nil
}

// AssignIfUnassigned sets the operator when none is set.
func (r *Conversations) AssignIfUnassigned(_ context.Context, id, operatorID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok || c.AssignedOperatorID != nil {
		return false, nil
	}
	c.AssignedOperatorID = &operatorID
	return true, nil
}

// Assign sets the operator.
func (r *Conversations) Assign(_ context.Context, id, operatorID string) error {
	return r.update(id, func(c *domain.Conversation) { c.AssignedOperatorID = &operatorID })
}

// AttachTicket links a ticket when none is linked.
func (r *Conversations) AttachTicket(_ context.Context, id, ticketID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok || c.TicketID != nil {
		return false, nil
	}
	c.TicketID = &ticketID
	c.NeedsHumanAttention = true
	return true, nil
}

// SetNeedsHumanAttention sets the flag.
func (r *Conversations) SetNeedsHumanAttention(_ context.Context, id string, needed bool) error {
	return r.update(id, func(c *domain.Conversation) { c.NeedsHumanAttention = needed })
}

// IncrementSpam bumps the spam counter.
func (r *Conversations) IncrementSpam(_ context.Context, id string) (int, error) {
	var count int
	err := r.update(id, func(c *domain.Conversation) {
		c.SpamCount++
		count = c.SpamCount
	})
	return count, err
}

// TouchLastMessage records activity.
func (r *Conversations) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(c *domain.Conversation) { c.LastMessageAt = at })
}

// IncrementUnread bumps the ticketless unread counter.
func (r *Conversations) IncrementUnread(_ context.Context, id string) (int, error) {
	var count int
	err := r.update(id, func(c *domain.Conversation) {
		c.UnreadCount++
		count = c.UnreadCount
	})
	return count, err
}

// ResetUnread clears the ticketless unread counter.
func (r *Conversations) ResetUnread(_ context.Context, id string) error {
	return r.update(id, func(c *domain.Conversation) { c.UnreadCount = 0 })
}

// SetInactivityWarning stamps or clears the warning.
func (r *Conversations) SetInactivityWarning(_ context.Context, id string, at *time.Time) error {
	return r.update(id, func(c *domain.Conversation) { c.Metadata.InactivityWarningSentAt = at })
}

func (r *Conversations) update(id string, fn func(*domain.Conversation)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return pgx.ErrNoRows
	}
	fn(c)
	return nil
}

func containsStatus(list []domain.ConversationStatus, s domain.ConversationStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---- tickets

// Tickets implements repository.TicketRepository.
type Tickets struct{ s *Store }

// Create inserts a ticket; a second ticket for a conversation fails with a
// unique violation.
func (r *Tickets) Create(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.tickets {
		if existing.ConversationID == t.ConversationID {
			return &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
	}
	t.ID = uuid.NewString()
	t.UpdatedAt = t.CreatedAt
	stored := *t
	stored.Unread = copyLedger(t.Unread)
	r.s.tickets[t.ID] = &stored
	return nil
}

// Update stores editable fields.
func (r *Tickets) Update(_ context.Context, t *domain.Ticket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.tickets[t.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	stored.Subject = t.Subject
	stored.Status = t.Status
	stored.Priority = t.Priority
	stored.AssignedOperatorID = t.AssignedOperatorID
	stored.ClosedAt = t.ClosedAt
	return nil
}

// GetByID loads a ticket.
func (r *Tickets) GetByID(_ context.Context, id string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *t
	out.Unread = copyLedger(t.Unread)
	return &out, nil
}

// GetByConversation loads the ticket of a conversation.
func (r *Tickets) GetByConversation(_ context.Context, conversationID string) (*domain.Ticket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tickets {
		if t.ConversationID == conversationID {
			out := *t
			out.Unread = copyLedger(t.Unread)
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// AssignIfUnassigned sets the operator when none is set.
func (r *Tickets) AssignIfUnassigned(_ context.Context, id, operatorID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok || t.AssignedOperatorID != nil {
		return false, nil
	}
	t.AssignedOperatorID = &operatorID
	return true, nil
}

// UpdateUnread mutates the ticket ledger under the store lock.
func (r *Tickets) UpdateUnread(_ context.Context, id string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	ledger := copyLedger(t.Unread)
	mutate(&ledger)
	t.Unread = copyLedger(ledger)
	return &ledger, nil
}

// ---- history

// History implements repository.TicketHistoryRepository.
type History struct{ s *Store }

// Create appends an entry.
func (r *History) Create(_ context.Context, h *domain.TicketHistory) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	h.ID = uuid.NewString()
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	r.s.history = append(r.s.history, *h)
	return nil
}

// ListByTicket returns the first limit entries of a ticket in insertion order.
func (r *History) ListByTicket(_ context.Context, ticketID string, limit int) ([]domain.TicketHistory, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.TicketHistory
	for _, h := range r.s.history {
		if h.TicketID == ticketID && (limit <= 0 || len(out) < limit) {
			out = append(out, h)
		}
	}
	return out, nil
}

// ---- messages

// Messages implements repository.MessageRepository.
type Messages struct{ s *Store }

// Create appends a message.
func (r *Messages) Create(_ context.Context, m *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = uuid.NewString()
	stored := *m
	r.s.messages = append(r.s.messages, &stored)
	return nil
}

// GetByID loads a message.
func (r *Messages) GetByID(_ context.Context, id string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id {
			out := *m
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// ListRecent returns the newest messages in chronological order.
func (r *Messages) ListRecent(_ context.Context, conversationID string, limit int, includeInternal bool) ([]domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && (includeInternal || !m.IsInternal) {
			out = append(out, *m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Latest returns the newest public message.
func (r *Messages) Latest(_ context.Context, conversationID string) (*domain.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := len(r.s.messages) - 1; i >= 0; i-- {
		m := r.s.messages[i]
		if m.ConversationID == conversationID && !m.IsInternal {
			out := *m
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}

// EndUserMessageSince reports an end-user message after since.
func (r *Messages) EndUserMessageSince(_ context.Context, conversationID string, since time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && !m.IsInternal && m.IsFromEndUser() && m.CreatedAt.After(since) {
			return true, nil
		}
	}
	return false, nil
}

// CountImagesSince counts a sender's images.
func (r *Messages) CountImagesSince(_ context.Context, conversationID, senderID string, since time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	count := 0
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID && m.SenderID == senderID &&
			m.Type == domain.MessageTypeImage && !m.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// UpdateContent edits a message.
func (r *Messages) UpdateContent(_ context.Context, id, content string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, m := range r.s.messages {
		if m.ID == id {
			m.Content = content
			m.IsEdited = true
			return nil
		}
	}
	return pgx.ErrNoRows
}

// All returns every stored message of a conversation, internal ones included.
func (r *Messages) All(conversationID string) []domain.Message {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Message
	for _, m := range r.s.messages {
		if m.ConversationID == conversationID {
			out = append(out, *m)
		}
	}
	return out
}

// ---- notifications

// Notifications implements repository.NotificationRepository.
type Notifications struct{ s *Store }

// Create inserts a notification.
func (r *Notifications) Create(_ context.Context, n *domain.Notification) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n.ID = uuid.NewString()
	stored := *n
	r.s.notifications = append(r.s.notifications, &stored)
	return nil
}

func (r *Notifications) filter(fn func(*domain.Notification) bool) []domain.Notification {
	var out []domain.Notification
	for i := len(r.s.notifications) - 1; i >= 0; i-- {
		if n := r.s.notifications[i]; fn(n) {
			out = append(out, *n)
		}
	}
	return out
}

// ListUnread lists unread notifications, newest first.
func (r *Notifications) ListUnread(_ context.Context, recipientID string) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.filter(func(n *domain.Notification) bool { return n.RecipientID == recipientID && !n.IsRead }), nil
}

// ListAll lists notifications, newest first.
func (r *Notifications) ListAll(_ context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := r.filter(func(n *domain.Notification) bool { return n.RecipientID == recipientID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountUnread counts unread notifications.
func (r *Notifications) CountUnread(_ context.Context, recipientID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.filter(func(n *domain.Notification) bool { return n.RecipientID == recipientID && !n.IsRead })), nil
}

// MarkRead marks one owned notification read.
func (r *Notifications) MarkRead(_ context.Context, id, recipientID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, n := range r.s.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			if n.ReadAt == nil {
				n.ReadAt = &at
			}
			n.IsRead = true
			return true, nil
		}
	}
	return false, nil
}

// MarkManyRead marks owned unread notifications among ids read.
func (r *Notifications) MarkManyRead(_ context.Context, ids []string, recipientID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var n int64
	for _, notif := range r.s.notifications {
		if _, ok := want[notif.ID]; ok && notif.RecipientID == recipientID && !notif.IsRead {
			notif.IsRead = true
			notif.ReadAt = &at
			n++
		}
	}
	return n, nil
}

// MarkConversationRead marks a conversation's unread notifications read.
func (r *Notifications) MarkConversationRead(_ context.Context, recipientID, conversationID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, notif := range r.s.notifications {
		if notif.RecipientID == recipientID && notif.ConversationID == conversationID && !notif.IsRead {
			notif.IsRead = true
			notif.ReadAt = &at
			n++
		}
	}
	return n, nil
}

// Delete removes one owned notification.
func (r *Notifications) Delete(_ context.Context, id, recipientID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, n := range r.s.notifications {
		if n.ID == id && n.RecipientID == recipientID {
			r.s.notifications = append(r.s.notifications[:i], r.s.notifications[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// DeleteRead removes the recipient's read notifications.
func (r *Notifications) DeleteRead(_ context.Context, recipientID string) (int64, error) {
	return r.deleteWhere(func(n *domain.Notification) bool { return n.RecipientID == recipientID && n.IsRead }), nil
}

// DeleteByConversation removes a conversation's notifications.
func (r *Notifications) DeleteByConversation(_ context.Context, conversationID string) (int64, error) {
	return r.deleteWhere(func(n *domain.Notification) bool { return n.ConversationID == conversationID }), nil
}

func (r *Notifications) deleteWhere(fn func(*domain.Notification) bool) int64 {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	kept := r.s.notifications[:0]
	var removed int64
	for _, n := range r.s.notifications {
		if fn(n) {
			removed++
			continue
		}
		kept = append(kept, n)
	}
	r.s.notifications = kept
	return removed
}

// ---- rooms

// Rooms implements repository.RoomRepository.
type Rooms struct{ s *Store }

// Create inserts a room; a second general room fails with a unique violation.
func (r *Rooms) Create(_ context.Context, room *domain.Room) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if room.IsGeneral {
		for _, existing := range r.s.rooms {
			if existing.IsGeneral {
				return &pgconn.PgError{Code: "23505", Message: "duplicate general room"}
			}
		}
	}
	room.ID = uuid.NewString()
	stored := *room
	stored.Participants = append([]string(nil), room.Participants...)
	r.s.rooms[room.ID] = &stored
	return nil
}

func (r *Rooms) copyRoom(room *domain.Room) *domain.Room {
	out := *room
	out.Participants = append([]string(nil), room.Participants...)
	out.Unread = copyLedger(room.Unread)
	return &out
}

// GetByID loads a room.
func (r *Rooms) GetByID(_ context.Context, id string) (*domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return r.copyRoom(room), nil
}

// GetGeneral loads the general room.
func (r *Rooms) GetGeneral(_ context.Context) (*domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, room := range r.s.rooms {
		if room.IsGeneral {
			return r.copyRoom(room), nil
		}
	}
	return nil, pgx.ErrNoRows
}

// List returns every room.
func (r *Rooms) List(_ context.Context) ([]domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Room
	for _, room := range r.s.rooms {
		out = append(out, *r.copyRoom(room))
	}
	return out, nil
}

// ListForParticipant returns the rooms a principal belongs to.
func (r *Rooms) ListForParticipant(_ context.Context, principalID string) ([]domain.Room, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Room
	for _, room := range r.s.rooms {
		if room.HasParticipant(principalID) {
			out = append(out, *r.copyRoom(room))
		}
	}
	return out, nil
}

// UpdateDetails replaces title and participants.
func (r *Rooms) UpdateDetails(_ context.Context, id, title string, participants []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[id]
	if !ok {
		return pgx.ErrNoRows
	}
	room.Title = title
	room.Participants = append([]string(nil), participants...)
	return nil
}

// TouchLastMessage records activity.
func (r *Rooms) TouchLastMessage(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[id]
	if !ok {
		return pgx.ErrNoRows
	}
	room.LastMessageAt = at
	return nil
}

// UpdateUnread mutates the room ledger under the store lock.
func (r *Rooms) UpdateUnread(_ context.Context, id string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	room, ok := r.s.rooms[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	ledger := copyLedger(room.Unread)
	mutate(&ledger)
	room.Unread = copyLedger(ledger)
	return &ledger, nil
}

// RoomMessages implements repository.RoomMessageRepository.
type RoomMessages struct{ s *Store }

// Create appends a room message.
func (r *RoomMessages) Create(_ context.Context, m *domain.RoomMessage) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m.ID = uuid.NewString()
	stored := *m
	r.s.roomMessages = append(r.s.roomMessages, &stored)
	return nil
}

// ListRecent returns the newest room messages in chronological order.
func (r *RoomMessages) ListRecent(_ context.Context, roomID string, limit int) ([]domain.RoomMessage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.RoomMessage
	for _, m := range r.s.roomMessages {
		if m.RoomID == roomID {
			out = append(out, *m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// ---- images

// Images implements repository.ImageRepository.
type Images struct{ s *Store }

// Create stores an image.
func (r *Images) Create(_ context.Context, img *domain.Image) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img.ID = uuid.NewString()
	stored := *img
	r.s.images[img.ID] = &stored
	return nil
}

// GetByID loads an image.
func (r *Images) GetByID(_ context.Context, id string) (*domain.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img, ok := r.s.images[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := *img
	return &out, nil
}

// FindByChecksum finds an image with the same bytes in a conversation.
func (r *Images) FindByChecksum(_ context.Context, conversationID, checksum string) (*domain.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, img := range r.s.images {
		if img.ConversationID == conversationID && img.Checksum == checksum {
			out := *img
			out.Data = nil
			return &out, nil
		}
	}
	return nil, pgx.ErrNoRows
}
