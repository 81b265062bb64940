package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/observability"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

// LedgerService owns every unread counter: the per-principal maps of tickets
// and rooms and the plain counter of ticketless conversations. Each mutation
// is applied atomically in storage and then broadcast with the full map.
type LedgerService struct {
	users         repository.UserRepository
	tickets       repository.LedgerStore
	rooms         repository.LedgerStore
	conversations repository.ConversationRepository
	broadcaster   Broadcaster
	metrics       *observability.Metrics
	logger        *zap.Logger
}

// LedgerDependencies bundles collaborators.
type LedgerDependencies struct {
	UserRepo         repository.UserRepository
	TicketLedger     repository.LedgerStore
	RoomLedger       repository.LedgerStore
	ConversationRepo repository.ConversationRepository
	Broadcaster      Broadcaster
	Metrics          *observability.Metrics
	Logger           *zap.Logger
}

// NewLedgerService creates the service.
func NewLedgerService(deps LedgerDependencies) *LedgerService {
	return &LedgerService{
		users:         deps.UserRepo,
		tickets:       deps.TicketLedger,
		rooms:         deps.RoomLedger,
		conversations: deps.ConversationRepo,
		broadcaster:   deps.Broadcaster,
		metrics:       deps.Metrics,
		logger:        nopLogger(deps.Logger),
	}
}

// operatorRoster loads the current support and admin users.
func (s *LedgerService) operatorRoster(ctx context.Context) (map[string]domain.Role, []string, error) {
	operators, err := s.users.ListByRoles(ctx, domain.RoleSupport, domain.RoleAdmin)
	if err != nil {
		return nil, nil, err
	}
	roster := make(map[string]domain.Role, len(operators))
	ids := make([]string, 0, len(operators))
	for _, op := range operators {
		roster[op.ExternalID] = op.Role
		ids = append(ids, op.ExternalID)
	}
	return roster, ids, nil
}

// RecordTicketMessage updates a ticket ledger for a new message. End-user
// messages bump every operator; operator messages only zero the sender.
func (s *LedgerService) RecordTicketMessage(ctx context.Context, ticketID, conversationID string, sender domain.Principal) (*domain.UnreadLedger, error) {
	roster, operatorIDs, err := s.operatorRoster(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	recipients := operatorIDs
	if sender.Role.IsOperator() {
		recipients = nil
	}
	return s.mutateTicket(ctx, ticketID, conversationID, roster, "increment", func(l *domain.UnreadLedger) {
		l.Increment(sender.ExternalID, recipients)
	})
}

// MarkTicketRead zeroes the principal's entry on a ticket. Repeated calls
// leave the same state.
func (s *LedgerService) MarkTicketRead(ctx context.Context, ticketID, conversationID, principalID string) (*domain.UnreadLedger, error) {
	roster, _, err := s.operatorRoster(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return s.mutateTicket(ctx, ticketID, conversationID, roster, "mark_read", func(l *domain.UnreadLedger) {
		l.MarkRead(principalID)
	})
}

func (s *LedgerService) mutateTicket(ctx context.Context, ticketID, conversationID string, roster map[string]domain.Role, op string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error) {
	ledger, err := s.tickets.UpdateUnread(ctx, ticketID, func(l *domain.UnreadLedger) {
		mutate(l)
		l.Recompute(roster)
	})
	if err != nil {
		return nil, notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	s.metrics.RecordLedgerMutation("ticket", op)
	snap := ledger.Snapshot()
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventUnreadUpdate, dto.UnreadUpdatePayload{
		ConversationID:     conversationID,
		TicketID:           ticketID,
		UnreadCountSupport: snap.Support,
		UnreadCountAdmin:   snap.Admin,
		UnreadCountByUser:  snap.ByUser,
	})
	return &snap, nil
}

// RecordRoomMessage bumps every room participant except the sender.
func (s *LedgerService) RecordRoomMessage(ctx context.Context, room *domain.Room, senderID string) (*domain.UnreadLedger, error) {
	participants := append([]string(nil), room.Participants...)
	return s.mutateRoom(ctx, room.ID, "increment", func(l *domain.UnreadLedger) {
		l.Increment(senderID, participants)
	})
}

// MarkRoomRead zeroes the principal's entry on a room.
func (s *LedgerService) MarkRoomRead(ctx context.Context, roomID, principalID string) (*domain.UnreadLedger, error) {
	return s.mutateRoom(ctx, roomID, "mark_read", func(l *domain.UnreadLedger) {
		l.MarkRead(principalID)
	})
}

// RemoveRoomParticipants drops the entries of principals that left a room.
func (s *LedgerService) RemoveRoomParticipants(ctx context.Context, roomID string, removed []string) (*domain.UnreadLedger, error) {
	return s.mutateRoom(ctx, roomID, "remove", func(l *domain.UnreadLedger) {
		for _, id := range removed {
			l.Remove(id)
		}
	})
}

func (s *LedgerService) mutateRoom(ctx context.Context, roomID, op string, mutate func(*domain.UnreadLedger)) (*domain.UnreadLedger, error) {
	roster, _, err := s.operatorRoster(ctx)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	ledger, err := s.rooms.UpdateUnread(ctx, roomID, func(l *domain.UnreadLedger) {
		mutate(l)
		l.Recompute(roster)
	})
	if err != nil {
		return nil, notFoundOr(err, "room", map[string]any{"room_id": roomID})
	}
	s.metrics.RecordLedgerMutation("room", op)
	snap := ledger.Snapshot()
	s.broadcaster.ToRoom(realtime.InternalRoom(roomID), realtime.EventInternalUnreadUpdate, dto.InternalUnreadPayload{
		RoomID:            roomID,
		UnreadCount:       snap.Total,
		UnreadCountByUser: snap.ByUser,
	})
	return &snap, nil
}

// RecordConversationMessage bumps the counter of a ticketless conversation.
func (s *LedgerService) RecordConversationMessage(ctx context.Context, conversationID string) (int, error) {
	count, err := s.conversations.IncrementUnread(ctx, conversationID)
	if err != nil {
		return 0, notFoundOr(err, "conversation", map[string]any{"conversation_id": conversationID})
	}
	s.metrics.RecordLedgerMutation("conversation", "increment")
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventUnreadCount, dto.UnreadCountPayload{
		ConversationID: conversationID,
		UnreadCount:    count,
	})
	return count, nil
}

// ResetConversationUnread clears the counter of a ticketless conversation.
func (s *LedgerService) ResetConversationUnread(ctx context.Context, conversationID string) error {
	if err := s.conversations.ResetUnread(ctx, conversationID); err != nil {
		return notFoundOr(err, "conversation", map[string]any{"conversation_id": conversationID})
	}
	s.metrics.RecordLedgerMutation("conversation", "mark_read")
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventUnreadCount, dto.UnreadCountPayload{
		ConversationID: conversationID,
		UnreadCount:    0,
	})
	return nil
}
