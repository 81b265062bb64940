package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

// AssignmentService handles conversation and ticket assignment.
type AssignmentService struct {
	conversations repository.ConversationRepository
	tickets       repository.TicketRepository
	users         repository.UserRepository
	historyRepo   repository.TicketHistoryRepository
	dispatcher    events.Dispatcher
	logger        *zap.Logger
}

// AssignmentDependencies bundles repositories.
type AssignmentDependencies struct {
	ConversationRepo repository.ConversationRepository
	TicketRepo       repository.TicketRepository
	UserRepo         repository.UserRepository
	HistoryRepo      repository.TicketHistoryRepository
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
}

// NewAssignmentService creates the service.
func NewAssignmentService(deps AssignmentDependencies) *AssignmentService {
	return &AssignmentService{
		conversations: deps.ConversationRepo,
		tickets:       deps.TicketRepo,
		users:         deps.UserRepo,
		historyRepo:   deps.HistoryRepo,
		dispatcher:    deps.Dispatcher,
		logger:        nopLogger(deps.Logger),
	}
}

// AutoAssign makes operator the owner of an unassigned conversation and of
// its ticket. It reports whether this call performed the assignment; a
// concurrent winner leaves it false.
func (s *AssignmentService) AutoAssign(ctx context.Context, conv *domain.Conversation, operator domain.Principal) (bool, error) {
	if conv.IsAssigned() || !operator.Role.IsOperator() {
		return false, nil
	}
	won, err := s.conversations.AssignIfUnassigned(ctx, conv.ID, operator.ExternalID)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	if !won {
		return false, nil
	}
	conv.AssignedOperatorID = ptr(operator.ExternalID)

	if conv.HasTicket() {
		ticketWon, err := s.tickets.AssignIfUnassigned(ctx, *conv.TicketID, operator.ExternalID)
		if err != nil {
			return true, apperrors.MapError(err)
		}
		if ticketWon {
			if err := s.recordAssigneeChange(ctx, operator.ExternalID, *conv.TicketID, nil, conv.AssignedOperatorID); err != nil {
				s.logger.Warn("record assignee change", zap.String("ticket_id", *conv.TicketID), zap.Error(err))
			}
		}
	}

	s.publishAssignmentEvent(ctx, operator, conv)
	return true, nil
}

// AssignConversation explicitly assigns an operator. Support may only take a
// conversation for themselves; admins may assign anyone.
func (s *AssignmentService) AssignConversation(ctx context.Context, actor domain.Principal, conversationID, operatorID string) (*domain.Conversation, error) {
	if err := requireAssignPriv(actor, operatorID); err != nil {
		return nil, err
	}
	if operatorID == "" {
		operatorID = actor.ExternalID
	}
	assignee, err := s.users.GetByExternalID(ctx, operatorID)
	if err != nil {
		return nil, notFoundOr(err, "operator", map[string]any{"operator_id": operatorID})
	}
	if !assignee.Role.IsOperator() {
		return nil, apperrors.NewValidationError("assignee is not an operator", map[string]any{"operator_id": operatorID})
	}

	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, notFoundOr(err, "conversation", map[string]any{"conversation_id": conversationID})
	}
	if conv.Status == domain.ConversationArchived {
		return nil, apperrors.NewStateError(apperrors.CodeConversationClosed, "conversation archived", map[string]any{"conversation_id": conversationID})
	}
	if err := s.conversations.Assign(ctx, conv.ID, operatorID); err != nil {
		return nil, notFoundOr(err, "conversation", map[string]any{"conversation_id": conversationID})
	}
	conv.AssignedOperatorID = ptr(operatorID)

	if conv.HasTicket() {
		ticket, err := s.tickets.GetByID(ctx, *conv.TicketID)
		if err != nil {
			return nil, notFoundOr(err, "ticket", map[string]any{"ticket_id": *conv.TicketID})
		}
		oldAssignee := ticket.AssignedOperatorID
		ticket.AssignedOperatorID = conv.AssignedOperatorID
		if err := s.tickets.Update(ctx, ticket); err != nil {
			return nil, apperrors.MapError(err)
		}
		if err := s.recordAssigneeChange(ctx, actor.ExternalID, ticket.ID, oldAssignee, ticket.AssignedOperatorID); err != nil {
			return nil, apperrors.MapError(err)
		}
	}

	s.publishAssignmentEvent(ctx, actor, conv)
	return conv, nil
}

func requireAssignPriv(actor domain.Principal, operatorID string) error {
	if !actor.Role.IsOperator() {
		return apperrors.NewForbidden("insufficient role for assignment")
	}
	if operatorID != "" && operatorID != actor.ExternalID && actor.Role != domain.RoleAdmin {
		return apperrors.NewForbidden("only admins assign other operators")
	}
	return nil
}

func (s *AssignmentService) recordAssigneeChange(ctx context.Context, actorID, ticketID string, oldAssignee, newAssignee *string) error {
	if s.historyRepo == nil {
		return nil
	}
	return s.historyRepo.Create(ctx, &domain.TicketHistory{
		TicketID:   ticketID,
		ChangedBy:  actorID,
		ChangeType: domain.ChangeTypeAssignee,
		OldValue:   map[string]any{"assigned_operator_id": oldAssignee},
		NewValue:   map[string]any{"assigned_operator_id": newAssignee},
	})
}

func (s *AssignmentService) publishAssignmentEvent(ctx context.Context, actor domain.Principal, conv *domain.Conversation) {
	publishEvent(ctx, s.dispatcher, s.logger, events.EventConversationAssigned, conv.ID, actorOf(actor), events.ConversationAssignedPayload{
		OperatorID: *conv.AssignedOperatorID,
		TicketID:   conv.TicketID,
	})
}
