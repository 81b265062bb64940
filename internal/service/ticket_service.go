package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const (
	defaultTicketSubject = "Chat support"
	ticketHistoryLimit   = 500
)

// TicketService coordinates ticket workflows.
type TicketService struct {
	tickets       repository.TicketRepository
	conversations repository.ConversationRepository
	history       repository.TicketHistoryRepository
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	now           func() time.Time
}

// TicketDependencies bundles repositories for ticket service.
type TicketDependencies struct {
	TicketRepo       repository.TicketRepository
	ConversationRepo repository.ConversationRepository
	HistoryRepo      repository.TicketHistoryRepository
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	Now              func() time.Time
}

// TicketUpdateInput describes an operator edit. Nil fields are untouched.
type TicketUpdateInput struct {
	Status   *domain.TicketStatus
	Priority *domain.TicketPriority
	Comment  string
}

// NewTicketService creates the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	return &TicketService{
		tickets:       deps.TicketRepo,
		conversations: deps.ConversationRepo,
		history:       deps.HistoryRepo,
		dispatcher:    deps.Dispatcher,
		logger:        nopLogger(deps.Logger),
		now:           clockOrNow(deps.Now),
	}
}

// NormalizePriority maps free-form priorities onto the known set.
func NormalizePriority(raw string) domain.TicketPriority {
	switch p := domain.TicketPriority(strings.ToLower(strings.TrimSpace(raw))); p {
	case domain.TicketPriorityLow, domain.TicketPriorityMedium, domain.TicketPriorityHigh, domain.TicketPriorityUrgent:
		return p
	case "info":
		return domain.TicketPriorityLow
	default:
		return domain.TicketPriorityMedium
	}
}

// CreateForConversation opens the ticket of a conversation and flags the
// conversation for human attention. It reports false when a ticket already
// existed, in which case that ticket is returned.
func (s *TicketService) CreateForConversation(ctx context.Context, conv *domain.Conversation, actor events.Actor, priority domain.TicketPriority, subject string) (*domain.Ticket, bool, error) {
	if conv.HasTicket() {
		ticket, err := s.tickets.GetByID(ctx, *conv.TicketID)
		if err != nil {
			return nil, false, notFoundOr(err, "ticket", map[string]any{"ticket_id": *conv.TicketID})
		}
		return ticket, false, nil
	}

	if !priority.Valid() {
		priority = domain.TicketPriorityMedium
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = defaultTicketSubject
	}
	ticket := &domain.Ticket{
		ConversationID:     conv.ID,
		OwnerID:            conv.OwnerID,
		Subject:            subject,
		Status:             domain.TicketStatusOpen,
		Priority:           priority,
		AssignedOperatorID: conv.AssignedOperatorID,
		CreatedAt:          s.now(),
	}

	created := true
	if err := s.tickets.Create(ctx, ticket); err != nil {
		if !repository.IsUniqueViolation(err) {
			return nil, false, apperrors.MapError(err)
		}
		existing, getErr := s.tickets.GetByConversation(ctx, conv.ID)
		if getErr != nil {
			return nil, false, apperrors.MapError(getErr)
		}
		ticket, created = existing, false
	}

	if _, err := s.conversations.AttachTicket(ctx, conv.ID, ticket.ID); err != nil {
		return nil, false, apperrors.MapError(err)
	}
	conv.TicketID = &ticket.ID
	conv.NeedsHumanAttention = true

	if created {
		s.logger.Info("ticket created",
			zap.String("ticket_id", ticket.ID),
			zap.String("conversation_id", conv.ID),
			zap.String("priority", string(ticket.Priority)))
		publishEvent(ctx, s.dispatcher, s.logger, events.EventTicketCreated, ticket.ID, actor, events.TicketCreatedPayload{
			TicketID:       ticket.ID,
			ConversationID: conv.ID,
			Priority:       ticket.Priority,
			Subject:        ticket.Subject,
		})
	}
	return ticket, created, nil
}

// GetByID loads a ticket.
func (s *TicketService) GetByID(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
	}
	return ticket, nil
}

// UpdateTicket changes status and/or priority by an operator.
func (s *TicketService) UpdateTicket(ctx context.Context, actor domain.Principal, ticketID string, input TicketUpdateInput) (*domain.Ticket, error) {
	if !actor.Role.IsOperator() {
		return nil, apperrors.NewForbidden("operator role required")
	}
	if input.Status == nil && input.Priority == nil {
		return nil, apperrors.NewValidationError("status or priority required", nil)
	}
	ticket, err := s.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	oldStatus, oldPriority := ticket.Status, ticket.Priority
	if input.Status != nil && *input.Status != ticket.Status {
		if !input.Status.Valid() {
			return nil, apperrors.NewValidationError("unknown ticket status", map[string]any{"status": *input.Status})
		}
		if !domain.CanTransitionTicket(ticket.Status, *input.Status) {
			return nil, apperrors.NewStateError(apperrors.CodeInvalidTransition, "invalid status transition", map[string]any{
				"from": ticket.Status,
				"to":   *input.Status,
			})
		}
		ticket.Status = *input.Status
		if ticket.Status == domain.TicketStatusClosed {
			now := s.now()
			ticket.ClosedAt = &now
		} else if ticket.ClosedAt != nil {
			ticket.ClosedAt = nil
		}
	}
	if input.Priority != nil {
		if !input.Priority.Valid() {
			return nil, apperrors.NewValidationError("unknown ticket priority", map[string]any{"priority": *input.Priority})
		}
		ticket.Priority = *input.Priority
	}

	if err := s.tickets.Update(ctx, ticket); err != nil {
		return nil, notFoundOr(err, "ticket", map[string]any{"ticket_id": ticketID})
	}

	if ticket.Status != oldStatus {
		if err := s.recordStatusChange(ctx, actor.ExternalID, ticket.ID, oldStatus, ticket.Status, input.Comment); err != nil {
			return nil, apperrors.MapError(err)
		}
		publishEvent(ctx, s.dispatcher, s.logger, events.EventTicketStatusChanged, ticket.ID, actorOf(actor), events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: ticket.Status,
			Comment:   input.Comment,
		})
	}
	if ticket.Priority != oldPriority {
		if err := s.recordPriorityChange(ctx, actor.ExternalID, ticket.ID, oldPriority, ticket.Priority); err != nil {
			return nil, apperrors.MapError(err)
		}
		publishEvent(ctx, s.dispatcher, s.logger, events.EventTicketPriorityChanged, ticket.ID, actorOf(actor), events.TicketPriorityChangedPayload{
			OldPriority: oldPriority,
			NewPriority: ticket.Priority,
		})
	}
	return ticket, nil
}

// History returns the audit trail of a ticket.
func (s *TicketService) History(ctx context.Context, actor domain.Principal, ticketID string) ([]domain.TicketHistory, error) {
	ticket, err := s.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsOperator() && ticket.OwnerID != actor.ExternalID {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
	}
	if s.history == nil {
		return []domain.TicketHistory{}, nil
	}
	entries, err := s.history.ListByTicket(ctx, ticketID, ticketHistoryLimit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

func (s *TicketService) recordStatusChange(ctx context.Context, actorID, ticketID string, oldStatus, newStatus domain.TicketStatus, comment string) error {
	if s.history == nil {
		return nil
	}
	return s.history.Create(ctx, &domain.TicketHistory{
		TicketID:   ticketID,
		ChangedBy:  actorID,
		ChangeType: domain.ChangeTypeStatus,
		OldValue:   map[string]any{"status": oldStatus},
		NewValue:   map[string]any{"status": newStatus, "comment": comment},
	})
}

func (s *TicketService) recordPriorityChange(ctx context.Context, actorID, ticketID string, oldPriority, newPriority domain.TicketPriority) error {
	if s.history == nil {
		return nil
	}
	return s.history.Create(ctx, &domain.TicketHistory{
		TicketID:   ticketID,
		ChangedBy:  actorID,
		ChangeType: domain.ChangeTypePriority,
		OldValue:   map[string]any{"priority": oldPriority},
		NewValue:   map[string]any{"priority": newPriority},
	})
}
