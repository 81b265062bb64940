package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const (
	spamAttentionThreshold = 3
	ticketCreatedNotice    = "A ticket was created for your request. Our team will contact you shortly."
)

// ConversationService is the conversation state machine: creation, status
// transitions, assignment, escalation and the operator/assistant actions.
// Status writes are compare-and-set so concurrent writers cannot both win.
type ConversationService struct {
	conversations repository.ConversationRepository
	tickets       repository.TicketRepository
	users         repository.UserRepository
	ticketSvc     *TicketService
	assignments   *AssignmentService
	messages      *MessageService
	broadcaster   Broadcaster
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	banDuration   time.Duration
	now           func() time.Time
}

// ConversationDependencies bundles collaborators.
type ConversationDependencies struct {
	ConversationRepo  repository.ConversationRepository
	TicketRepo        repository.TicketRepository
	UserRepo          repository.UserRepository
	TicketService     *TicketService
	AssignmentService *AssignmentService
	MessageService    *MessageService
	Broadcaster       Broadcaster
	Dispatcher        events.Dispatcher
	Logger            *zap.Logger
	BanDuration       time.Duration
	Now               func() time.Time
}

// ConversationListFilter narrows operator listings.
type ConversationListFilter struct {
	Statuses       []domain.ConversationStatus
	NeedsHumanOnly bool
	AssignedToMe   bool
	Limit          int
	Offset         int
}

// ActionRequest asks the state machine to run one action.
type ActionRequest struct {
	Action   domain.ActionType
	Priority domain.TicketPriority
	Reason   string
}

// ActionResult reports the outcome of an action.
type ActionResult struct {
	Action       domain.ActionType
	Message      string
	Conversation *domain.Conversation
}

// NewConversationService creates the service.
func NewConversationService(deps ConversationDependencies) *ConversationService {
	ban := deps.BanDuration
	if ban <= 0 {
		ban = 48 * time.Hour
	}
	return &ConversationService{
		conversations: deps.ConversationRepo,
		tickets:       deps.TicketRepo,
		users:         deps.UserRepo,
		ticketSvc:     deps.TicketService,
		assignments:   deps.AssignmentService,
		messages:      deps.MessageService,
		broadcaster:   deps.Broadcaster,
		dispatcher:    deps.Dispatcher,
		logger:        nopLogger(deps.Logger),
		banDuration:   ban,
		now:           clockOrNow(deps.Now),
	}
}

// FindOrCreate resolves the conversation an end user writes into. An explicit
// id must belong to the owner; otherwise the owner's active conversation is
// reused or a new active one is created.
func (s *ConversationService) FindOrCreate(ctx context.Context, owner domain.Principal, explicitID string) (*domain.Conversation, bool, error) {
	if explicitID != "" {
		conv, err := s.GetForPrincipal(ctx, owner, explicitID)
		if err != nil {
			return nil, false, err
		}
		return conv, false, nil
	}

	conv, err := s.conversations.FindActiveByOwner(ctx, owner.ExternalID)
	if err == nil {
		return conv, false, nil
	}
	if !isNotFound(err) {
		return nil, false, apperrors.MapError(err)
	}

	now := s.now()
	conv = &domain.Conversation{
		OwnerID:       owner.ExternalID,
		Status:        domain.ConversationActive,
		LastMessageAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, false, apperrors.MapError(err)
	}
	s.logger.Info("conversation created", zap.String("conversation_id", conv.ID), zap.String("owner_id", owner.ExternalID))
	publishEvent(ctx, s.dispatcher, s.logger, events.EventConversationCreated, conv.ID, actorOf(owner), nil)
	return conv, true, nil
}

// Get loads a conversation without access checks.
func (s *ConversationService) Get(ctx context.Context, id string) (*domain.Conversation, error) {
	if err := validID(id, "conversation"); err != nil {
		return nil, err
	}
	conv, err := s.conversations.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "conversation", map[string]any{"conversation_id": id})
	}
	return conv, nil
}

// GetForPrincipal loads a conversation the principal may see. Operators see
// everything; end users only their own, anything else looks missing.
func (s *ConversationService) GetForPrincipal(ctx context.Context, principal domain.Principal, id string) (*domain.Conversation, error) {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.Role.IsOperator() && conv.OwnerID != principal.ExternalID {
		return nil, apperrors.NewNotFound("conversation", map[string]any{"conversation_id": id})
	}
	return conv, nil
}

// List returns conversations visible to the principal.
func (s *ConversationService) List(ctx context.Context, principal domain.Principal, filter ConversationListFilter) ([]dto.ConversationResponse, error) {
	repoFilter := repository.ConversationFilter{
		Statuses:       filter.Statuses,
		NeedsHumanOnly: filter.NeedsHumanOnly,
		Limit:          filter.Limit,
		Offset:         filter.Offset,
	}
	if !principal.Role.IsOperator() {
		repoFilter.OwnerID = ptr(principal.ExternalID)
	} else if filter.AssignedToMe {
		repoFilter.AssignedOperatorID = ptr(principal.ExternalID)
	}
	list, err := s.conversations.List(ctx, repoFilter)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	out := make([]dto.ConversationResponse, 0, len(list))
	for i := range list {
		if view := s.View(ctx, &list[i]); view != nil {
			out = append(out, *view)
		}
	}
	return out, nil
}

// View renders a conversation together with its ticket.
func (s *ConversationService) View(ctx context.Context, conv *domain.Conversation) *dto.ConversationResponse {
	var ticket *domain.Ticket
	if conv.HasTicket() {
		t, err := s.tickets.GetByID(ctx, *conv.TicketID)
		if err != nil {
			s.logger.Warn("load ticket for view", zap.String("ticket_id", *conv.TicketID), zap.Error(err))
		} else {
			ticket = t
		}
	}
	return dto.NewConversationResponse(conv, ticket)
}

// Refresh reloads conv from storage, falling back to the given copy.
func (s *ConversationService) Refresh(ctx context.Context, conv *domain.Conversation) *domain.Conversation {
	fresh, err := s.conversations.GetByID(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("refresh conversation", zap.String("conversation_id", conv.ID), zap.Error(err))
		return conv
	}
	return fresh
}

// EnsureAccepting rejects messages into conversations that no longer take
// them: end users are locked out of closed and archived conversations,
// operators only out of archived ones.
func (s *ConversationService) EnsureAccepting(conv *domain.Conversation, sender domain.Principal) error {
	switch conv.Status {
	case domain.ConversationArchived:
		return conversationClosedError(conv)
	case domain.ConversationClosed:
		if !sender.Role.IsOperator() {
			return conversationClosedError(conv)
		}
	}
	return nil
}

func conversationClosedError(conv *domain.Conversation) error {
	return apperrors.NewStateError(apperrors.CodeConversationClosed,
		"this conversation is closed, please start a new one",
		map[string]any{"conversation_id": conv.ID, "status": conv.Status})
}

// ReopenByOperator moves a closed conversation back to active. Only the
// writer that wins the transition broadcasts the reopen.
func (s *ConversationService) ReopenByOperator(ctx context.Context, conv *domain.Conversation, operator domain.Principal) (bool, error) {
	if conv.Status != domain.ConversationClosed {
		return false, nil
	}
	won, err := s.conversations.TransitionStatus(ctx, conv.ID, []domain.ConversationStatus{domain.ConversationClosed}, domain.ConversationActive)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	if !won {
		*conv = *s.Refresh(ctx, conv)
		return false, nil
	}
	conv.Status = domain.ConversationActive
	conv.Metadata.InactivityWarningSentAt = nil

	s.logger.Info("conversation reopened", zap.String("conversation_id", conv.ID), zap.String("operator_id", operator.ExternalID))
	publishEvent(ctx, s.dispatcher, s.logger, events.EventConversationStatusChanged, conv.ID, actorOf(operator), events.ConversationStatusChangedPayload{
		OldStatus: domain.ConversationClosed,
		NewStatus: domain.ConversationActive,
		Reason:    "operator_message",
	})
	view := s.View(ctx, conv)
	s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationReopened, view)
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventConversationUpdated, view)
	return true, nil
}

// AutoAssign assigns the first operator to write into the conversation.
func (s *ConversationService) AutoAssign(ctx context.Context, conv *domain.Conversation, operator domain.Principal) (bool, error) {
	won, err := s.assignments.AutoAssign(ctx, conv, operator)
	if err != nil || !won {
		return won, err
	}
	s.BroadcastUpdated(ctx, conv)
	return true, nil
}

// Assign explicitly assigns an operator.
func (s *ConversationService) Assign(ctx context.Context, actor domain.Principal, conversationID, operatorID string) (*domain.Conversation, error) {
	if err := validID(conversationID, "conversation"); err != nil {
		return nil, err
	}
	conv, err := s.assignments.AssignConversation(ctx, actor, conversationID, operatorID)
	if err != nil {
		return nil, err
	}
	s.BroadcastUpdated(ctx, conv)
	return conv, nil
}

// UpdateStatus applies an operator-requested status change.
func (s *ConversationService) UpdateStatus(ctx context.Context, actor domain.Principal, conversationID string, to domain.ConversationStatus) (*domain.Conversation, error) {
	if !actor.Role.IsOperator() {
		return nil, apperrors.NewForbidden("operator role required")
	}
	if !to.Valid() {
		return nil, apperrors.NewValidationError("unknown conversation status", map[string]any{"status": to})
	}
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Status == to {
		return conv, nil
	}
	if err := s.transition(ctx, conv, actor, to, "operator_request"); err != nil {
		return nil, err
	}
	return conv, nil
}

// transition moves conv to the target status with a compare-and-set on its
// current status and broadcasts the outcome.
func (s *ConversationService) transition(ctx context.Context, conv *domain.Conversation, actor domain.Principal, to domain.ConversationStatus, reason string) error {
	from := conv.Status
	if !domain.CanTransitionConversation(from, to) {
		return apperrors.NewStateError(apperrors.CodeInvalidTransition, "invalid status transition", map[string]any{
			"from": from,
			"to":   to,
		})
	}
	won, err := s.conversations.TransitionStatus(ctx, conv.ID, []domain.ConversationStatus{from}, to)
	if err != nil {
		return apperrors.MapError(err)
	}
	if !won {
		return apperrors.NewConflict("conversation changed concurrently", map[string]any{"conversation_id": conv.ID})
	}
	conv.Status = to
	conv.Metadata.InactivityWarningSentAt = nil

	publishEvent(ctx, s.dispatcher, s.logger, events.EventConversationStatusChanged, conv.ID, actorOf(actor), events.ConversationStatusChangedPayload{
		OldStatus: from,
		NewStatus: to,
		Reason:    reason,
	})
	view := s.View(ctx, conv)
	switch to {
	case domain.ConversationClosed:
		s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationClosed, view)
	case domain.ConversationActive:
		s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationReopened, view)
	default:
		s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationUpdated, view)
	}
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventConversationUpdated, view)
	return nil
}

// CloseInactive closes an idle active conversation on behalf of the
// sweeper and announces the closure with a system message. It reports false
// when another writer changed the status first.
func (s *ConversationService) CloseInactive(ctx context.Context, conv *domain.Conversation, notice string) (bool, error) {
	won, err := s.conversations.TransitionStatus(ctx, conv.ID, []domain.ConversationStatus{domain.ConversationActive}, domain.ConversationClosed)
	if err != nil {
		return false, apperrors.MapError(err)
	}
	if !won {
		return false, nil
	}
	conv.Status = domain.ConversationClosed
	conv.Metadata.InactivityWarningSentAt = nil

	publishEvent(ctx, s.dispatcher, s.logger, events.EventConversationStatusChanged, conv.ID, systemActor, events.ConversationStatusChangedPayload{
		OldStatus: domain.ConversationActive,
		NewStatus: domain.ConversationClosed,
		Reason:    "inactivity",
	})

	msg, err := s.messages.PostSystem(ctx, conv.ID, notice, &domain.MessageMetadata{Kind: domain.MetadataInactivityClosure})
	if err != nil {
		s.logger.Warn("persist closure notice", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else {
		s.messages.Announce(msg)
	}

	view := s.View(ctx, conv)
	s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationClosed, view)
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventConversationUpdated, view)
	return true, nil
}

// EscalateForImage handles an image from an end user: the conversation gets
// a ticket if it has none, and is flagged for human attention either way.
func (s *ConversationService) EscalateForImage(ctx context.Context, conv *domain.Conversation, sender domain.Principal) error {
	if conv.HasTicket() {
		if conv.NeedsHumanAttention {
			return nil
		}
		if err := s.conversations.SetNeedsHumanAttention(ctx, conv.ID, true); err != nil {
			return apperrors.MapError(err)
		}
		conv.NeedsHumanAttention = true
		s.BroadcastUpdated(ctx, conv)
		return nil
	}
	_, err := s.createTicket(ctx, conv, sender, domain.TicketPriorityMedium, "")
	return err
}

// createTicket opens a ticket, announces it with a system message and
// reports TICKET_EXISTS when the conversation already had one.
func (s *ConversationService) createTicket(ctx context.Context, conv *domain.Conversation, actor domain.Principal, priority domain.TicketPriority, subject string) (*domain.Ticket, error) {
	ticket, created, err := s.ticketSvc.CreateForConversation(ctx, conv, actorOf(actor), priority, subject)
	if err != nil {
		return nil, err
	}
	if !created {
		return ticket, apperrors.NewStateError(apperrors.CodeTicketExists, "ticket already exists for this conversation",
			map[string]any{"conversation_id": conv.ID, "ticket_id": ticket.ID})
	}

	notice, err := s.messages.PostSystem(ctx, conv.ID, ticketCreatedNotice, &domain.MessageMetadata{
		Kind:     domain.MetadataTicketCreated,
		TicketID: ticket.ID,
	})
	if err != nil {
		s.logger.Warn("persist ticket notice", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else {
		s.messages.Announce(notice)
	}

	view := dto.NewConversationResponse(conv, ticket)
	s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationTicketCreated, view)
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventConversationUpdated, view)
	return ticket, nil
}

// ExecuteAction runs an operator or assistant action against a conversation.
func (s *ConversationService) ExecuteAction(ctx context.Context, actor domain.Principal, conversationID string, req ActionRequest) (*ActionResult, error) {
	if !req.Action.Valid() {
		return nil, apperrors.NewValidationError("unknown action", map[string]any{"action": req.Action})
	}
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	result := &ActionResult{Action: req.Action, Conversation: conv}

	switch req.Action {
	case domain.ActionNoAction:
		result.Message = "no action required"

	case domain.ActionCreateTicket:
		if _, err := s.createTicket(ctx, conv, actor, req.Priority, req.Reason); err != nil {
			return nil, err
		}
		result.Message = "ticket created"

	case domain.ActionCloseConversation:
		if err := s.transition(ctx, conv, actor, domain.ConversationClosed, "close_conversation"); err != nil {
			return nil, err
		}
		result.Message = "conversation closed"

	case domain.ActionEscalate:
		if err := s.conversations.SetNeedsHumanAttention(ctx, conv.ID, true); err != nil {
			return nil, apperrors.MapError(err)
		}
		conv.NeedsHumanAttention = true
		s.BroadcastUpdated(ctx, conv)
		result.Message = "conversation escalated to a human operator"

	case domain.ActionFlagMessage:
		count, err := s.conversations.IncrementSpam(ctx, conv.ID)
		if err != nil {
			return nil, notFoundOr(err, "conversation", map[string]any{"conversation_id": conv.ID})
		}
		conv.SpamCount = count
		if count >= spamAttentionThreshold && !conv.NeedsHumanAttention {
			if err := s.conversations.SetNeedsHumanAttention(ctx, conv.ID, true); err != nil {
				return nil, apperrors.MapError(err)
			}
			conv.NeedsHumanAttention = true
		}
		s.BroadcastUpdated(ctx, conv)
		result.Message = "message flagged"

	case domain.ActionBanUser:
		if err := s.banOwner(ctx, conv, actor, req.Reason); err != nil {
			return nil, err
		}
		result.Message = "user banned"
	}

	s.logger.Info("conversation action executed",
		zap.String("conversation_id", conv.ID),
		zap.String("action", string(req.Action)),
		zap.String("actor_id", actor.ExternalID))
	return result, nil
}

func (s *ConversationService) banOwner(ctx context.Context, conv *domain.Conversation, actor domain.Principal, reason string) error {
	owner, err := s.users.GetByExternalID(ctx, conv.OwnerID)
	if err != nil {
		return notFoundOr(err, "user", map[string]any{"user_id": conv.OwnerID})
	}
	if owner.Role == domain.RoleAdmin {
		return apperrors.NewForbidden("admins cannot be banned")
	}
	if reason == "" {
		reason = "banned by " + actor.ExternalID
	}
	now := s.now()
	until := now.Add(s.banDuration)
	if err := s.users.Ban(ctx, owner.ExternalID, reason, now, until); err != nil {
		return apperrors.MapError(err)
	}
	publishEvent(ctx, s.dispatcher, s.logger, events.EventUserBanned, owner.ExternalID, actorOf(actor), events.UserBannedPayload{
		Reason:      reason,
		BannedUntil: until,
	})

	if err := s.conversations.SetNeedsHumanAttention(ctx, conv.ID, true); err != nil {
		return apperrors.MapError(err)
	}
	conv.NeedsHumanAttention = true
	if conv.Status == domain.ConversationArchived {
		s.BroadcastUpdated(ctx, conv)
		return nil
	}
	return s.transition(ctx, conv, actor, domain.ConversationArchived, "ban_user")
}

// BroadcastUpdated pushes the current conversation view to its room and to
// every operator.
func (s *ConversationService) BroadcastUpdated(ctx context.Context, conv *domain.Conversation) {
	view := s.View(ctx, conv)
	s.broadcaster.ToRoom(realtime.ConversationRoom(conv.ID), realtime.EventConversationUpdated, view)
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventConversationUpdated, view)
}
