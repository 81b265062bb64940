package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/observability"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const (
	systemSenderName    = "System"
	assistantSenderName = "Assistant"
)

// MessageService persists conversation messages and announces them.
type MessageService struct {
	messages      repository.MessageRepository
	conversations repository.ConversationRepository
	broadcaster   Broadcaster
	dispatcher    events.Dispatcher
	metrics       *observability.Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// MessageDependencies bundles collaborators.
type MessageDependencies struct {
	MessageRepo      repository.MessageRepository
	ConversationRepo repository.ConversationRepository
	Broadcaster      Broadcaster
	Dispatcher       events.Dispatcher
	Metrics          *observability.Metrics
	Logger           *zap.Logger
	Now              func() time.Time
}

// NewMessageService creates the service.
func NewMessageService(deps MessageDependencies) *MessageService {
	return &MessageService{
		messages:      deps.MessageRepo,
		conversations: deps.ConversationRepo,
		broadcaster:   deps.Broadcaster,
		dispatcher:    deps.Dispatcher,
		metrics:       deps.Metrics,
		logger:        nopLogger(deps.Logger),
		now:           clockOrNow(deps.Now),
	}
}

// Post persists msg and bumps the conversation's last activity. Internal
// notes do not count as conversation activity.
func (s *MessageService) Post(ctx context.Context, msg *domain.Message) error {
	if msg.Type == "" {
		msg.Type = domain.MessageTypeText
	}
	if !msg.Type.Valid() {
		return apperrors.NewValidationError("unknown message type", map[string]any{"message_type": msg.Type})
	}
	now := s.now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if err := s.messages.Create(ctx, msg); err != nil {
		return apperrors.MapError(err)
	}
	if !msg.IsInternal {
		if err := s.conversations.TouchLastMessage(ctx, msg.ConversationID, now); err != nil {
			s.logger.Warn("touch conversation", zap.String("conversation_id", msg.ConversationID), zap.Error(err))
		}
	}
	s.metrics.RecordMessage(messageKind(msg))
	publishEvent(ctx, s.dispatcher, s.logger, events.EventMessageCreated, msg.ConversationID,
		events.Actor{PrincipalID: msg.SenderID, Role: msg.SenderRole},
		events.MessageCreatedPayload{
			MessageID:   msg.ID,
			MessageType: msg.Type,
			IsFromAI:    msg.IsFromAI,
			IsInternal:  msg.IsInternal,
			BodyPreview: messagePreview(msg.Content, msg.Type),
		})
	return nil
}

// PostSystem persists a system message.
func (s *MessageService) PostSystem(ctx context.Context, conversationID, content string, meta *domain.MessageMetadata) (*domain.Message, error) {
	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       domain.SystemSenderID,
		SenderName:     systemSenderName,
		Content:        content,
		Type:           domain.MessageTypeSystem,
		Metadata:       meta,
	}
	if err := s.Post(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// PostAssistant persists an automated reply.
func (s *MessageService) PostAssistant(ctx context.Context, conversationID, content string) (*domain.Message, error) {
	msg := &domain.Message{
		ConversationID: conversationID,
		SenderID:       domain.AssistantSenderID,
		SenderName:     assistantSenderName,
		Content:        content,
		Type:           domain.MessageTypeText,
		IsFromAI:       true,
	}
	if err := s.Post(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Announce broadcasts a public message to its conversation and refreshes the
// operator conversation list.
func (s *MessageService) Announce(msg *domain.Message) {
	s.broadcaster.ToRoom(realtime.ConversationRoom(msg.ConversationID), realtime.EventMessageNew, dto.NewMessageResponse(msg))
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventConversationMessage, dto.ConversationMessagePayload{
		ConversationID: msg.ConversationID,
		LastMessage:    messagePreview(msg.Content, msg.Type),
		LastMessageAt:  msg.CreatedAt,
		IsFromAI:       msg.IsFromAI,
		IsFromSupport:  msg.IsFromOperator(),
		SenderName:     msg.SenderName,
		MessageType:    msg.Type,
		Metadata:       msg.Metadata,
	})
}

// AnnounceInternal broadcasts an internal note to operators only.
func (s *MessageService) AnnounceInternal(msg *domain.Message) {
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventInternalNew, dto.NewMessageResponse(msg))
}

// History returns the latest messages of a conversation in chronological
// order. Internal notes are only included for operators.
func (s *MessageService) History(ctx context.Context, conversationID string, limit int, includeInternal bool) ([]domain.Message, error) {
	msgs, err := s.messages.ListRecent(ctx, conversationID, limit, includeInternal)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return msgs, nil
}

// EditNote changes the content of an internal note. Only operators may edit.
func (s *MessageService) EditNote(ctx context.Context, actor domain.Principal, noteID, content string) (*domain.Message, error) {
	if !actor.Role.IsOperator() {
		return nil, apperrors.NewForbidden("operator role required")
	}
	if err := validID(noteID, "note"); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("content required", nil)
	}
	note, err := s.messages.GetByID(ctx, noteID)
	if err != nil {
		return nil, notFoundOr(err, "note", map[string]any{"note_id": noteID})
	}
	if !note.IsInternal {
		return nil, apperrors.NewNotFound("note", map[string]any{"note_id": noteID})
	}
	if err := s.messages.UpdateContent(ctx, noteID, content); err != nil {
		return nil, notFoundOr(err, "note", map[string]any{"note_id": noteID})
	}
	note.Content = content
	note.IsEdited = true
	note.UpdatedAt = s.now()
	s.AnnounceInternal(note)
	return note, nil
}

func messageKind(msg *domain.Message) string {
	switch {
	case msg.IsInternal:
		return "internal"
	case msg.IsFromAI:
		return "assistant"
	case msg.Type == domain.MessageTypeSystem:
		return "system"
	case msg.SenderRole.IsOperator():
		return "operator"
	default:
		return "user"
	}
}
