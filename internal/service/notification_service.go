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

// NotificationService persists "new message" alerts and pushes them to the
// recipient's live connections. Every read and delete is scoped to the
// requesting recipient; foreign notifications look missing.
type NotificationService struct {
	notifications repository.NotificationRepository
	presence      Presence
	broadcaster   Broadcaster
	dispatcher    events.Dispatcher
	logger        *zap.Logger
	pageSize      int
	now           func() time.Time
}

// NotificationDependencies bundles collaborators.
type NotificationDependencies struct {
	NotificationRepo repository.NotificationRepository
	Presence         Presence
	Broadcaster      Broadcaster
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
	PageSize         int
	Now              func() time.Time
}

// NotificationInput describes an alert to persist.
type NotificationInput struct {
	RecipientID    string
	ConversationID string
	TicketID       *string
	TicketSubject  string
	Sender         domain.Principal
	Preview        string
	Type           domain.NotificationType
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	return &NotificationService{
		notifications: deps.NotificationRepo,
		presence:      deps.Presence,
		broadcaster:   deps.Broadcaster,
		dispatcher:    deps.Dispatcher,
		logger:        nopLogger(deps.Logger),
		pageSize:      deps.PageSize,
		now:           clockOrNow(deps.Now),
	}
}

// Create persists a notification unconditionally.
func (n *NotificationService) Create(ctx context.Context, input NotificationInput) (*domain.Notification, error) {
	if input.RecipientID == "" || input.ConversationID == "" {
		return nil, apperrors.NewValidationError("recipient and conversation required", nil)
	}
	if input.Type == "" {
		input.Type = domain.NotificationNewMessage
	}
	notification := &domain.Notification{
		RecipientID:    input.RecipientID,
		ConversationID: input.ConversationID,
		TicketID:       input.TicketID,
		TicketSubject:  input.TicketSubject,
		SenderID:       input.Sender.ExternalID,
		SenderName:     input.Sender.DisplayName,
		SenderRole:     input.Sender.Role,
		Preview:        input.Preview,
		Type:           input.Type,
		CreatedAt:      n.now(),
	}
	if err := n.notifications.Create(ctx, notification); err != nil {
		return nil, apperrors.MapError(err)
	}
	publishEvent(ctx, n.dispatcher, n.logger, events.EventNotificationCreated, notification.ID, actorOf(input.Sender), events.NotificationCreatedPayload{
		NotificationID: notification.ID,
		RecipientID:    notification.RecipientID,
		Type:           notification.Type,
	})
	return notification, nil
}

// IsViewing reports whether the recipient has the conversation open on any
// live connection.
func (n *NotificationService) IsViewing(recipientID, conversationID string) bool {
	return n.presence != nil && n.presence.IsViewing(recipientID, conversationID)
}

// Dispatch persists the alert and, when the recipient is online, pushes it
// together with the new unread badge count.
func (n *NotificationService) Dispatch(ctx context.Context, input NotificationInput) (*domain.Notification, error) {
	notification, err := n.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	if n.presence == nil || !n.presence.IsOnline(input.RecipientID) {
		return notification, nil
	}
	n.broadcaster.ToPrincipal(input.RecipientID, realtime.EventTicketNewMessage, dto.TicketNewMessagePayload{
		TicketID:       notification.TicketID,
		ConversationID: notification.ConversationID,
		SenderName:     notification.SenderName,
		SenderRole:     notification.SenderRole,
		MessagePreview: notification.Preview,
		Type:           notification.Type,
		Timestamp:      notification.CreatedAt,
	})
	n.pushUnreadCount(ctx, input.RecipientID)
	return notification, nil
}

// NotifyOperatorMessage alerts a conversation owner about an operator reply
// unless the owner is looking at the conversation right now.
func (n *NotificationService) NotifyOperatorMessage(ctx context.Context, conv *domain.Conversation, ticket *domain.Ticket, sender domain.Principal, msg *domain.Message) (*domain.Notification, error) {
	if n.IsViewing(conv.OwnerID, conv.ID) {
		return nil, nil
	}
	input := NotificationInput{
		RecipientID:    conv.OwnerID,
		ConversationID: conv.ID,
		TicketID:       conv.TicketID,
		Sender:         sender,
		Preview:        messagePreview(msg.Content, msg.Type),
		Type:           domain.NotificationNewMessage,
	}
	if ticket != nil {
		input.TicketSubject = ticket.Subject
	}
	return n.Dispatch(ctx, input)
}

// ListUnread returns the recipient's unread notifications.
func (n *NotificationService) ListUnread(ctx context.Context, recipientID string) ([]domain.Notification, error) {
	list, err := n.notifications.ListUnread(ctx, recipientID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// ListAll returns the recipient's newest notifications.
func (n *NotificationService) ListAll(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	if limit <= 0 {
		limit = n.pageSize
	}
	list, err := n.notifications.ListAll(ctx, recipientID, limit)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return list, nil
}

// CountUnread returns the recipient's unread badge count.
func (n *NotificationService) CountUnread(ctx context.Context, recipientID string) (int, error) {
	count, err := n.notifications.CountUnread(ctx, recipientID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return count, nil
}

// MarkRead marks one notification read. Marking an already read
// notification succeeds without changing it.
func (n *NotificationService) MarkRead(ctx context.Context, recipientID, notificationID string) error {
	if err := validID(notificationID, "notification"); err != nil {
		return err
	}
	ok, err := n.notifications.MarkRead(ctx, notificationID, recipientID, n.now())
	if err != nil {
		return apperrors.MapError(err)
	}
	if !ok {
		return apperrors.NewNotFound("notification", map[string]any{"notification_id": notificationID})
	}
	n.broadcaster.ToPrincipal(recipientID, realtime.EventNotificationMarkedRead, dto.NotificationAckPayload{
		NotificationID: notificationID,
		Affected:       1,
	})
	n.pushUnreadCount(ctx, recipientID)
	return nil
}

// MarkManyRead marks the recipient's notifications among ids read. Ids owned
// by someone else are ignored.
func (n *NotificationService) MarkManyRead(ctx context.Context, recipientID string, ids []string) (int64, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id, "notification") == nil {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return 0, apperrors.NewValidationError("notification ids required", nil)
	}
	affected, err := n.notifications.MarkManyRead(ctx, valid, recipientID, n.now())
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	n.broadcaster.ToPrincipal(recipientID, realtime.EventNotificationManyMarkedRead, dto.NotificationAckPayload{
		NotificationIDs: valid,
		Affected:        affected,
	})
	n.pushUnreadCount(ctx, recipientID)
	return affected, nil
}

// MarkConversationRead marks every notification of a conversation read.
func (n *NotificationService) MarkConversationRead(ctx context.Context, recipientID, conversationID string) (int64, error) {
	if err := validID(conversationID, "conversation"); err != nil {
		return 0, err
	}
	affected, err := n.notifications.MarkConversationRead(ctx, recipientID, conversationID, n.now())
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	n.broadcaster.ToPrincipal(recipientID, realtime.EventNotificationConversationRead, dto.NotificationAckPayload{
		ConversationID: conversationID,
		Affected:       affected,
	})
	n.pushUnreadCount(ctx, recipientID)
	return affected, nil
}

// Delete removes one notification.
func (n *NotificationService) Delete(ctx context.Context, recipientID, notificationID string) error {
	if err := validID(notificationID, "notification"); err != nil {
		return err
	}
	ok, err := n.notifications.Delete(ctx, notificationID, recipientID)
	if err != nil {
		return apperrors.MapError(err)
	}
	if !ok {
		return apperrors.NewNotFound("notification", map[string]any{"notification_id": notificationID})
	}
	n.broadcaster.ToPrincipal(recipientID, realtime.EventNotificationDeleted, dto.NotificationAckPayload{
		NotificationID: notificationID,
		Affected:       1,
	})
	n.pushUnreadCount(ctx, recipientID)
	return nil
}

// DeleteRead removes every read notification of the recipient.
func (n *NotificationService) DeleteRead(ctx context.Context, recipientID string) (int64, error) {
	affected, err := n.notifications.DeleteRead(ctx, recipientID)
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return affected, nil
}

func (n *NotificationService) pushUnreadCount(ctx context.Context, recipientID string) {
	count, err := n.notifications.CountUnread(ctx, recipientID)
	if err != nil {
		n.logger.Warn("count unread notifications", zap.String("recipient_id", recipientID), zap.Error(err))
		return
	}
	n.broadcaster.ToPrincipal(recipientID, realtime.EventNotificationUnreadCount, dto.NotificationCountPayload{Count: count})
}
