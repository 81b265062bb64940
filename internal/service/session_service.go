package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

// SessionService runs the connect and disconnect lifecycle of realtime
// connections.
type SessionService struct {
	users         repository.UserRepository
	chat          *ChatService
	conversations *ConversationService
	rooms         *RoomService
	broadcaster   Broadcaster
	logger        *zap.Logger
	now           func() time.Time
}

// SessionDependencies bundles collaborators.
type SessionDependencies struct {
	UserRepo            repository.UserRepository
	ChatService         *ChatService
	ConversationService *ConversationService
	RoomService         *RoomService
	Broadcaster         Broadcaster
	Logger              *zap.Logger
	Now                 func() time.Time
}

// NewSessionService creates the service.
func NewSessionService(deps SessionDependencies) *SessionService {
	return &SessionService{
		users:         deps.UserRepo,
		chat:          deps.ChatService,
		conversations: deps.ConversationService,
		rooms:         deps.RoomService,
		broadcaster:   deps.Broadcaster,
		logger:        nopLogger(deps.Logger),
		now:           clockOrNow(deps.Now),
	}
}

// Connect syncs the principal's user record, marks it online and subscribes
// the connection. When conversationID is set the connection is bound to it
// and receives its history.
func (s *SessionService) Connect(ctx context.Context, sess Session, conversationID string) error {
	principal := sess.Principal()
	user, err := s.users.Upsert(ctx, principal)
	if err != nil {
		return apperrors.MapError(err)
	}
	if refreshed, err := s.chat.EnsureNotBanned(ctx, principal); err != nil && !apperrors.HasCode(err, apperrors.CodeUserBanned) {
		s.logger.Warn("check ban on connect", zap.String("principal_id", principal.ExternalID), zap.Error(err))
	} else if refreshed != nil {
		user = refreshed
	}

	now := s.now()
	if err := s.users.SetOnline(ctx, principal.ExternalID, true, now); err != nil {
		s.logger.Warn("mark online", zap.String("principal_id", principal.ExternalID), zap.Error(err))
	}
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventUserStatus, dto.UserStatusPayload{
		UserID:   principal.ExternalID,
		Username: principal.DisplayName,
		Role:     principal.Role,
		IsOnline: true,
	})

	if principal.Role.IsOperator() {
		sess.JoinRoom(realtime.SupportRoom)
		if err := s.rooms.JoinAll(ctx, sess); err != nil {
			s.logger.Warn("join internal rooms", zap.String("principal_id", principal.ExternalID), zap.Error(err))
		}
	}

	var conv *domain.Conversation
	if conversationID != "" {
		conv, err = s.conversations.GetForPrincipal(ctx, principal, conversationID)
		if err != nil {
			return err
		}
		sess.BindConversation(conv.ID)
	}
	sess.Emit(realtime.EventConnected, s.chat.Connected(ctx, principal, conv, user))

	s.logger.Info("realtime connection established",
		zap.String("connection_id", sess.ID()),
		zap.String("principal_id", principal.ExternalID),
		zap.String("role", string(principal.Role)))
	return nil
}

// Disconnect marks the principal offline once its last connection is gone.
func (s *SessionService) Disconnect(ctx context.Context, principal domain.Principal, lastConnection bool) {
	if !lastConnection {
		return
	}
	now := s.now()
	if err := s.users.SetOnline(ctx, principal.ExternalID, false, now); err != nil {
		s.logger.Warn("mark offline", zap.String("principal_id", principal.ExternalID), zap.Error(err))
	}
	s.broadcaster.ToRoom(realtime.SupportRoom, realtime.EventUserStatus, dto.UserStatusPayload{
		UserID:   principal.ExternalID,
		Username: principal.DisplayName,
		Role:     principal.Role,
		IsOnline: false,
		LastSeen: &now,
	})
}
