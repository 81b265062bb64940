package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/ai"
	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const (
	fallbackReply         = "Sorry, something went wrong while processing your message. Please try again."
	reasonHumanAttention  = "human_attention_required"
	reasonAssistantOff    = "assistant_disabled"
	defaultHistoryLimit   = 50
	defaultAIHistoryLimit = 10
	detailWarnings        = "warnings"
	detailBannedUntil     = "banned_until"
)

// ChatService runs the realtime message flows: end-user messages with the
// automated reply, operator replies, internal notes, typing, conversation
// switching and read tracking.
type ChatService struct {
	users         repository.UserRepository
	tickets       repository.TicketRepository
	conversations *ConversationService
	messages      *MessageService
	ledger        *LedgerService
	limiter       *RateLimiter
	notifications *NotificationService
	assistant     Completer
	broadcaster   Broadcaster
	logger        *zap.Logger
	systemPrompt  string
	historyLimit  int
	aiHistory     int
	aiTimeout     time.Duration
	now           func() time.Time
}

// ChatDependencies bundles collaborators. Assistant may be nil, in which case
// no automated replies are produced.
type ChatDependencies struct {
	UserRepo            repository.UserRepository
	TicketRepo          repository.TicketRepository
	ConversationService *ConversationService
	MessageService      *MessageService
	LedgerService       *LedgerService
	RateLimiter         *RateLimiter
	NotificationService *NotificationService
	Assistant           Completer
	Broadcaster         Broadcaster
	Logger              *zap.Logger
	SystemPrompt        string
	HistoryLimit        int
	AIHistoryLimit      int
	AITimeout           time.Duration
	Now                 func() time.Time
}

// NewChatService creates the service.
func NewChatService(deps ChatDependencies) *ChatService {
	historyLimit := deps.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}
	aiHistory := deps.AIHistoryLimit
	if aiHistory <= 0 {
		aiHistory = defaultAIHistoryLimit
	}
	aiTimeout := deps.AITimeout
	if aiTimeout <= 0 {
		aiTimeout = time.Minute
	}
	return &ChatService{
		users:         deps.UserRepo,
		tickets:       deps.TicketRepo,
		conversations: deps.ConversationService,
		messages:      deps.MessageService,
		ledger:        deps.LedgerService,
		limiter:       deps.RateLimiter,
		notifications: deps.NotificationService,
		assistant:     deps.Assistant,
		broadcaster:   deps.Broadcaster,
		logger:        nopLogger(deps.Logger),
		systemPrompt:  deps.SystemPrompt,
		historyLimit:  historyLimit,
		aiHistory:     aiHistory,
		aiTimeout:     aiTimeout,
		now:           clockOrNow(deps.Now),
	}
}

// EnsureNotBanned lifts expired bans and rejects principals that are still
// banned. Admins are never blocked.
func (s *ChatService) EnsureNotBanned(ctx context.Context, principal domain.Principal) (*domain.User, error) {
	user, err := s.users.GetByExternalID(ctx, principal.ExternalID)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, apperrors.MapError(err)
	}
	now := s.now()
	if user.BanExpired(now) {
		if err := s.users.LiftBan(ctx, user.ExternalID); err != nil {
			s.logger.Warn("lift expired ban", zap.String("user_id", user.ExternalID), zap.Error(err))
		} else {
			user.IsBanned = false
			user.BannedUntil = nil
			s.logger.Info("expired ban lifted", zap.String("user_id", user.ExternalID))
		}
		return user, nil
	}
	if principal.Role != domain.RoleAdmin && user.BanActive(now) {
		details := map[string]any{}
		if user.BannedUntil != nil {
			details[detailBannedUntil] = *user.BannedUntil
		}
		return user, apperrors.NewStateError(apperrors.CodeUserBanned, "you are temporarily banned from sending messages", details)
	}
	return user, nil
}

// HandleUserMessage processes a message written by an end user.
func (s *ChatService) HandleUserMessage(ctx context.Context, sess Session, req dto.SendMessageRequest) error {
	principal := sess.Principal()
	if principal.Role.IsOperator() {
		return s.HandleSupportMessage(ctx, sess, req)
	}
	msgType, err := normalizeMessageType(req)
	if err != nil {
		return err
	}

	if _, err := s.EnsureNotBanned(ctx, principal); err != nil {
		return err
	}

	conv, created, err := s.conversations.FindOrCreate(ctx, principal, req.ConversationID)
	if err != nil {
		return err
	}
	if created || sess.ConversationID() != conv.ID {
		s.bind(ctx, sess, conv)
	}
	if err := s.conversations.EnsureAccepting(conv, principal); err != nil {
		return err
	}

	meta := imageMetadata(req, msgType)
	if msgType == domain.MessageTypeImage {
		if err := s.checkUpload(ctx, principal, conv.ID, meta); err != nil {
			return err
		}
	}

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       principal.ExternalID,
		SenderName:     principal.DisplayName,
		SenderRole:     principal.Role,
		Content:        strings.TrimSpace(req.Content),
		Type:           msgType,
		Metadata:       meta,
	}
	if err := s.messages.Post(ctx, msg); err != nil {
		return err
	}
	s.recordUnread(ctx, conv, principal)
	s.messages.Announce(msg)

	if msgType == domain.MessageTypeImage {
		if err := s.conversations.EscalateForImage(ctx, conv, principal); err != nil {
			s.logger.Warn("escalate image message", zap.String("conversation_id", conv.ID), zap.Error(err))
		}
	}

	s.reply(ctx, sess, conv)
	return nil
}

// HandleSupportMessage processes an operator reply into a conversation.
func (s *ChatService) HandleSupportMessage(ctx context.Context, sess Session, req dto.SendMessageRequest) error {
	principal := sess.Principal()
	if !principal.Role.IsOperator() {
		return apperrors.NewForbidden("operator role required")
	}
	msgType, err := normalizeMessageType(req)
	if err != nil {
		return err
	}
	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	if err := s.conversations.EnsureAccepting(conv, principal); err != nil {
		return err
	}

	meta := imageMetadata(req, msgType)
	if msgType == domain.MessageTypeImage {
		if err := s.checkUpload(ctx, principal, conv.ID, meta); err != nil {
			return err
		}
	}

	if _, err := s.conversations.ReopenByOperator(ctx, conv, principal); err != nil {
		return err
	}
	if _, err := s.conversations.AutoAssign(ctx, conv, principal); err != nil {
		s.logger.Warn("auto assign", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	sess.JoinRoom(realtime.ConversationRoom(conv.ID))

	msg := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       principal.ExternalID,
		SenderName:     principal.DisplayName,
		SenderRole:     principal.Role,
		Content:        strings.TrimSpace(req.Content),
		Type:           msgType,
		Metadata:       meta,
	}
	if err := s.messages.Post(ctx, msg); err != nil {
		return err
	}
	s.recordUnread(ctx, conv, principal)
	s.messages.Announce(msg)

	ticket := s.loadTicket(ctx, conv)
	if _, err := s.notifications.NotifyOperatorMessage(ctx, conv, ticket, principal, msg); err != nil {
		s.logger.Warn("notify conversation owner", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	return nil
}

// HandleInternalNote stores an operator-only note on a conversation.
func (s *ChatService) HandleInternalNote(ctx context.Context, sess Session, req dto.SendMessageRequest) error {
	principal := sess.Principal()
	if !principal.Role.IsOperator() {
		return apperrors.NewForbidden("operator role required")
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return apperrors.NewValidationError("content required", nil)
	}
	conv, err := s.conversations.Get(ctx, req.ConversationID)
	if err != nil {
		return err
	}
	note := &domain.Message{
		ConversationID: conv.ID,
		SenderID:       principal.ExternalID,
		SenderName:     principal.DisplayName,
		SenderRole:     principal.Role,
		Content:        content,
		Type:           domain.MessageTypeText,
		IsInternal:     true,
	}
	if err := s.messages.Post(ctx, note); err != nil {
		return err
	}
	s.messages.AnnounceInternal(note)
	return nil
}

// Typing relays a typing indicator to the other members of the conversation.
func (s *ChatService) Typing(sess Session, req dto.TypingPayload) {
	principal := sess.Principal()
	if req.ConversationID == "" {
		return
	}
	if !principal.Role.IsOperator() && sess.ConversationID() != req.ConversationID {
		return
	}
	s.broadcaster.ToRoomExcept(realtime.ConversationRoom(req.ConversationID), sess.ID(), realtime.EventTypingBroadcast, dto.TypingPayload{
		ConversationID: req.ConversationID,
		UserID:         principal.ExternalID,
		Username:       principal.DisplayName,
		Role:           principal.Role,
		IsTyping:       req.IsTyping,
	})
}

// JoinConversation switches the connection to a conversation and replays its
// history.
func (s *ChatService) JoinConversation(ctx context.Context, sess Session, conversationID string) error {
	conv, err := s.conversations.GetForPrincipal(ctx, sess.Principal(), conversationID)
	if err != nil {
		return err
	}
	s.bind(ctx, sess, conv)
	return nil
}

// TicketViewing records that the connection has a ticket open and clears the
// viewer's unread entries for it.
func (s *ChatService) TicketViewing(ctx context.Context, sess Session, req dto.TicketViewingRequest) error {
	conv, err := s.conversations.GetForPrincipal(ctx, sess.Principal(), req.ConversationID)
	if err != nil {
		return err
	}
	ticketID := req.TicketID
	if ticketID == "" && conv.TicketID != nil {
		ticketID = *conv.TicketID
	}
	sess.SetViewing(conv.ID, ticketID)
	return s.markRead(ctx, sess.Principal(), conv)
}

// TicketLeft clears the viewing state of the connection.
func (s *ChatService) TicketLeft(sess Session, req dto.TicketViewingRequest) {
	sess.ClearViewing(req.ConversationID)
}

// MarkConversationRead clears the principal's unread state for a conversation.
func (s *ChatService) MarkConversationRead(ctx context.Context, principal domain.Principal, conversationID string) error {
	conv, err := s.conversations.GetForPrincipal(ctx, principal, conversationID)
	if err != nil {
		return err
	}
	return s.markRead(ctx, principal, conv)
}

func (s *ChatService) markRead(ctx context.Context, principal domain.Principal, conv *domain.Conversation) error {
	if !principal.Role.IsOperator() {
		_, err := s.notifications.MarkConversationRead(ctx, principal.ExternalID, conv.ID)
		return err
	}
	if conv.HasTicket() {
		_, err := s.ledger.MarkTicketRead(ctx, *conv.TicketID, conv.ID, principal.ExternalID)
		return err
	}
	return s.ledger.ResetConversationUnread(ctx, conv.ID)
}

// Connected builds the payload that binds a connection to a conversation.
func (s *ChatService) Connected(ctx context.Context, principal domain.Principal, conv *domain.Conversation, user *domain.User) dto.ConnectedPayload {
	payload := dto.ConnectedPayload{
		UserID:   principal.ExternalID,
		Username: principal.DisplayName,
		Role:     principal.Role,
		History:  []dto.MessageResponse{},
	}
	if user != nil && user.BanActive(s.now()) {
		payload.UserBanned = true
		payload.BanExpiresAt = user.BannedUntil
	}
	if conv == nil {
		return payload
	}
	payload.ConversationID = conv.ID
	payload.Status = conv.Status
	history, err := s.messages.History(ctx, conv.ID, s.historyLimit, principal.Role.IsOperator())
	if err != nil {
		s.logger.Warn("load history", zap.String("conversation_id", conv.ID), zap.Error(err))
		return payload
	}
	payload.History = dto.NewMessageResponses(history)
	return payload
}

func (s *ChatService) bind(ctx context.Context, sess Session, conv *domain.Conversation) {
	sess.BindConversation(conv.ID)
	sess.Emit(realtime.EventConnected, s.Connected(ctx, sess.Principal(), conv, nil))
}

func (s *ChatService) checkUpload(ctx context.Context, principal domain.Principal, conversationID string, meta *domain.MessageMetadata) error {
	var size int64
	if meta != nil && meta.Image != nil {
		size = meta.Image.Size
	}
	decision := s.limiter.CheckUpload(ctx, principal, conversationID, size)
	if decision.Allowed {
		return nil
	}
	details := map[string]any{detailWarnings: decision.WarningsSoFar, "reason": decision.Reason}
	if decision.ShouldBan {
		if decision.BannedUntil != nil {
			details[detailBannedUntil] = *decision.BannedUntil
		}
		return apperrors.NewStateError(apperrors.CodeUserBanned, "you have been temporarily banned for sending too many images", details)
	}
	return apperrors.NewStateError(apperrors.CodeImageFlood, "too many images, slow down", details)
}

func (s *ChatService) recordUnread(ctx context.Context, conv *domain.Conversation, sender domain.Principal) {
	var err error
	switch {
	case conv.HasTicket():
		_, err = s.ledger.RecordTicketMessage(ctx, *conv.TicketID, conv.ID, sender)
	case sender.Role.IsOperator():
		err = s.ledger.ResetConversationUnread(ctx, conv.ID)
	default:
		_, err = s.ledger.RecordConversationMessage(ctx, conv.ID)
	}
	if err != nil {
		s.logger.Warn("update unread ledger", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
}

func (s *ChatService) loadTicket(ctx context.Context, conv *domain.Conversation) *domain.Ticket {
	if !conv.HasTicket() {
		return nil
	}
	ticket, err := s.tickets.GetByID(ctx, *conv.TicketID)
	if err != nil {
		s.logger.Warn("load ticket", zap.String("ticket_id", *conv.TicketID), zap.Error(err))
		return nil
	}
	return ticket
}

// reply produces the automated answer to the latest end-user message.
func (s *ChatService) reply(ctx context.Context, sess Session, conv *domain.Conversation) {
	if s.assistant == nil {
		sess.Emit(realtime.EventAINoResponse, dto.AINoResponsePayload{ConversationID: conv.ID, Reason: reasonAssistantOff})
		return
	}
	if conv.AISuppressed() {
		sess.Emit(realtime.EventAINoResponse, dto.AINoResponsePayload{ConversationID: conv.ID, Reason: reasonHumanAttention})
		return
	}

	history, err := s.messages.History(ctx, conv.ID, s.aiHistory, false)
	if err != nil {
		s.logger.Warn("load history for assistant", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	transcript := make([]ai.Message, 0, len(history)+1)
	if s.systemPrompt != "" {
		transcript = append(transcript, ai.Message{Role: ai.RoleSystem, Content: s.systemPrompt})
	}
	for i := range history {
		m := &history[i]
		if m.Type == domain.MessageTypeSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		role := ai.RoleUser
		if m.IsFromAI || m.SenderRole.IsOperator() {
			role = ai.RoleAssistant
		}
		transcript = append(transcript, ai.Message{Role: role, Content: m.Content})
	}

	aiCtx, cancel := context.WithTimeout(ctx, s.aiTimeout)
	defer cancel()

	text := fallbackReply
	var parsed assistantReply
	raw, err := s.assistant.Complete(aiCtx, transcript)
	if err != nil {
		s.logger.Error("assistant completion failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	} else {
		parsed = parseAssistantReply(raw)
		if parsed.Reply != "" {
			text = parsed.Reply
		}
	}

	answer, err := s.messages.PostAssistant(ctx, conv.ID, text)
	if err != nil {
		s.logger.Error("persist assistant reply", zap.String("conversation_id", conv.ID), zap.Error(err))
		return
	}
	s.messages.Announce(answer)

	if parsed.Action == "" || parsed.Action == domain.ActionNoAction || !parsed.Action.Valid() {
		return
	}
	assistant := domain.Principal{ExternalID: domain.AssistantSenderID, DisplayName: assistantSenderName}
	_, err = s.conversations.ExecuteAction(ctx, assistant, conv.ID, ActionRequest{
		Action:   parsed.Action,
		Priority: NormalizePriority(parsed.Priority),
		Reason:   parsed.Reason,
	})
	if err != nil && !apperrors.HasCode(err, apperrors.CodeTicketExists) {
		s.logger.Warn("assistant action failed",
			zap.String("conversation_id", conv.ID),
			zap.String("action", string(parsed.Action)),
			zap.Error(err))
	}
}

// assistantReply is the structured answer the model is prompted to produce.
type assistantReply struct {
	Reply    string            `json:"reply"`
	Action   domain.ActionType `json:"action"`
	Priority string            `json:"priority"`
	Reason   string            `json:"reason"`
}

// parseAssistantReply accepts either the structured JSON answer, optionally
// wrapped in a code fence, or plain text.
func parseAssistantReply(raw string) assistantReply {
	text := strings.TrimSpace(raw)
	body := text
	if strings.HasPrefix(body, "```") {
		body = strings.TrimPrefix(body, "```json")
		body = strings.TrimPrefix(body, "```")
		body = strings.TrimSuffix(strings.TrimSpace(body), "```")
		body = strings.TrimSpace(body)
	}
	if strings.HasPrefix(body, "{") {
		var reply assistantReply
		if err := json.Unmarshal([]byte(body), &reply); err == nil && strings.TrimSpace(reply.Reply) != "" {
			reply.Reply = strings.TrimSpace(reply.Reply)
			reply.Action = domain.ActionType(strings.ToLower(strings.TrimSpace(string(reply.Action))))
			return reply
		}
	}
	return assistantReply{Reply: text}
}

func normalizeMessageType(req dto.SendMessageRequest) (domain.MessageType, error) {
	msgType := req.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
		if req.ImageURL != "" || (req.Metadata != nil && req.Metadata.Image != nil) {
			msgType = domain.MessageTypeImage
		}
	}
	if msgType == domain.MessageTypeSystem || !msgType.Valid() {
		return "", apperrors.NewValidationError("unsupported message type", map[string]any{"message_type": msgType})
	}
	if msgType == domain.MessageTypeText && strings.TrimSpace(req.Content) == "" {
		return "", apperrors.NewValidationError("content required", nil)
	}
	if msgType == domain.MessageTypeImage && req.ImageURL == "" && (req.Metadata == nil || req.Metadata.Image == nil) {
		return "", apperrors.NewValidationError("image required", nil)
	}
	return msgType, nil
}

func imageMetadata(req dto.SendMessageRequest, msgType domain.MessageType) *domain.MessageMetadata {
	if msgType != domain.MessageTypeImage {
		return nil
	}
	if req.Metadata != nil && req.Metadata.Image != nil {
		img := *req.Metadata.Image
		if img.URL == "" {
			img.URL = req.ImageURL
		}
		return domain.ImageMeta(img)
	}
	return domain.ImageMeta(domain.ImageMetadata{URL: req.ImageURL})
}
