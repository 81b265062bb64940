// Package ws serves the realtime websocket endpoint.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/auth"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/service"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

const defaultReadLimit = 1 << 20

// Gateway upgrades authenticated requests to websocket connections and routes
// their frames to the chat services. Each connection gets one reader and one
// writer goroutine; inbound frames are handled in arrival order.
type Gateway struct {
	tokens        *auth.TokenManager
	hub           *realtime.Hub
	sessions      *service.SessionService
	chat          *service.ChatService
	rooms         *service.RoomService
	notifications *service.NotificationService
	origins       []string
	writeTimeout  time.Duration
	readLimit     int64
	logger        *zap.Logger
}

// GatewayDependencies bundles collaborators.
type GatewayDependencies struct {
	Tokens              *auth.TokenManager
	Hub                 *realtime.Hub
	SessionService      *service.SessionService
	ChatService         *service.ChatService
	RoomService         *service.RoomService
	NotificationService *service.NotificationService
	AllowedOrigins      []string
	WriteTimeout        time.Duration
	ReadLimit           int64
	Logger              *zap.Logger
}

// NewGateway creates the gateway.
func NewGateway(deps GatewayDependencies) *Gateway {
	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	writeTimeout := deps.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	readLimit := deps.ReadLimit
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		tokens:        deps.Tokens,
		hub:           deps.Hub,
		sessions:      deps.SessionService,
		chat:          deps.ChatService,
		rooms:         deps.RoomService,
		notifications: deps.NotificationService,
		origins:       origins,
		writeTimeout:  writeTimeout,
		readLimit:     readLimit,
		logger:        logger,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	principal, err := g.tokens.PrincipalFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: g.origins})
	if err != nil {
		g.logger.Warn("websocket accept failed", zap.String("principal_id", principal.ExternalID), zap.Error(err))
		return
	}
	socket.SetReadLimit(g.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn := g.hub.Register(principal)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		g.writeLoop(ctx, cancel, socket, conn)
	}()

	if err := g.sessions.Connect(ctx, conn, r.URL.Query().Get("conversationId")); err != nil {
		g.emitError(conn, err)
	}

	g.readLoop(ctx, socket, conn)

	cancel()
	last := g.hub.Unregister(conn)
	g.sessions.Disconnect(context.WithoutCancel(r.Context()), principal, last)
	<-writerDone
	if err := socket.Close(websocket.StatusNormalClosure, ""); err != nil {
		g.logger.Debug("close websocket", zap.String("conn_id", conn.ID()), zap.Error(err))
	}
	g.logger.Info("realtime connection closed",
		zap.String("conn_id", conn.ID()),
		zap.String("principal_id", principal.ExternalID))
}

func (g *Gateway) readLoop(ctx context.Context, socket *websocket.Conn, conn *realtime.Conn) {
	for {
		_, data, err := socket.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				g.logger.Debug("websocket read failed", zap.String("conn_id", conn.ID()), zap.Error(err))
			}
			return
		}
		g.dispatch(ctx, conn, data)
	}
}

// writeLoop drains the connection's outbound queue until the hub closes it.
func (g *Gateway) writeLoop(ctx context.Context, cancel context.CancelFunc, socket *websocket.Conn, conn *realtime.Conn) {
	failed := false
	for frame := range conn.Outbound() {
		if failed {
			continue
		}
		writeCtx, done := context.WithTimeout(ctx, g.writeTimeout)
		err := socket.Write(writeCtx, websocket.MessageText, frame)
		done()
		if err != nil {
			failed = true
			g.logger.Debug("websocket write failed", zap.String("conn_id", conn.ID()), zap.Error(err))
			cancel()
		}
	}
}

func (g *Gateway) dispatch(ctx context.Context, conn *realtime.Conn, data []byte) {
	var frame realtime.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
		g.emitError(conn, apperrors.NewValidationError("malformed frame", nil))
		return
	}
	principal := conn.Principal()

	var err error
	switch frame.Event {
	case realtime.InSendMessage:
		var req dto.SendMessageRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.chat.HandleUserMessage(ctx, conn, req)
		}
	case realtime.InSupportMessage:
		var req dto.SendMessageRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.chat.HandleSupportMessage(ctx, conn, req)
		}
	case realtime.InInternalMessage:
		var req dto.SendMessageRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.chat.HandleInternalNote(ctx, conn, req)
		}
	case realtime.InInternalRoomMessage:
		var req dto.RoomMessageRequest
		if err = decode(frame.Data, &req); err == nil {
			_, err = g.rooms.PostMessage(ctx, principal, req)
		}
	case realtime.InInternalRoomJoin:
		var req dto.RoomJoinRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.rooms.Join(ctx, conn, req.RoomID)
		}
	case realtime.InTyping:
		var req dto.TypingPayload
		if err = decode(frame.Data, &req); err == nil {
			g.chat.Typing(conn, req)
		}
	case realtime.InConversationJoin:
		var req dto.ConversationJoinRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.chat.JoinConversation(ctx, conn, req.ConversationID)
		}
	case realtime.InTicketViewing:
		var req dto.TicketViewingRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.chat.TicketViewing(ctx, conn, req)
		}
	case realtime.InTicketLeft:
		var req dto.TicketViewingRequest
		if err = decode(frame.Data, &req); err == nil {
			g.chat.TicketLeft(conn, req)
		}
	case realtime.InNotificationMarkRead:
		var req dto.NotificationIDRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.notifications.MarkRead(ctx, principal.ExternalID, req.NotificationID)
		}
	case realtime.InNotificationMarkConversation:
		var req dto.ConversationReadRequest
		if err = decode(frame.Data, &req); err == nil {
			_, err = g.notifications.MarkConversationRead(ctx, principal.ExternalID, req.ConversationID)
		}
	case realtime.InNotificationDelete:
		var req dto.NotificationIDRequest
		if err = decode(frame.Data, &req); err == nil {
			err = g.notifications.Delete(ctx, principal.ExternalID, req.NotificationID)
		}
	case realtime.InNotificationGetUnread:
		err = g.sendUnread(ctx, conn)
	default:
		err = apperrors.NewValidationError("unknown event", map[string]any{"event": frame.Event})
	}
	if err != nil {
		g.emitError(conn, err)
	}
}

func (g *Gateway) sendUnread(ctx context.Context, conn *realtime.Conn) error {
	list, err := g.notifications.ListUnread(ctx, conn.Principal().ExternalID)
	if err != nil {
		return err
	}
	conn.Emit(realtime.EventNotificationUnreadList, dto.UnreadNotificationsPayload{
		Notifications: dto.NewNotificationResponses(list),
		Count:         len(list),
	})
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperrors.NewValidationError("payload required", nil)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.NewValidationError("malformed payload", nil)
	}
	return nil
}

// emitError reports a failed frame to its sender as error{message: code}.
func (g *Gateway) emitError(conn *realtime.Conn, err error) {
	domainErr := apperrors.ToDomainError(err)
	if domainErr.HTTPStatus >= http.StatusInternalServerError {
		g.logger.Error("realtime handler failed",
			zap.String("conn_id", conn.ID()),
			zap.String("principal_id", conn.Principal().ExternalID),
			zap.Error(domainErr))
	}
	payload := dto.ErrorPayload{
		Message: strings.ToLower(domainErr.Code),
		Details: domainErr.Message,
	}
	if reason, ok := domainErr.Details["reason"].(string); ok && reason != "" {
		payload.Details = reason
	}
	if warnings, ok := domainErr.Details["warnings"].(int); ok {
		payload.Warnings = warnings
	}
	if until, ok := domainErr.Details["banned_until"].(time.Time); ok {
		payload.BannedUntil = &until
	}
	conn.Emit(realtime.EventError, payload)
}
