package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	nethttp "net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/livechat-service/internal/api/http/handlers"
	"github.com/spec-kit/livechat-service/internal/auth"
	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository/repotest"
	"github.com/spec-kit/livechat-service/internal/service"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01")

var (
	endUser  = domain.Principal{ExternalID: "u-1", Role: domain.RoleUser, DisplayName: "Uma"}
	stranger = domain.Principal{ExternalID: "u-2", Role: domain.RoleUser, DisplayName: "Sam"}
	operator = domain.Principal{ExternalID: "op-1", Role: domain.RoleSupport, DisplayName: "Olga"}
)

type restFixture struct {
	app           *fiber.App
	tokens        *auth.TokenManager
	conversations *service.ConversationService
}

func newRESTFixture(t *testing.T) *restFixture {
	t.Helper()
	store := repotest.NewStore()
	hub := realtime.NewHub(16, nil, nil)
	tokens := auth.NewTokenManager("secret", 5)
	chatCfg := config.DefaultChatConfig()

	ledger := service.NewLedgerService(service.LedgerDependencies{
		UserRepo:         store.Users,
		TicketLedger:     store.Tickets,
		RoomLedger:       store.Rooms,
		ConversationRepo: store.Conversations,
		Broadcaster:      hub,
	})
	messages := service.NewMessageService(service.MessageDependencies{
		MessageRepo:      store.Messages,
		ConversationRepo: store.Conversations,
		Broadcaster:      hub,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:       store.Tickets,
		ConversationRepo: store.Conversations,
		HistoryRepo:      store.History,
	})
	assignments := service.NewAssignmentService(service.AssignmentDependencies{
		ConversationRepo: store.Conversations,
		TicketRepo:       store.Tickets,
		UserRepo:         store.Users,
		HistoryRepo:      store.History,
	})
	conversations := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo:  store.Conversations,
		TicketRepo:        store.Tickets,
		UserRepo:          store.Users,
		TicketService:     tickets,
		AssignmentService: assignments,
		MessageService:    messages,
		Broadcaster:       hub,
	})
	notifications := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: store.Notifications,
		Presence:         hub,
		Broadcaster:      hub,
	})
	chat := service.NewChatService(service.ChatDependencies{
		UserRepo:            store.Users,
		TicketRepo:          store.Tickets,
		ConversationService: conversations,
		MessageService:      messages,
		LedgerService:       ledger,
		RateLimiter:         service.NewRateLimiter(service.RateLimiterDependencies{Config: chatCfg, UserRepo: store.Users, MessageRepo: store.Messages}),
		NotificationService: notifications,
		Broadcaster:         hub,
	})
	rooms := service.NewRoomService(service.RoomDependencies{
		RoomRepo:        store.Rooms,
		RoomMessageRepo: store.RoomMessages,
		UserRepo:        store.Users,
		LedgerService:   ledger,
		Broadcaster:     hub,
	})
	images := service.NewImageService(service.ImageDependencies{
		ImageRepo:           store.Images,
		UserRepo:            store.Users,
		ConversationService: conversations,
		MaxBytes:            chatCfg.MaxImageBytes,
	})

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), nil, 0)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("livechat", "test", nil, hub.ConnectionCount),
		Conversations:  handlers.NewConversationsHandler(conversations, messages, chat, 50),
		Tickets:        handlers.NewTicketsHandler(tickets),
		Rooms:          handlers.NewRoomsHandler(rooms),
		Notifications:  handlers.NewNotificationsHandler(notifications),
		Images:         handlers.NewImagesHandler(images, chatCfg.MaxImageBytes),
		AuthMiddleware: auth.NewAuthMiddleware(tokens),
	})
	return &restFixture{app: app, tokens: tokens, conversations: conversations}
}

func (f *restFixture) do(t *testing.T, p *domain.Principal, method, path string, body io.Reader, contentType string) *nethttp.Response {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if p != nil {
		token, _, err := f.tokens.GenerateToken(*p)
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func (f *restFixture) doJSON(t *testing.T, p *domain.Principal, method, path string, payload any) *nethttp.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	}
	return f.do(t, p, method, path, body, fiber.MIMEApplicationJSON)
}

func (f *restFixture) conversation(t *testing.T, owner domain.Principal) *domain.Conversation {
	t.Helper()
	conv, _, err := f.conversations.FindOrCreate(context.Background(), owner, "")
	if err != nil {
		t.Fatalf("FindOrCreate: %v", err)
	}
	return conv
}

func decodeData(t *testing.T, resp *nethttp.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func errorCode(t *testing.T, resp *nethttp.Response) string {
	t.Helper()
	defer resp.Body.Close()
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	return envelope.Error.Code
}

func TestAPIRequiresBearerToken(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)

	resp := f.doJSON(t, nil, nethttp.MethodGet, "/api/conversations", nil)
	if resp.StatusCode != nethttp.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %q", code)
	}

	resp = f.doJSON(t, nil, nethttp.MethodGet, "/health/live", nil)
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("liveness should be public, got %d", resp.StatusCode)
	}
}

func TestUnknownRouteRendersNotFound(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)

	resp := f.doJSON(t, nil, nethttp.MethodGet, "/nope", nil)
	if resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %q", code)
	}
}

func TestRequestIDIsEchoedOrMinted(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)

	req := httptest.NewRequest(nethttp.MethodGet, "/api/conversations", nil)
	req.Header.Set("X-Request-ID", "trace-42")
	resp, err := f.app.Test(req, -1)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "trace-42" {
		t.Fatalf("X-Request-ID = %q, want trace-42", got)
	}
	var envelope struct {
		Error struct {
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if envelope.Error.RequestID != "trace-42" {
		t.Fatalf("error body request_id = %q", envelope.Error.RequestID)
	}

	resp = f.doJSON(t, nil, nethttp.MethodGet, "/health/live", nil)
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected a minted request id")
	}
}

func TestConversationsAreScopedToOwner(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)
	conv := f.conversation(t, endUser)

	var own []map[string]any
	decodeData(t, f.doJSON(t, &endUser, nethttp.MethodGet, "/api/conversations", nil), &own)
	if len(own) != 1 || own[0]["id"] != conv.ID {
		t.Fatalf("owner should see its conversation, got %v", own)
	}

	var foreign []map[string]any
	decodeData(t, f.doJSON(t, &stranger, nethttp.MethodGet, "/api/conversations", nil), &foreign)
	if len(foreign) != 0 {
		t.Fatalf("stranger should see nothing, got %v", foreign)
	}

	resp := f.doJSON(t, &stranger, nethttp.MethodGet, "/api/conversations/"+conv.ID, nil)
	if resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("foreign conversation should look missing, got %d", resp.StatusCode)
	}

	var all []map[string]any
	decodeData(t, f.doJSON(t, &operator, nethttp.MethodGet, "/api/conversations", nil), &all)
	if len(all) != 1 {
		t.Fatalf("operator should see every conversation, got %d", len(all))
	}
}

func TestStatusChangeRequiresOperator(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)
	conv := f.conversation(t, endUser)
	path := "/api/conversations/" + conv.ID + "/status"

	resp := f.doJSON(t, &endUser, nethttp.MethodPatch, path, map[string]string{"status": "closed"})
	if resp.StatusCode != nethttp.StatusForbidden {
		t.Fatalf("expected 403 for end user, got %d", resp.StatusCode)
	}

	var view map[string]any
	resp = f.doJSON(t, &operator, nethttp.MethodPatch, path, map[string]string{"status": "closed"})
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	decodeData(t, resp, &view)
	if view["status"] != string(domain.ConversationClosed) {
		t.Fatalf("expected closed, got %v", view["status"])
	}

	resp = f.doJSON(t, &operator, nethttp.MethodPatch, path, map[string]string{"status": "bogus"})
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", resp.StatusCode)
	}
}

func TestCreateTicketActionConflictsOnSecondCall(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)
	conv := f.conversation(t, endUser)
	path := "/api/conversations/" + conv.ID + "/actions"
	body := map[string]string{"action": string(domain.ActionCreateTicket), "priority": "high"}

	var result struct {
		Action       string `json:"action"`
		Conversation struct {
			TicketID *string `json:"ticketId"`
		} `json:"conversation"`
	}
	resp := f.doJSON(t, &operator, nethttp.MethodPost, path, body)
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	decodeData(t, resp, &result)
	if result.Conversation.TicketID == nil {
		t.Fatalf("expected ticket on conversation")
	}

	resp = f.doJSON(t, &operator, nethttp.MethodPost, path, body)
	if resp.StatusCode != nethttp.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "TICKET_EXISTS" {
		t.Fatalf("expected TICKET_EXISTS, got %q", code)
	}
}

func TestNotificationBulkReadValidatesIDs(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)

	resp := f.doJSON(t, &endUser, nethttp.MethodPatch, "/api/notifications/read", map[string]any{"notificationIds": []string{}})
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var count map[string]int
	decodeData(t, f.doJSON(t, &endUser, nethttp.MethodGet, "/api/notifications/unread/count", nil), &count)
	if count["count"] != 0 {
		t.Fatalf("expected no unread notifications, got %v", count)
	}
}

func TestImageUploadAndDownload(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)
	conv := f.conversation(t, endUser)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("conversationId", conv.ID)
	part, _ := mw.CreateFormFile("image", "../../pixel.png")
	_, _ = part.Write(pngHeader)
	_ = mw.Close()

	resp := f.do(t, &endUser, nethttp.MethodPost, "/api/images", &buf, mw.FormDataContentType())
	if resp.StatusCode != nethttp.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var img struct {
		ID       string `json:"imageId"`
		URL      string `json:"url"`
		Filename string `json:"filename"`
		MimeType string `json:"mimeType"`
	}
	decodeData(t, resp, &img)
	if img.MimeType != "image/png" || img.Filename != "pixel.png" {
		t.Fatalf("unexpected image %+v", img)
	}

	resp = f.do(t, &endUser, nethttp.MethodGet, img.URL, nil, "")
	if resp.StatusCode != nethttp.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !bytes.Equal(data, pngHeader) || resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected download %q (%s)", data, resp.Header.Get("Content-Type"))
	}

	resp = f.do(t, &stranger, nethttp.MethodGet, img.URL, nil, "")
	if resp.StatusCode != nethttp.StatusNotFound {
		t.Fatalf("stranger should not see the image, got %d", resp.StatusCode)
	}
}

func TestImageUploadRejectsNonImages(t *testing.T) {
	t.Parallel()
	f := newRESTFixture(t)
	conv := f.conversation(t, endUser)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("conversationId", conv.ID)
	part, _ := mw.CreateFormFile("image", "notes.txt")
	_, _ = part.Write([]byte("just some text"))
	_ = mw.Close()

	resp := f.do(t, &endUser, nethttp.MethodPost, "/api/images", &buf, mw.FormDataContentType())
	if resp.StatusCode != nethttp.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if code := errorCode(t, resp); code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %q", code)
	}
}
