package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/livechat-service/internal/ai"
	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository/repotest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubCompleter struct {
	mu     sync.Mutex
	reply  string
	err    error
	calls  int
	inputs [][]ai.Message
}

func (s *stubCompleter) Complete(_ context.Context, msgs []ai.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.inputs = append(s.inputs, msgs)
	return s.reply, s.err
}

func (s *stubCompleter) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixture struct {
	t             *testing.T
	ctx           context.Context
	store         *repotest.Store
	hub           *realtime.Hub
	clock         *fakeClock
	assistant     *stubCompleter
	ledger        *LedgerService
	limiter       *RateLimiter
	tickets       *TicketService
	assignments   *AssignmentService
	notifications *NotificationService
	messages      *MessageService
	conversations *ConversationService
	chat          *ChatService
	rooms         *RoomService
	images        *ImageService
	sessions      *SessionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repotest.NewStore()
	clock := newFakeClock()
	hub := realtime.NewHub(256, nil, nil)
	chatCfg := config.DefaultChatConfig()
	assistant := &stubCompleter{reply: `{"reply":"How can I help?","action":"no_action"}`}

	f := &fixture{t: t, ctx: context.Background(), store: store, hub: hub, clock: clock, assistant: assistant}
	f.ledger = NewLedgerService(LedgerDependencies{
		UserRepo:         store.Users,
		TicketLedger:     store.Tickets,
		RoomLedger:       store.Rooms,
		ConversationRepo: store.Conversations,
		Broadcaster:      hub,
	})
	f.limiter = NewRateLimiter(RateLimiterDependencies{
		Config:      chatCfg,
		UserRepo:    store.Users,
		MessageRepo: store.Messages,
		Now:         clock.Now,
	})
	f.tickets = NewTicketService(TicketDependencies{
		TicketRepo:       store.Tickets,
		ConversationRepo: store.Conversations,
		HistoryRepo:      store.History,
		Now:              clock.Now,
	})
	f.assignments = NewAssignmentService(AssignmentDependencies{
		ConversationRepo: store.Conversations,
		TicketRepo:       store.Tickets,
		UserRepo:         store.Users,
		HistoryRepo:      store.History,
	})
	f.notifications = NewNotificationService(NotificationDependencies{
		NotificationRepo: store.Notifications,
		Presence:         hub,
		Broadcaster:      hub,
		PageSize:         chatCfg.NotificationPageSize,
		Now:              clock.Now,
	})
	f.messages = NewMessageService(MessageDependencies{
		MessageRepo:      store.Messages,
		ConversationRepo: store.Conversations,
		Broadcaster:      hub,
		Now:              clock.Now,
	})
	f.conversations = NewConversationService(ConversationDependencies{
		ConversationRepo:  store.Conversations,
		TicketRepo:        store.Tickets,
		UserRepo:          store.Users,
		TicketService:     f.tickets,
		AssignmentService: f.assignments,
		MessageService:    f.messages,
		Broadcaster:       hub,
		BanDuration:       chatCfg.BanDuration,
		Now:               clock.Now,
	})
	f.chat = NewChatService(ChatDependencies{
		UserRepo:            store.Users,
		TicketRepo:          store.Tickets,
		ConversationService: f.conversations,
		MessageService:      f.messages,
		LedgerService:       f.ledger,
		RateLimiter:         f.limiter,
		NotificationService: f.notifications,
		Assistant:           assistant,
		Broadcaster:         hub,
		SystemPrompt:        "be helpful",
		Now:                 clock.Now,
	})
	f.rooms = NewRoomService(RoomDependencies{
		RoomRepo:        store.Rooms,
		RoomMessageRepo: store.RoomMessages,
		UserRepo:        store.Users,
		LedgerService:   f.ledger,
		Broadcaster:     hub,
		Now:             clock.Now,
	})
	f.images = NewImageService(ImageDependencies{
		ImageRepo:           store.Images,
		UserRepo:            store.Users,
		ConversationService: f.conversations,
		MaxBytes:            chatCfg.MaxImageBytes,
		Now:                 clock.Now,
	})
	f.sessions = NewSessionService(SessionDependencies{
		UserRepo:            store.Users,
		ChatService:         f.chat,
		ConversationService: f.conversations,
		RoomService:         f.rooms,
		Broadcaster:         hub,
		Now:                 clock.Now,
	})
	return f
}

func (f *fixture) principal(id string, role domain.Role) domain.Principal {
	f.t.Helper()
	p := domain.Principal{ExternalID: id, Role: role, DisplayName: "name-" + id}
	if _, err := f.store.Users.Upsert(f.ctx, p); err != nil {
		f.t.Fatalf("upsert %s: %v", id, err)
	}
	return p
}

func (f *fixture) connect(p domain.Principal) *realtime.Conn {
	f.t.Helper()
	conn := f.hub.Register(p)
	if p.Role.IsOperator() {
		conn.JoinRoom(realtime.SupportRoom)
	}
	return conn
}

func (f *fixture) conversation(owner domain.Principal) *domain.Conversation {
	f.t.Helper()
	conv, _, err := f.conversations.FindOrCreate(f.ctx, owner, "")
	if err != nil {
		f.t.Fatalf("create conversation: %v", err)
	}
	return conv
}

func (f *fixture) reload(id string) *domain.Conversation {
	f.t.Helper()
	conv, err := f.store.Conversations.GetByID(f.ctx, id)
	if err != nil {
		f.t.Fatalf("reload conversation: %v", err)
	}
	return conv
}

// drain returns the frames queued on a connection.
func drain(c *realtime.Conn) []realtime.Frame {
	var frames []realtime.Frame
	for {
		select {
		case raw, ok := <-c.Outbound():
			if !ok {
				return frames
			}
			var frame realtime.Frame
			if err := json.Unmarshal(raw, &frame); err == nil {
				frames = append(frames, frame)
			}
		default:
			return frames
		}
	}
}

func countEvents(frames []realtime.Frame, event string) int {
	n := 0
	for _, f := range frames {
		if f.Event == event {
			n++
		}
	}
	return n
}

func findEvent(frames []realtime.Frame, event string) (realtime.Frame, bool) {
	for _, f := range frames {
		if f.Event == event {
			return f, true
		}
	}
	return realtime.Frame{}, false
}
