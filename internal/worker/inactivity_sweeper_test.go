package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/livechat-service/internal/config"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/persistence"
	"github.com/spec-kit/livechat-service/internal/realtime"
	"github.com/spec-kit/livechat-service/internal/repository/repotest"
	"github.com/spec-kit/livechat-service/internal/service"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubLease struct {
	held bool
	keys []string
}

func (s *stubLease) AcquireLease(_ context.Context, key string, _ time.Duration) (*persistence.Lease, error) {
	s.keys = append(s.keys, key)
	if s.held {
		return nil, nil
	}
	return &persistence.Lease{}, nil
}

type sweepFixture struct {
	ctx      context.Context
	store    *repotest.Store
	clock    *testClock
	messages *service.MessageService
	sweeper  *InactivitySweeper
}

func newSweepFixture(t *testing.T, lease LeaseAcquirer) *sweepFixture {
	t.Helper()
	store := repotest.NewStore()
	clock := &testClock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	hub := realtime.NewHub(64, nil, nil)

	messages := service.NewMessageService(service.MessageDependencies{
		MessageRepo:      store.Messages,
		ConversationRepo: store.Conversations,
		Broadcaster:      hub,
		Now:              clock.Now,
	})
	tickets := service.NewTicketService(service.TicketDependencies{
		TicketRepo:       store.Tickets,
		ConversationRepo: store.Conversations,
		Now:              clock.Now,
	})
	assignments := service.NewAssignmentService(service.AssignmentDependencies{
		ConversationRepo: store.Conversations,
		TicketRepo:       store.Tickets,
		UserRepo:         store.Users,
	})
	conversations := service.NewConversationService(service.ConversationDependencies{
		ConversationRepo:  store.Conversations,
		TicketRepo:        store.Tickets,
		UserRepo:          store.Users,
		TicketService:     tickets,
		AssignmentService: assignments,
		MessageService:    messages,
		Broadcaster:       hub,
		Now:               clock.Now,
	})
	notifications := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: store.Notifications,
		Presence:         hub,
		Broadcaster:      hub,
		Now:              clock.Now,
	})

	cfg := config.DefaultSweeperConfig()
	cfg.LeaseEnabled = lease != nil
	return &sweepFixture{
		ctx:      context.Background(),
		store:    store,
		clock:    clock,
		messages: messages,
		sweeper: NewInactivitySweeper(SweeperDependencies{
			Config:              cfg,
			ConversationRepo:    store.Conversations,
			MessageRepo:         store.Messages,
			ConversationService: conversations,
			MessageService:      messages,
			NotificationService: notifications,
			Lease:               lease,
			Now:                 clock.Now,
		}),
	}
}

// idleConversation creates an active conversation whose last message is an
// automated reply 25 hours old.
func (f *sweepFixture) idleConversation(t *testing.T) *domain.Conversation {
	t.Helper()
	conv := &domain.Conversation{OwnerID: "u1", Status: domain.ConversationActive, LastMessageAt: f.clock.Now()}
	if err := f.store.Conversations.Create(f.ctx, conv); err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if _, err := f.messages.PostAssistant(f.ctx, conv.ID, "Anything else?"); err != nil {
		t.Fatalf("post reply: %v", err)
	}
	f.clock.Advance(25 * time.Hour)
	return conv
}

func (f *sweepFixture) load(t *testing.T, id string) *domain.Conversation {
	t.Helper()
	conv, err := f.store.Conversations.GetByID(f.ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return conv
}

func (f *sweepFixture) post(t *testing.T, convID, sender string, role domain.Role) {
	t.Helper()
	err := f.messages.Post(f.ctx, &domain.Message{
		ConversationID: convID,
		SenderID:       sender,
		SenderRole:     role,
		Content:        "still here",
	})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
}

func TestSweepWarnsThenCloses(t *testing.T) {
	t.Parallel()
	f := newSweepFixture(t, nil)
	conv := f.idleConversation(t)

	if stats := f.sweeper.SweepOnce(f.ctx); stats.Warned != 1 {
		t.Fatalf("first sweep: %+v", stats)
	}
	warned := f.load(t, conv.ID)
	if warned.Metadata.InactivityWarningSentAt == nil {
		t.Fatal("warning not stamped")
	}
	unread, _ := f.store.Notifications.ListUnread(f.ctx, "u1")
	if len(unread) != 1 || unread[0].Type != domain.NotificationInactivityWarning {
		t.Fatalf("owner notifications = %+v", unread)
	}

	f.clock.Advance(4 * time.Minute)
	if stats := f.sweeper.SweepOnce(f.ctx); stats.Closed != 0 || stats.Warned != 0 {
		t.Fatalf("sweep at 4 minutes: %+v", stats)
	}
	if got := f.load(t, conv.ID); got.Status != domain.ConversationActive || got.Metadata.InactivityWarningSentAt == nil {
		t.Fatalf("warning should still be pending: %+v", got)
	}

	f.clock.Advance(2 * time.Minute)
	if stats := f.sweeper.SweepOnce(f.ctx); stats.Closed != 1 {
		t.Fatalf("sweep at 6 minutes: %+v", stats)
	}
	if got := f.load(t, conv.ID); got.Status != domain.ConversationClosed {
		t.Fatalf("status = %s", got.Status)
	}
	all := f.store.Messages.All(conv.ID)
	last := all[len(all)-1]
	if last.Type != domain.MessageTypeSystem || last.Metadata == nil || last.Metadata.Kind != domain.MetadataInactivityClosure {
		t.Fatalf("closing message = %+v", last)
	}
}

func TestReplyAfterWarningClearsIt(t *testing.T) {
	t.Parallel()
	f := newSweepFixture(t, nil)
	conv := f.idleConversation(t)
	f.sweeper.SweepOnce(f.ctx)

	f.clock.Advance(3 * time.Minute)
	f.post(t, conv.ID, "u1", domain.RoleUser)

	f.clock.Advance(3 * time.Minute)
	if stats := f.sweeper.SweepOnce(f.ctx); stats.Cleared != 1 || stats.Closed != 0 {
		t.Fatalf("sweep after reply: %+v", stats)
	}
	got := f.load(t, conv.ID)
	if got.Status != domain.ConversationActive || got.Metadata.InactivityWarningSentAt != nil {
		t.Fatalf("conversation = %+v", got)
	}
}

func TestFreshOperatorMessageKeepsConversationOpen(t *testing.T) {
	t.Parallel()
	f := newSweepFixture(t, nil)
	conv := f.idleConversation(t)
	f.sweeper.SweepOnce(f.ctx)

	f.clock.Advance(2 * time.Minute)
	f.post(t, conv.ID, "s1", domain.RoleSupport)
	f.clock.Advance(4 * time.Minute)

	if stats := f.sweeper.SweepOnce(f.ctx); stats.Cleared != 1 {
		t.Fatalf("sweep: %+v", stats)
	}
	if got := f.load(t, conv.ID); got.Status != domain.ConversationActive {
		t.Fatalf("status = %s", got.Status)
	}
	// Operator grace runs until the operator message is a day old.
	f.clock.Advance(23 * time.Hour)
	if stats := f.sweeper.SweepOnce(f.ctx); stats.Warned != 0 {
		t.Fatalf("warned inside operator grace: %+v", stats)
	}
	f.clock.Advance(2 * time.Hour)
	if stats := f.sweeper.SweepOnce(f.ctx); stats.Warned != 1 {
		t.Fatalf("expected a warning after the grace: %+v", stats)
	}
}

func TestEndUserLastMessageIsNeverWarned(t *testing.T) {
	t.Parallel()
	f := newSweepFixture(t, nil)
	conv := &domain.Conversation{OwnerID: "u1", Status: domain.ConversationActive}
	if err := f.store.Conversations.Create(f.ctx, conv); err != nil {
		t.Fatalf("create: %v", err)
	}
	f.post(t, conv.ID, "u1", domain.RoleUser)
	f.clock.Advance(72 * time.Hour)

	if stats := f.sweeper.SweepOnce(f.ctx); stats.Warned != 0 || stats.Scanned != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestOverlappingSweepIsSkipped(t *testing.T) {
	t.Parallel()
	f := newSweepFixture(t, nil)
	f.sweeper.running.Store(true)
	if stats := f.sweeper.SweepOnce(f.ctx); !stats.Skipped {
		t.Fatalf("overlapping sweep ran: %+v", stats)
	}
}

func TestSweepSkipsWhenLeaseHeldElsewhere(t *testing.T) {
	t.Parallel()
	lease := &stubLease{held: true}
	f := newSweepFixture(t, lease)
	f.idleConversation(t)

	if stats := f.sweeper.SweepOnce(f.ctx); !stats.Skipped {
		t.Fatalf("sweep ran without the lease: %+v", stats)
	}
	lease.held = false
	if stats := f.sweeper.SweepOnce(f.ctx); stats.Warned != 1 {
		t.Fatalf("sweep with lease: %+v", stats)
	}
	// The Redis client adds the deployment namespace itself.
	for _, key := range lease.keys {
		if key != "sweeper:lease" {
			t.Fatalf("lease key = %q, want the bare sweeper:lease", key)
		}
	}
}
