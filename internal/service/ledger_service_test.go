package service

import (
	"strings"
	"sync"
	"testing"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/events"
	"github.com/spec-kit/livechat-service/internal/realtime"
)

func TestTicketLedgerTracksOperatorsAndZeroesSender(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	admin := f.principal("a1", domain.RoleAdmin)

	conv := f.conversation(user)
	ticket, created, err := f.tickets.CreateForConversation(f.ctx, conv, events.Actor{PrincipalID: user.ExternalID}, domain.TicketPriorityMedium, "")
	if err != nil || !created {
		t.Fatalf("create ticket: created=%v err=%v", created, err)
	}

	for i := 0; i < 2; i++ {
		if _, err := f.ledger.RecordTicketMessage(f.ctx, ticket.ID, conv.ID, user); err != nil {
			t.Fatalf("record user message: %v", err)
		}
	}
	ledger, err := f.ledger.RecordTicketMessage(f.ctx, ticket.ID, conv.ID, support)
	if err != nil {
		t.Fatalf("record support message: %v", err)
	}

	if got := ledger.Count(support.ExternalID); got != 0 {
		t.Fatalf("sender should be zeroed, got %d", got)
	}
	if got := ledger.Count(admin.ExternalID); got != 2 {
		t.Fatalf("admin unread = %d, want 2", got)
	}
	if ledger.Support != 0 || ledger.Admin != 2 || ledger.Total != 2 {
		t.Fatalf("totals out of sync with map: %+v", ledger)
	}
	if _, ok := ledger.ByUser[user.ExternalID]; !ok {
		t.Fatalf("end user sender should have an explicit zero entry")
	}
}

func TestMarkTicketReadIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	f.principal("s2", domain.RoleSupport)

	conv := f.conversation(user)
	ticket, _, err := f.tickets.CreateForConversation(f.ctx, conv, events.Actor{}, domain.TicketPriorityLow, "")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	if _, err := f.ledger.RecordTicketMessage(f.ctx, ticket.ID, conv.ID, user); err != nil {
		t.Fatalf("record: %v", err)
	}

	first, err := f.ledger.MarkTicketRead(f.ctx, ticket.ID, conv.ID, support.ExternalID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	second, err := f.ledger.MarkTicketRead(f.ctx, ticket.ID, conv.ID, support.ExternalID)
	if err != nil {
		t.Fatalf("mark read again: %v", err)
	}
	if first.Total != second.Total || first.Support != second.Support || first.Count("s2") != second.Count("s2") {
		t.Fatalf("repeated mark read changed state: %+v vs %+v", first, second)
	}
	if second.Count("s2") != 1 || second.Support != 1 {
		t.Fatalf("other operator should keep its unread: %+v", second)
	}
}

func TestLedgerBroadcastsFullMap(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	watcher := f.connect(support)

	conv := f.conversation(user)
	ticket, _, err := f.tickets.CreateForConversation(f.ctx, conv, events.Actor{}, domain.TicketPriorityLow, "")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	drain(watcher)
	if _, err := f.ledger.RecordTicketMessage(f.ctx, ticket.ID, conv.ID, user); err != nil {
		t.Fatalf("record: %v", err)
	}
	frame, ok := findEvent(drain(watcher), realtime.EventUnreadUpdate)
	if !ok {
		t.Fatalf("expected %s broadcast", realtime.EventUnreadUpdate)
	}
	want := `"unreadCountByUser":{"s1":1,"u1":0}`
	if !strings.Contains(string(frame.Data), want) {
		t.Fatalf("payload %s does not carry the full map", frame.Data)
	}
}

func TestRoomLedgerSkipsSender(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s1 := f.principal("s1", domain.RoleSupport)
	f.principal("s2", domain.RoleSupport)
	f.principal("a1", domain.RoleAdmin)

	room, err := f.rooms.EnsureGeneral(f.ctx)
	if err != nil {
		t.Fatalf("ensure general: %v", err)
	}
	ledger, err := f.ledger.RecordRoomMessage(f.ctx, room, s1.ExternalID)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if ledger.Count("s1") != 0 || ledger.Count("s2") != 1 || ledger.Count("a1") != 1 || ledger.Total != 2 {
		t.Fatalf("unexpected room ledger %+v", ledger)
	}

	ledger, err = f.ledger.RemoveRoomParticipants(f.ctx, room.ID, []string{"s2"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := ledger.ByUser["s2"]; ok || ledger.Total != 1 {
		t.Fatalf("removed participant still counted: %+v", ledger)
	}
}

func TestConversationCounterWithoutTicket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	conv := f.conversation(f.principal("u1", domain.RoleUser))

	for i := 1; i <= 3; i++ {
		n, err := f.ledger.RecordConversationMessage(f.ctx, conv.ID)
		if err != nil || n != i {
			t.Fatalf("increment %d: n=%d err=%v", i, n, err)
		}
	}
	if err := f.ledger.ResetConversationUnread(f.ctx, conv.ID); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := f.reload(conv.ID).UnreadCount; got != 0 {
		t.Fatalf("unread after reset = %d", got)
	}
}

func TestConcurrentTicketIncrementsAreNotLost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	f.principal("s1", domain.RoleSupport)
	f.principal("a1", domain.RoleAdmin)

	conv := f.conversation(user)
	ticket, _, err := f.tickets.CreateForConversation(f.ctx, conv, events.Actor{}, domain.TicketPriorityLow, "")
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.RecordTicketMessage(f.ctx, ticket.ID, conv.ID, user); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("record: %v", err)
	}

	stored, err := f.store.Tickets.GetByID(f.ctx, ticket.ID)
	if err != nil {
		t.Fatalf("load ticket: %v", err)
	}
	ledger := stored.Unread
	if ledger.Count("s1") != writers || ledger.Count("a1") != writers || ledger.Count("u1") != 0 {
		t.Fatalf("lost updates: %v", ledger.ByUser)
	}
	if ledger.Support != ledger.Count("s1") || ledger.Admin != ledger.Count("a1") {
		t.Fatalf("aggregates out of sync with map: %+v", ledger)
	}
}

func TestConcurrentRoomIncrementsAreNotLost(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	s1 := f.principal("s1", domain.RoleSupport)
	f.principal("s2", domain.RoleSupport)
	f.principal("a1", domain.RoleAdmin)

	room, err := f.rooms.EnsureGeneral(f.ctx)
	if err != nil {
		t.Fatalf("ensure general: %v", err)
	}

	const writers = 50
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.ledger.RecordRoomMessage(f.ctx, room, s1.ExternalID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("record: %v", err)
	}

	stored, err := f.store.Rooms.GetByID(f.ctx, room.ID)
	if err != nil {
		t.Fatalf("load room: %v", err)
	}
	ledger := stored.Unread
	if ledger.Count("s2") != writers || ledger.Count("a1") != writers || ledger.Count("s1") != 0 {
		t.Fatalf("lost updates: %v", ledger.ByUser)
	}
	if ledger.Support != ledger.Count("s2") || ledger.Admin != ledger.Count("a1") || ledger.Total != 2*writers {
		t.Fatalf("aggregates out of sync with map: %+v", ledger)
	}
}
