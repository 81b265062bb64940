package service

import (
	"testing"

	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

func TestNotificationsAreScopedToRecipient(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	support := f.principal("s1", domain.RoleSupport)
	conv := f.conversation(f.principal("u1", domain.RoleUser))

	n, err := f.notifications.Create(f.ctx, NotificationInput{
		RecipientID:    "u1",
		ConversationID: conv.ID,
		Sender:         support,
		Preview:        "hello",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := f.notifications.MarkRead(f.ctx, "u2", n.ID); !apperrors.HasCode(err, "NOT_FOUND") {
		t.Fatalf("foreign mark read should be NOT_FOUND, got %v", err)
	}
	if err := f.notifications.Delete(f.ctx, "u2", n.ID); !apperrors.HasCode(err, "NOT_FOUND") {
		t.Fatalf("foreign delete should be NOT_FOUND, got %v", err)
	}
	if err := f.notifications.MarkRead(f.ctx, "u1", "not-a-uuid"); !apperrors.HasCode(err, "NOT_FOUND") {
		t.Fatalf("malformed id should be NOT_FOUND, got %v", err)
	}
	if count, _ := f.notifications.CountUnread(f.ctx, "u1"); count != 1 {
		t.Fatalf("unread = %d", count)
	}
}

func TestMarkReadIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	support := f.principal("s1", domain.RoleSupport)
	conv := f.conversation(f.principal("u1", domain.RoleUser))
	n, err := f.notifications.Create(f.ctx, NotificationInput{RecipientID: "u1", ConversationID: conv.ID, Sender: support})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := f.notifications.MarkRead(f.ctx, "u1", n.ID); err != nil {
			t.Fatalf("mark read %d: %v", i, err)
		}
	}
	list, _ := f.notifications.ListAll(f.ctx, "u1", 10)
	if len(list) != 1 || !list[0].IsRead || list[0].ReadAt == nil {
		t.Fatalf("notification not read: %+v", list)
	}
	if count, _ := f.notifications.CountUnread(f.ctx, "u1"); count != 0 {
		t.Fatalf("unread = %d", count)
	}
}

func TestDispatchPushesOnlyToOnlineRecipients(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	conv := f.conversation(user)
	input := NotificationInput{RecipientID: "u1", ConversationID: conv.ID, Sender: support, Preview: "hi"}

	if _, err := f.notifications.Dispatch(f.ctx, input); err != nil {
		t.Fatalf("offline dispatch: %v", err)
	}

	conn := f.connect(user)
	if _, err := f.notifications.Dispatch(f.ctx, input); err != nil {
		t.Fatalf("online dispatch: %v", err)
	}
	frames := drain(conn)
	if countEvents(frames, realtime.EventTicketNewMessage) != 1 {
		t.Fatalf("expected one ticket:new_message, got %v", frames)
	}
	badge, ok := findEvent(frames, realtime.EventNotificationUnreadCount)
	if !ok || string(badge.Data) != `{"count":2}` {
		t.Fatalf("badge frame = %+v", badge)
	}
}

func TestMarkConversationReadClearsOnlyThatConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	support := f.principal("s1", domain.RoleSupport)
	user := f.principal("u1", domain.RoleUser)
	first := f.conversation(user)
	if _, err := f.conversations.UpdateStatus(f.ctx, support, first.ID, domain.ConversationClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	second := f.conversation(user)

	for _, id := range []string{first.ID, first.ID, second.ID} {
		if _, err := f.notifications.Create(f.ctx, NotificationInput{RecipientID: "u1", ConversationID: id, Sender: support}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	affected, err := f.notifications.MarkConversationRead(f.ctx, "u1", first.ID)
	if err != nil || affected != 2 {
		t.Fatalf("affected=%d err=%v", affected, err)
	}
	if count, _ := f.notifications.CountUnread(f.ctx, "u1"); count != 1 {
		t.Fatalf("unread = %d", count)
	}
}
