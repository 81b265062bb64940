package service

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/spec-kit/livechat-service/internal/ai"
	"github.com/spec-kit/livechat-service/internal/api/dto"
	"github.com/spec-kit/livechat-service/internal/domain"
	"github.com/spec-kit/livechat-service/internal/realtime"
	apperrors "github.com/spec-kit/livechat-service/pkg/util/errorutil"
)

func TestUserMessageCreatesConversationAndReplies(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	conn := f.connect(user)

	if err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	frames := drain(conn)
	connected, ok := findEvent(frames, realtime.EventConnected)
	if !ok {
		t.Fatalf("missing connected frame: %v", frames)
	}
	var payload dto.ConnectedPayload
	if err := json.Unmarshal(connected.Data, &payload); err != nil || payload.ConversationID == "" {
		t.Fatalf("connected payload %s: %v", connected.Data, err)
	}
	if conn.ConversationID() != payload.ConversationID {
		t.Fatalf("connection bound to %q", conn.ConversationID())
	}
	if n := countEvents(frames, realtime.EventMessageNew); n != 2 {
		t.Fatalf("expected user message and reply, got %d message:new", n)
	}

	if f.assistant.Calls() != 1 {
		t.Fatalf("assistant called %d times", f.assistant.Calls())
	}
	transcript := f.assistant.inputs[0]
	if len(transcript) != 2 || transcript[0].Role != ai.RoleSystem || transcript[1].Content != "hi" {
		t.Fatalf("transcript = %+v", transcript)
	}

	msgs := f.store.Messages.All(payload.ConversationID)
	if len(msgs) != 2 || !msgs[1].IsFromAI || msgs[1].Content != "How can I help?" {
		t.Fatalf("stored messages = %+v", msgs)
	}
}

func TestImageMessageEscalatesWithoutAssistant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	conn := f.connect(user)

	req := dto.SendMessageRequest{
		Content:  "see attached",
		ImageURL: "/api/images/abc",
		Metadata: domain.ImageMeta(domain.ImageMetadata{URL: "/api/images/abc", Size: 1024, MimeType: "image/png"}),
	}
	if err := f.chat.HandleUserMessage(f.ctx, conn, req); err != nil {
		t.Fatalf("send image: %v", err)
	}

	frames := drain(conn)
	noResponse, ok := findEvent(frames, realtime.EventAINoResponse)
	if !ok {
		t.Fatalf("missing ai:no_response: %v", frames)
	}
	var reason dto.AINoResponsePayload
	_ = json.Unmarshal(noResponse.Data, &reason)
	if reason.Reason != reasonHumanAttention {
		t.Fatalf("reason = %q", reason.Reason)
	}
	if countEvents(frames, realtime.EventConversationTicketCreated) != 1 {
		t.Fatal("ticket creation not broadcast")
	}
	if f.assistant.Calls() != 0 {
		t.Fatal("assistant must stay silent after escalation")
	}
	stored := f.reload(conn.ConversationID())
	if !stored.HasTicket() || !stored.NeedsHumanAttention {
		t.Fatalf("conversation not escalated: %+v", stored)
	}
}

func TestAssistantActionCreatesTicket(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.assistant.reply = "```json\n{\"reply\":\"Opening a ticket\",\"action\":\"create_ticket\",\"priority\":\"info\"}\n```"
	user := f.principal("u1", domain.RoleUser)
	conn := f.connect(user)

	if err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{Content: "my order is broken"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	ticket, err := f.store.Tickets.GetByConversation(f.ctx, conn.ConversationID())
	if err != nil {
		t.Fatalf("ticket not created: %v", err)
	}
	if ticket.Priority != domain.TicketPriorityLow {
		t.Fatalf("priority = %s", ticket.Priority)
	}

	// The conversation is escalated now, so the next message gets no reply.
	if err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{Content: "hello?"}); err != nil {
		t.Fatalf("second send: %v", err)
	}
	if f.assistant.Calls() != 1 {
		t.Fatalf("assistant called %d times", f.assistant.Calls())
	}
}

func TestAssistantFailureFallsBack(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.assistant.err = errors.New("upstream down")
	user := f.principal("u1", domain.RoleUser)
	conn := f.connect(user)

	if err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	msgs := f.store.Messages.All(conn.ConversationID())
	if len(msgs) != 2 || msgs[1].Content != fallbackReply {
		t.Fatalf("stored messages = %+v", msgs)
	}
}

func TestOperatorReplyReopensAndNotifiesOwner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	conv := f.conversation(user)
	if _, err := f.conversations.UpdateStatus(f.ctx, support, conv.ID, domain.ConversationClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	op := f.connect(support)
	drain(op)

	if err := f.chat.HandleSupportMessage(f.ctx, op, dto.SendMessageRequest{ConversationID: conv.ID, Content: "we are back"}); err != nil {
		t.Fatalf("support message: %v", err)
	}

	stored := f.reload(conv.ID)
	if stored.Status != domain.ConversationActive {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.AssignedOperatorID == nil || *stored.AssignedOperatorID != "s1" {
		t.Fatalf("assignee = %v", stored.AssignedOperatorID)
	}
	if !op.InRoom(realtime.ConversationRoom(conv.ID)) {
		t.Fatal("operator not joined to the conversation room")
	}
	if n, _ := f.notifications.CountUnread(f.ctx, "u1"); n != 1 {
		t.Fatalf("owner notifications = %d", n)
	}

	owner := f.connect(user)
	owner.BindConversation(conv.ID)
	owner.SetViewing(conv.ID, "")
	if err := f.chat.HandleSupportMessage(f.ctx, op, dto.SendMessageRequest{ConversationID: conv.ID, Content: "still there?"}); err != nil {
		t.Fatalf("second support message: %v", err)
	}
	if n, _ := f.notifications.CountUnread(f.ctx, "u1"); n != 1 {
		t.Fatalf("viewing owner should not be notified, got %d", n)
	}
}

func TestUserCannotWriteIntoClosedConversation(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	conv := f.conversation(user)
	if _, err := f.conversations.UpdateStatus(f.ctx, support, conv.ID, domain.ConversationClosed); err != nil {
		t.Fatalf("close: %v", err)
	}
	conn := f.connect(user)

	err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{ConversationID: conv.ID, Content: "hello"})
	if !apperrors.HasCode(err, apperrors.CodeConversationClosed) {
		t.Fatalf("expected CONVERSATION_CLOSED, got %v", err)
	}
	if len(f.store.Messages.All(conv.ID)) != 0 {
		t.Fatal("message persisted into a closed conversation")
	}
}

func TestBannedUserIsRejectedUntilBanExpires(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	now := f.clock.Now()
	if err := f.store.Users.Ban(f.ctx, "u1", "spam", now, now.Add(time.Hour)); err != nil {
		t.Fatalf("ban: %v", err)
	}
	conn := f.connect(user)

	err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{Content: "let me in"})
	if !apperrors.HasCode(err, apperrors.CodeUserBanned) {
		t.Fatalf("expected USER_BANNED, got %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	if err := f.chat.HandleUserMessage(f.ctx, conn, dto.SendMessageRequest{Content: "let me in"}); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	stored, _ := f.store.Users.GetByExternalID(f.ctx, "u1")
	if stored.IsBanned || stored.BannedUntil != nil {
		t.Fatalf("ban not lifted: %+v", stored)
	}
}

func TestInternalNoteStaysWithOperators(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := f.principal("u1", domain.RoleUser)
	support := f.principal("s1", domain.RoleSupport)
	conv := f.conversation(user)
	owner := f.connect(user)
	owner.BindConversation(conv.ID)
	op := f.connect(support)

	if err := f.chat.HandleInternalNote(f.ctx, op, dto.SendMessageRequest{ConversationID: conv.ID, Content: "vip"}); err != nil {
		t.Fatalf("note: %v", err)
	}
	if countEvents(drain(op), realtime.EventInternalNew) != 1 {
		t.Fatal("operator did not receive the note")
	}
	if frames := drain(owner); countEvents(frames, realtime.EventInternalNew)+countEvents(frames, realtime.EventMessageNew) != 0 {
		t.Fatalf("owner saw internal note: %v", frames)
	}
	if err := f.chat.HandleInternalNote(f.ctx, owner, dto.SendMessageRequest{ConversationID: conv.ID, Content: "x"}); !apperrors.HasCode(err, "FORBIDDEN") {
		t.Fatalf("end user note should be forbidden, got %v", err)
	}
}

func TestParseAssistantReply(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name   string
		raw    string
		reply  string
		action domain.ActionType
	}{
		{"plain text", "Hello there", "Hello there", ""},
		{"json", `{"reply":"Sure","action":"escalate"}`, "Sure", domain.ActionEscalate},
		{"fenced json", "```json\n{\"reply\":\"Ok\",\"action\":\"NO_ACTION\"}\n```", "Ok", domain.ActionNoAction},
		{"json without reply", `{"action":"ban_user"}`, `{"action":"ban_user"}`, ""},
		{"broken json", `{"reply":`, `{"reply":`, ""},
	}
	for _, tc := range cases {
		got := parseAssistantReply(tc.raw)
		if got.Reply != tc.reply || got.Action != tc.action {
			t.Errorf("%s: got %+v", tc.name, got)
		}
	}
}

func TestNormalizeMessageType(t *testing.T) {
	t.Parallel()
	if _, err := normalizeMessageType(dto.SendMessageRequest{Content: "  "}); err == nil {
		t.Error("blank text accepted")
	}
	if _, err := normalizeMessageType(dto.SendMessageRequest{Content: "x", MessageType: domain.MessageTypeSystem}); err == nil {
		t.Error("system type accepted from a client")
	}
	if got, err := normalizeMessageType(dto.SendMessageRequest{ImageURL: "/api/images/1"}); err != nil || got != domain.MessageTypeImage {
		t.Errorf("image inferred as %q, %v", got, err)
	}
}
