package realtime

import (
	"encoding/json"
	"testing"

	"github.com/spec-kit/livechat-service/internal/domain"
)

func drain(t *testing.T, c *Conn) []Frame {
	t.Helper()
	var frames []Frame
	for {
		select {
		case raw, ok := <-c.Outbound():
			if !ok {
				return frames
			}
			var f Frame
			if err := json.Unmarshal(raw, &f); err != nil {
				t.Fatalf("decode frame: %v", err)
			}
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestHubRoomDeliveryAndExcept(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil, nil)
	a := hub.Register(domain.Principal{ExternalID: "s1", Role: domain.RoleSupport})
	b := hub.Register(domain.Principal{ExternalID: "s2", Role: domain.RoleSupport})
	a.JoinRoom(SupportRoom)
	b.JoinRoom(SupportRoom)

	hub.ToRoomExcept(SupportRoom, a.ID(), EventTypingBroadcast, map[string]bool{"isTyping": true})

	if got := len(drain(t, a)); got != 0 {
		t.Fatalf("excluded connection got %d frames", got)
	}
	frames := drain(t, b)
	if len(frames) != 1 || frames[0].Event != EventTypingBroadcast {
		t.Fatalf("unexpected frames: %+v", frames)
	}
}

func TestBindConversationSwitchesRooms(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil, nil)
	c := hub.Register(domain.Principal{ExternalID: "u1", Role: domain.RoleUser})
	c.BindConversation("c1")
	c.BindConversation("c2")

	if c.InRoom(ConversationRoom("c1")) {
		t.Fatalf("still in old conversation room")
	}
	if !c.InRoom(ConversationRoom("c2")) || c.ConversationID() != "c2" {
		t.Fatalf("not bound to new conversation")
	}
	if hub.RoomSize(ConversationRoom("c1")) != 0 {
		t.Fatalf("old room not cleaned up")
	}
}

func TestPresenceFollowsRegistry(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil, nil)
	first := hub.Register(domain.Principal{ExternalID: "u1"})
	second := hub.Register(domain.Principal{ExternalID: "u1"})
	second.SetViewing("c1", "t1")

	if !hub.IsOnline("u1") || !hub.IsViewing("u1", "c1") {
		t.Fatalf("expected online and viewing")
	}
	if hub.IsViewing("u1", "c2") {
		t.Fatalf("viewing wrong conversation")
	}

	if last := hub.Unregister(second); last {
		t.Fatalf("first connection still alive")
	}
	if hub.IsViewing("u1", "c1") {
		t.Fatalf("viewing state survived disconnect")
	}
	if last := hub.Unregister(first); !last {
		t.Fatalf("expected last connection")
	}
	if hub.IsOnline("u1") {
		t.Fatalf("offline principal reported online")
	}
	if hub.Unregister(first) {
		t.Fatalf("double unregister must be a no-op")
	}
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()

	hub := NewHub(1, nil, nil)
	c := hub.Register(domain.Principal{ExternalID: "u1"})
	c.JoinRoom(ConversationRoom("c1"))

	hub.ToRoom(ConversationRoom("c1"), EventMessageNew, map[string]string{"n": "1"})
	hub.ToRoom(ConversationRoom("c1"), EventMessageNew, map[string]string{"n": "2"})

	if got := len(drain(t, c)); got != 1 {
		t.Fatalf("buffered %d frames, want 1", got)
	}
}

func TestEmitAfterUnregisterIsSafe(t *testing.T) {
	t.Parallel()

	hub := NewHub(4, nil, nil)
	c := hub.Register(domain.Principal{ExternalID: "u1"})
	hub.Unregister(c)
	c.Emit(EventError, map[string]string{"message": "x"})
	hub.ToPrincipal("u1", EventError, nil)
}
