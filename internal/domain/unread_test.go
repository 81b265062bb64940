package domain

import "testing"

func TestUnreadLedgerIncrementZeroesSender(t *testing.T) {
	t.Parallel()

	var l UnreadLedger
	l.Increment("alice", []string{"alice", "bob", "carol"})
	l.Increment("bob", []string{"alice", "bob", "carol"})

	if got := l.Count("bob"); got != 0 {
		t.Fatalf("sender entry = %d, want 0", got)
	}
	if got := l.Count("alice"); got != 1 {
		t.Fatalf("alice = %d, want 1", got)
	}
	if got := l.Count("carol"); got != 2 {
		t.Fatalf("carol = %d, want 2", got)
	}
}

func TestUnreadLedgerRecomputeMatchesRoster(t *testing.T) {
	t.Parallel()

	roster := map[string]Role{"s1": RoleSupport, "s2": RoleSupport, "a1": RoleAdmin}
	l := UnreadLedger{ByUser: map[string]int{"s1": 3, "s2": 1, "a1": 4, "gone": 7}}
	l.Recompute(roster)

	if l.Support != 4 {
		t.Fatalf("support = %d, want 4", l.Support)
	}
	if l.Admin != 4 {
		t.Fatalf("admin = %d, want 4", l.Admin)
	}
	if l.Total != 15 {
		t.Fatalf("total = %d, want 15", l.Total)
	}

	l.Remove("s1")
	l.Recompute(roster)
	if l.Support != 1 {
		t.Fatalf("support after remove = %d, want 1", l.Support)
	}
}

func TestUnreadLedgerMarkReadIdempotent(t *testing.T) {
	t.Parallel()

	l := UnreadLedger{ByUser: map[string]int{"s1": 2}}
	l.MarkRead("s1")
	first := l.Snapshot()
	l.MarkRead("s1")

	if l.Count("s1") != 0 || first.Count("s1") != 0 {
		t.Fatalf("expected zero after mark read")
	}
	if len(l.ByUser) != len(first.ByUser) {
		t.Fatalf("second mark read changed the map")
	}
}

func TestUnreadLedgerMarkReadSkipsAbsentPrincipal(t *testing.T) {
	t.Parallel()

	l := UnreadLedger{ByUser: map[string]int{"s1": 2}}
	l.MarkRead("never-seen")
	if _, ok := l.ByUser["never-seen"]; ok {
		t.Fatalf("mark read added an entry for an absent principal")
	}
	if len(l.ByUser) != 1 || l.Count("s1") != 2 {
		t.Fatalf("unexpected map %v", l.ByUser)
	}

	var empty UnreadLedger
	empty.MarkRead("s1")
	if empty.ByUser != nil {
		t.Fatalf("mark read on an empty ledger allocated a map")
	}
}

func TestSnapshotIsIndependent(t *testing.T) {
	t.Parallel()

	l := UnreadLedger{ByUser: map[string]int{"s1": 1}}
	snap := l.Snapshot()
	l.Increment("x", []string{"s1"})

	if snap.Count("s1") != 1 {
		t.Fatalf("snapshot mutated: %d", snap.Count("s1"))
	}
}

func TestConversationTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to ConversationStatus
		want     bool
	}{
		{ConversationActive, ConversationClosed, true},
		{ConversationActive, ConversationArchived, true},
		{ConversationClosed, ConversationActive, true},
		{ConversationActive, ConversationActive, true},
		{ConversationArchived, ConversationActive, false},
		{ConversationArchived, ConversationClosed, false},
	}
	for _, tc := range cases {
		if got := CanTransitionConversation(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestMessageAuthorship(t *testing.T) {
	t.Parallel()

	user := Message{SenderID: "u1", SenderRole: RoleUser, Type: MessageTypeText}
	ai := Message{SenderID: AssistantSenderID, IsFromAI: true, Type: MessageTypeText}
	system := Message{SenderID: SystemSenderID, Type: MessageTypeSystem}
	op := Message{SenderID: "s1", SenderRole: RoleSupport, Type: MessageTypeText}

	if !user.IsFromEndUser() || user.IsFromOperator() {
		t.Fatalf("user message misclassified")
	}
	if ai.IsFromEndUser() || system.IsFromEndUser() {
		t.Fatalf("automated message classified as end user")
	}
	if !op.IsFromOperator() || op.IsFromEndUser() {
		t.Fatalf("operator message misclassified")
	}
}
