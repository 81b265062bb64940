package domain

// UnreadLedger is the per-principal unread map of a ticket or room together
// with the totals derived from it. The map is the source of truth; the totals
// are recomputed on every mutation and never edited directly.
type UnreadLedger struct {
	ByUser  map[string]int
	Support int
	Admin   int
	Total   int
}

// Increment bumps every recipient except the sender and zeroes the sender.
func (l *UnreadLedger) Increment(sender string, recipients []string) {
	l.ensure()
	for _, id := range recipients {
		if id == "" || id == sender {
			continue
		}
		l.ByUser[id]++
	}
	if sender != "" {
		l.ByUser[sender] = 0
	}
}

// MarkRead zeroes the principal's entry. A principal without an entry has
// nothing unread and gets none.
func (l *UnreadLedger) MarkRead(principalID string) {
	if _, ok := l.ByUser[principalID]; !ok {
		return
	}
	l.ByUser[principalID] = 0
}

// Remove drops the principal's entry entirely.
func (l *UnreadLedger) Remove(principalID string) {
	l.ensure()
	delete(l.ByUser, principalID)
}

// Recompute derives the role totals from the map using the given roster of
// operator roles. Entries for principals missing from the roster only count
// towards Total.
func (l *UnreadLedger) Recompute(roster map[string]Role) {
	l.ensure()
	l.Support, l.Admin, l.Total = 0, 0, 0
	for id, count := range l.ByUser {
		if count < 0 {
			count = 0
			l.ByUser[id] = 0
		}
		l.Total += count
		switch roster[id] {
		case RoleSupport:
			l.Support += count
		case RoleAdmin:
			l.Admin += count
		}
	}
}

// Count returns the principal's unread count.
func (l *UnreadLedger) Count(principalID string) int {
	if l.ByUser == nil {
		return 0
	}
	return l.ByUser[principalID]
}

// Snapshot returns a copy safe to hand to other goroutines.
func (l UnreadLedger) Snapshot() UnreadLedger {
	out := l
	out.ByUser = make(map[string]int, len(l.ByUser))
	for k, v := range l.ByUser {
		out.ByUser[k] = v
	}
	return out
}

func (l *UnreadLedger) ensure() {
	if l.ByUser == nil {
		l.ByUser = make(map[string]int)
	}
}
