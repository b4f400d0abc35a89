package audit

import (
	"sync"
	"time"
)

// MemoryLog keeps entries in memory. Setting Fail makes every Append return
// that error without recording anything.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
	session string

	Fail error
}

func NewMemoryLog(session string) *MemoryLog {
	return &MemoryLog{session: session}
}

func (m *MemoryLog) Append(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return m.Fail
	}
	stamp(&e, m.session, time.Now)
	m.entries = append(m.entries, e)
	return nil
}

func (m *MemoryLog) SetFail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail = err
}

// Entries returns a copy of everything appended so far.
func (m *MemoryLog) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Filter returns the entries with the given action.
func (m *MemoryLog) Filter(a Action) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

// ForOrder returns the entries for one order in append order.
func (m *MemoryLog) ForOrder(orderID string) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

type discard struct{}

func (discard) Append(Entry) error { return nil }

// Discard accepts and drops every entry.
var Discard Log = discard{}
