package optimize

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultMemoSize = 1000
	DefaultMemoTTL  = time.Hour
)

type memoEntry struct {
	text      string
	optimized string
	storedAt  time.Time
}

// memo is a bounded LRU of rewrites. Entries older than ttl are dropped on
// read.
type memo struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	now   func() time.Time
	order *list.List
	items map[string]*list.Element
}

func newMemo(size int, ttl time.Duration, now func() time.Time) *memo {
	return &memo{
		size:  size,
		ttl:   ttl,
		now:   now,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

func (m *memo) get(text string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[text]
	if !ok {
		return "", false
	}
	e := el.Value.(*memoEntry)
	if m.now().Sub(e.storedAt) > m.ttl {
		m.order.Remove(el)
		delete(m.items, text)
		return "", false
	}
	m.order.MoveToFront(el)
	return e.optimized, true
}

func (m *memo) put(text, optimized string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[text]; ok {
		e := el.Value.(*memoEntry)
		e.optimized = optimized
		e.storedAt = m.now()
		m.order.MoveToFront(el)
		return
	}

	for m.order.Len() >= m.size {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*memoEntry).text)
	}
	m.items[text] = m.order.PushFront(&memoEntry{text: text, optimized: optimized, storedAt: m.now()})
}

func (m *memo) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
