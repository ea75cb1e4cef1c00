package store

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps window state in process memory, serializing each key
// behind its own mutex. It is the single-instance deployment backend and the
// reference implementation the redis script is held to in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	windows map[string]*window
}

type window struct {
	mu      sync.Mutex
	gone    bool
	entries []int64 // unix milliseconds, ascending
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
	}
}

// lockWindow returns the window for key with its mutex held, creating it on
// first use. Windows removed by Sweep or Reset are marked gone so a caller
// holding a stale pointer retries instead of writing into an orphan.
func (m *MemoryStore) lockWindow(key string) *window {
	for {
		m.mu.RLock()
		w := m.windows[key]
		m.mu.RUnlock()

		if w == nil {
			m.mu.Lock()
			w = m.windows[key]
			if w == nil {
				w = &window{}
				m.windows[key] = w
			}
			m.mu.Unlock()
		}

		w.mu.Lock()
		if !w.gone {
			return w
		}
		w.mu.Unlock()
	}
}

func (m *MemoryStore) Acquire(
	_ context.Context,
	key string,
	now time.Time,
	windowSize time.Duration,
	max int64,
) (AcquireResult, error) {
	nowMs := now.UnixMilli()
	cutoff := nowMs - windowSize.Milliseconds()

	w := m.lockWindow(key)
	defer w.mu.Unlock()

	w.prune(cutoff)
	count := int64(len(w.entries))

	if max > 0 && count < max {
		w.entries = append(w.entries, nowMs)
		return AcquireResult{
			Allowed: true,
			Count:   count + 1,
			Oldest:  fromUnixMilli(w.entries[0]),
		}, nil
	}

	res := AcquireResult{Count: count}
	if count > 0 {
		res.Oldest = fromUnixMilli(w.entries[0])
	}
	return res, nil
}

func (m *MemoryStore) Usage(
	_ context.Context,
	key string,
	now time.Time,
	windowSize time.Duration,
) (Usage, error) {
	cutoff := now.UnixMilli() - windowSize.Milliseconds()

	m.mu.RLock()
	w := m.windows[key]
	m.mu.RUnlock()
	if w == nil {
		return Usage{}, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var usage Usage
	for _, e := range w.entries {
		if e < cutoff {
			continue
		}
		if usage.Count == 0 {
			usage.Oldest = fromUnixMilli(e)
		}
		usage.Count++
	}
	return usage, nil
}

func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w := m.windows[key]; w != nil {
		w.mu.Lock()
		w.gone = true
		w.mu.Unlock()
		delete(m.windows, key)
	}
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, pattern string, olderThan time.Time) (int64, error) {
	cutoff := olderThan.UnixMilli()

	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for key, w := range m.windows {
		if ok, _ := path.Match(pattern, key); !ok {
			continue
		}
		w.mu.Lock()
		w.prune(cutoff)
		if len(w.entries) == 0 {
			w.gone = true
			delete(m.windows, key)
			removed++
		}
		w.mu.Unlock()
	}
	return removed, nil
}

// prune drops entries strictly older than cutoff. Entries are appended in
// clock order, so the slice stays sorted.
func (w *window) prune(cutoff int64) {
	i := sort.Search(len(w.entries), func(i int) bool {
		return w.entries[i] >= cutoff
	})
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}
