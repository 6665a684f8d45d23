// Package storage provides the two history.Backend implementations: a
// volatile in-process map and a durable sqlite database. Both enforce the
// same per-group capacity contract so behavioral tests run against either
// unmodified.
package storage

import (
	"sort"
	"sync"
	"time"

	"go.klb.dev/clipd/internal/history"
)

// Memory is the volatile backend. Nothing survives process restart.
type Memory struct {
	mu     sync.Mutex
	max    int // per-group capacity, 0 = unlimited
	groups map[string][]history.Entry // ascending id order
}

// NewMemory returns an empty volatile backend. maxEntries caps each group;
// 0 disables the cap.
func NewMemory(maxEntries int) *Memory {
	return &Memory{max: maxEntries, groups: make(map[string][]history.Entry)}
}

func (m *Memory) Put(group string, e history.Entry) ([]uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.groups[group], e)
	var evicted []uint64
	if m.max > 0 {
		for len(list) > m.max {
			evicted = append(evicted, list[0].ID)
			list = list[1:]
		}
	}
	m.groups[group] = list
	return evicted, nil
}

func (m *Memory) Get(group string, id uint64) (history.Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.groups[group] {
		if e.ID == id {
			return e, true, nil
		}
	}
	return history.Entry{}, false, nil
}

func (m *Memory) List(group string) ([]history.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.groups[group]
	out := make([]history.Entry, len(list))
	for i, e := range list {
		out[len(list)-1-i] = e
	}
	return out, nil
}

func (m *Memory) Remove(group string, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.groups[group]
	for i, e := range list {
		if e.ID == id {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(m.groups, group) // group existence is derived
			} else {
				m.groups[group] = list
			}
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Groups() ([]history.GroupInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]history.GroupInfo, 0, len(m.groups))
	for name, list := range m.groups {
		var last time.Time
		for _, e := range list {
			if e.CreatedAt.After(last) {
				last = e.CreatedAt
			}
		}
		out = append(out, history.GroupInfo{Name: name, Entries: len(list), LastActivity: last})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivity.After(out[j].LastActivity) })
	return out, nil
}

func (m *Memory) Flush() error { return nil }
func (m *Memory) Close() error { return nil }
