package history

import (
	"fmt"
	"time"
)

// Store wraps a Backend with id allocation and index-view addressing.
//
// Ids are allocated from a per-group counter seeded from the backend at
// startup, so a durable backend keeps prior ids intact across restarts.
// Indices are a view: index 0 is always the group's current head and higher
// indices walk toward older entries. The index→id mapping is recomputed from
// the live list on every call, so indices never go stale after deletes or
// expirations between calls.
//
// Store methods are not safe for concurrent use; the command engine is the
// single caller.
type Store struct {
	backend Backend
	nextID  map[string]uint64
}

// NewStore seeds id counters from the backend's current contents.
func NewStore(b Backend) (*Store, error) {
	s := &Store{backend: b, nextID: make(map[string]uint64)}
	groups, err := b.Groups()
	if err != nil {
		return nil, fmt.Errorf("seed id counters: %w", err)
	}
	for _, g := range groups {
		entries, err := b.List(g.Name)
		if err != nil {
			return nil, fmt.Errorf("seed group %q: %w", g.Name, err)
		}
		if len(entries) > 0 {
			s.nextID[g.Name] = entries[0].ID + 1
		}
	}
	return s, nil
}

func (s *Store) allocID(group string) uint64 {
	id := s.nextID[group]
	if id == 0 {
		id = 1
	}
	s.nextID[group] = id + 1
	return id
}

// Insert creates a new entry at the head of group. Any entries the backend
// evicted to stay within capacity are reported by id.
func (s *Store) Insert(group string, items []Item, origin Origin, exp Expiry) (Entry, []uint64, error) {
	group = GroupOf(group)
	e := Entry{
		ID:        s.allocID(group),
		Group:     group,
		Items:     items,
		CreatedAt: time.Now(),
		Expiry:    exp,
		Origin:    origin,
	}
	evicted, err := s.backend.Put(group, e)
	if err != nil {
		return Entry{}, nil, fmt.Errorf("storage put: %w", err)
	}
	return e, evicted, nil
}

// List returns the group's entries, head first.
func (s *Store) List(group string) ([]Entry, error) {
	return s.backend.List(GroupOf(group))
}

// At resolves an index against the group's current ordering. Index 0 is the
// head; ErrNotFound if the index exceeds the list.
func (s *Store) At(group string, index int) (Entry, error) {
	entries, err := s.backend.List(GroupOf(group))
	if err != nil {
		return Entry{}, fmt.Errorf("storage list: %w", err)
	}
	if index < 0 || index >= len(entries) {
		return Entry{}, ErrNotFound
	}
	return entries[index], nil
}

// Head returns the group's most recent entry, if the group is non-empty.
func (s *Store) Head(group string) (Entry, bool, error) {
	e, err := s.At(group, 0)
	if err == ErrNotFound {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// DeleteAt removes the entry at index and returns it.
func (s *Store) DeleteAt(group string, index int) (Entry, error) {
	e, err := s.At(group, index)
	if err != nil {
		return Entry{}, err
	}
	if _, err := s.backend.Remove(e.Group, e.ID); err != nil {
		return Entry{}, fmt.Errorf("storage remove: %w", err)
	}
	return e, nil
}

// Remove deletes by stable ref, reporting whether the entry existed. Used by
// the expiration path, which names entries by id rather than index.
func (s *Store) Remove(ref Ref) (bool, error) {
	return s.backend.Remove(ref.Group, ref.ID)
}

// Clear removes every entry in group, returning the removed refs.
func (s *Store) Clear(group string) ([]Ref, error) {
	entries, err := s.backend.List(GroupOf(group))
	if err != nil {
		return nil, fmt.Errorf("storage list: %w", err)
	}
	refs := make([]Ref, 0, len(entries))
	for _, e := range entries {
		if _, err := s.backend.Remove(e.Group, e.ID); err != nil {
			return refs, fmt.Errorf("storage remove: %w", err)
		}
		refs = append(refs, e.Ref())
	}
	return refs, nil
}

// Groups lists populated groups with their recency. Group existence is
// derived from stored entries, never tracked separately.
func (s *Store) Groups() ([]GroupInfo, error) {
	return s.backend.Groups()
}

// Flush persists buffered backend state.
func (s *Store) Flush() error { return s.backend.Flush() }
