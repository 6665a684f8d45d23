package storage_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"go.klb.dev/clipd/internal/history"
	"go.klb.dev/clipd/internal/storage"
)

// The contract tests run against both implementations so the volatile and
// durable backends stay behaviorally interchangeable.
func backends(maxEntries int) map[string]func(t *testing.T) history.Backend {
	return map[string]func(t *testing.T) history.Backend{
		"memory": func(t *testing.T) history.Backend {
			return storage.NewMemory(maxEntries)
		},
		"sqlite": func(t *testing.T) history.Backend {
			b, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "history.db"), maxEntries)
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { b.Close() })
			return b
		},
	}
}

func textEntry(group string, id uint64, text string) history.Entry {
	return history.Entry{
		ID:        id,
		Group:     group,
		Items:     []history.Item{{MIME: "text/plain", Data: []byte(text)}},
		CreatedAt: time.Now().Add(time.Duration(id) * time.Millisecond),
		Expiry:    history.Never,
		Origin:    history.OriginDaemon,
	}
}

func TestBackendPutGetList(t *testing.T) {
	for name, open := range backends(0) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			for i := uint64(1); i <= 3; i++ {
				if _, err := b.Put("default", textEntry("default", i, fmt.Sprintf("entry %d", i))); err != nil {
					t.Fatalf("put %d: %v", i, err)
				}
			}

			got, ok, err := b.Get("default", 2)
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if string(got.Items[0].Data) != "entry 2" {
				t.Fatalf("get returned %q", got.Items[0].Data)
			}

			list, err := b.List("default")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 3 {
				t.Fatalf("list returned %d entries", len(list))
			}
			for i, want := range []uint64{3, 2, 1} {
				if list[i].ID != want {
					t.Fatalf("list[%d].ID = %d, want %d (most-recent first)", i, list[i].ID, want)
				}
			}

			if _, ok, _ := b.Get("default", 99); ok {
				t.Fatal("get of missing id reported ok")
			}
			if _, ok, _ := b.Get("nope", 1); ok {
				t.Fatal("get in missing group reported ok")
			}
		})
	}
}

func TestBackendRemoveDerivesGroups(t *testing.T) {
	for name, open := range backends(0) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			_, _ = b.Put("work", textEntry("work", 1, "a"))
			_, _ = b.Put("work", textEntry("work", 2, "b"))

			removed, err := b.Remove("work", 1)
			if err != nil || !removed {
				t.Fatalf("remove: removed=%v err=%v", removed, err)
			}
			if removed, _ := b.Remove("work", 1); removed {
				t.Fatal("second remove of same id reported true")
			}

			groups, err := b.Groups()
			if err != nil {
				t.Fatalf("groups: %v", err)
			}
			if len(groups) != 1 || groups[0].Name != "work" || groups[0].Entries != 1 {
				t.Fatalf("groups = %+v", groups)
			}

			// Group existence is derived: removing the last entry removes
			// the group.
			if _, err := b.Remove("work", 2); err != nil {
				t.Fatalf("remove: %v", err)
			}
			groups, _ = b.Groups()
			if len(groups) != 0 {
				t.Fatalf("expected no groups, got %+v", groups)
			}
		})
	}
}

func TestBackendCapacityEviction(t *testing.T) {
	for name, open := range backends(2) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			_, _ = b.Put("default", textEntry("default", 1, "oldest"))
			_, _ = b.Put("default", textEntry("default", 2, "middle"))
			evicted, err := b.Put("default", textEntry("default", 3, "newest"))
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if len(evicted) != 1 || evicted[0] != 1 {
				t.Fatalf("evicted = %v, want exactly the oldest id", evicted)
			}

			list, _ := b.List("default")
			if len(list) != 2 || list[0].ID != 3 || list[1].ID != 2 {
				t.Fatalf("post-eviction list = %+v", list)
			}

			// Capacity is per group.
			if evicted, _ := b.Put("other", textEntry("other", 1, "x")); len(evicted) != 0 {
				t.Fatalf("unexpected eviction in fresh group: %v", evicted)
			}
		})
	}
}

func TestBackendBinaryPayload(t *testing.T) {
	payload := make([]byte, 1<<16)
	for i := range payload {
		payload[i] = byte(i)
	}
	for name, open := range backends(0) {
		t.Run(name, func(t *testing.T) {
			b := open(t)
			e := history.Entry{
				ID:        1,
				Group:     "default",
				Items:     []history.Item{{MIME: "image/png", Data: payload}, {MIME: "text/plain", Data: []byte("alt")}},
				CreatedAt: time.Now(),
				Expiry:    history.Expiry{Kind: history.ExpireAfter, TTL: time.Hour},
				Origin:    history.OriginForeign,
			}
			if _, err := b.Put("default", e); err != nil {
				t.Fatalf("put: %v", err)
			}
			got, ok, err := b.Get("default", 1)
			if err != nil || !ok {
				t.Fatalf("get: ok=%v err=%v", ok, err)
			}
			if len(got.Items) != 2 || got.Items[0].MIME != "image/png" {
				t.Fatalf("items = %+v", got.Items)
			}
			if len(got.Items[0].Data) != len(payload) {
				t.Fatalf("payload truncated: %d bytes", len(got.Items[0].Data))
			}
			if got.Origin != history.OriginForeign || got.Expiry.TTL != time.Hour {
				t.Fatalf("metadata lost: %+v", got)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	b, err := storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := uint64(1); i <= 3; i++ {
		if _, err := b.Put("default", textEntry("default", i, fmt.Sprintf("entry %d", i))); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err = storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()

	list, err := b.List("default")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("after reopen list has %d entries", len(list))
	}
	for i, want := range []uint64{3, 2, 1} {
		if list[i].ID != want {
			t.Fatalf("after reopen list[%d].ID = %d, want %d", i, list[i].ID, want)
		}
	}
	if string(list[0].Items[0].Data) != "entry 3" {
		t.Fatalf("after reopen head payload = %q", list[0].Items[0].Data)
	}
}
