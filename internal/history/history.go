// Package history defines the clipboard history data model: entries, their
// payload representations, expiry policies, and the Store that arbitrates
// id allocation and index-based addressing on top of a storage Backend.
package history

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultGroup is the group entries land in when no group is named.
const DefaultGroup = "default"

// GroupOf returns the effective group name, defaulting to DefaultGroup.
func GroupOf(s string) string {
	if s == "" {
		return DefaultGroup
	}
	return s
}

// Origin records how an entry entered the history.
type Origin string

const (
	// OriginDaemon marks entries created through an explicit copy command.
	OriginDaemon Origin = "daemon"
	// OriginForeign marks entries captured because another application
	// claimed the selection.
	OriginForeign Origin = "foreign"
)

// ExpiryKind selects an expiration policy.
type ExpiryKind string

const (
	ExpireNever   ExpiryKind = "never"
	ExpireAfter   ExpiryKind = "after"
	ExpireSession ExpiryKind = "session"
)

// Expiry is an entry's expiration policy. TTL is only meaningful for
// ExpireAfter.
type Expiry struct {
	Kind ExpiryKind
	TTL  time.Duration
}

// Never is the zero-value policy spelled out.
var Never = Expiry{Kind: ExpireNever}

// ParseExpiry converts a policy string to an Expiry. Accepted forms:
// "never", "session", or a Go duration such as "90s" or "24h".
func ParseExpiry(s string) (Expiry, error) {
	switch strings.ToLower(s) {
	case "", "never":
		return Expiry{Kind: ExpireNever}, nil
	case "session", "logout":
		return Expiry{Kind: ExpireSession}, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return Expiry{}, fmt.Errorf("invalid expiry %q: %w", s, err)
	}
	if d <= 0 {
		return Expiry{}, fmt.Errorf("invalid expiry %q: duration must be positive", s)
	}
	return Expiry{Kind: ExpireAfter, TTL: d}, nil
}

func (e Expiry) String() string {
	if e.Kind == ExpireAfter {
		return e.TTL.String()
	}
	return string(e.Kind)
}

// Item is a single representation of an entry's payload: one MIME type and
// the raw bytes for it.
type Item struct {
	MIME string
	Data []byte
}

// Entry is a single clipboard snapshot. Content is immutable once captured;
// entries are only ever removed, never mutated in place.
type Entry struct {
	ID        uint64
	Group     string
	Items     []Item
	CreatedAt time.Time
	Expiry    Expiry
	Origin    Origin
}

// Ref is a non-owning lookup key for an entry. The entry it names may be
// deleted or evicted at any time; holders must re-resolve before use.
type Ref struct {
	Group string
	ID    uint64
}

func (r Ref) String() string { return fmt.Sprintf("%s/%d", r.Group, r.ID) }

// Ref returns the lookup key for the entry.
func (e Entry) Ref() Ref { return Ref{Group: e.Group, ID: e.ID} }

// Text returns the first text/plain representation, if any.
func (e Entry) Text() ([]byte, bool) {
	for _, it := range e.Items {
		if it.MIME == "text/plain" {
			return it.Data, true
		}
	}
	return nil, false
}

// MIMEs lists the MIME types offered by the entry, in payload order.
func (e Entry) MIMEs() []string {
	out := make([]string, len(e.Items))
	for i, it := range e.Items {
		out[i] = it.MIME
	}
	return out
}

// SameContent reports whether items carries byte-identical representations
// to the entry's payload, in the same order.
func (e Entry) SameContent(items []Item) bool {
	if len(items) != len(e.Items) {
		return false
	}
	for i, it := range items {
		if it.MIME != e.Items[i].MIME || !bytes.Equal(it.Data, e.Items[i].Data) {
			return false
		}
	}
	return true
}

// Empty reports whether the entry carries no content at all.
func (e Entry) Empty() bool {
	for _, it := range e.Items {
		if len(it.Data) > 0 {
			return false
		}
	}
	return true
}

// Preview renders a short human-readable summary of the entry's content:
// whitespace-collapsed text truncated to max runes, or a type+size tag for
// binary payloads.
func (e Entry) Preview(max int) string {
	if max <= 0 {
		max = 100
	}
	var s string
	if text, ok := e.Text(); ok {
		s = strings.Join(strings.Fields(string(text)), " ")
	} else if len(e.Items) > 0 {
		it := e.Items[0]
		s = fmt.Sprintf("binary %s (%d bytes)", it.MIME, len(it.Data))
	}
	if runes := []rune(s); len(runes) > max {
		s = string(runes[:max-1]) + "…"
	}
	return s
}

// GroupInfo describes a populated group.
type GroupInfo struct {
	Name         string
	Entries      int
	LastActivity time.Time
}

// ErrNotFound is returned when an index, id, or group does not resolve to
// an entry. It is always recoverable: the engine turns it into a client
// response, never a daemon failure.
var ErrNotFound = errors.New("entry not found")

// Backend is the storage capability the Store is built on. Implementations
// must keep per-group id uniqueness, return lists most-recent (highest id)
// first, and enforce their configured per-group capacity on Put by evicting
// the lowest ids, reporting them in evicted.
//
// The durable implementation guarantees a successful Put survives process
// restart; the volatile one guarantees nothing across restart.
type Backend interface {
	Put(group string, e Entry) (evicted []uint64, err error)
	Get(group string, id uint64) (Entry, bool, error)
	List(group string) ([]Entry, error)
	Remove(group string, id uint64) (bool, error)
	Groups() ([]GroupInfo, error)
	// Flush persists any buffered state. A no-op for volatile backends.
	Flush() error
	Close() error
}
