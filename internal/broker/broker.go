// Package broker owns the live interaction with the clipboard capability.
// It is a three-state machine: Idle (the daemon owns nothing), Owning (the
// daemon advertises a history entry as the selection), Foreign (another
// application owns the selection).
//
// Transitions depend jointly on client commands and external ownership
// notifications, so every method is called only from the command engine's
// serialized path; the broker itself takes no locks.
package broker

import (
	"context"
	"fmt"
	"log/slog"

	"go.klb.dev/clipd/internal/clip"
	"go.klb.dev/clipd/internal/history"
)

// State enumerates the broker's ownership states.
type State int

const (
	// Idle: the daemon owns nothing.
	Idle State = iota
	// Owning: the daemon is the advertised selection owner for the active
	// entry.
	Owning
	// Foreign: another application owns the selection.
	Foreign
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Owning:
		return "owning"
	case Foreign:
		return "foreign"
	}
	return "unknown"
}

// Broker arbitrates ownership of the selection. The active entry is held as
// a non-owning (group, id) key, never a pointer: the entry may be deleted or
// evicted independently and is re-resolved from the history store by the
// engine before use.
type Broker struct {
	sel    clip.Selection
	state  State
	active history.Ref
}

// New returns an Idle broker over sel.
func New(sel clip.Selection) *Broker {
	return &Broker{sel: sel}
}

// State returns the current ownership state.
func (b *Broker) State() State { return b.state }

// Active returns the active entry's key when the broker is Owning.
func (b *Broker) Active() (history.Ref, bool) {
	if b.state != Owning {
		return history.Ref{}, false
	}
	return b.active, true
}

// Changes surfaces the capability's foreign-ownership notifications so the
// engine can funnel them through its queue.
func (b *Broker) Changes() <-chan struct{} { return b.sel.Changes() }

// Activate claims the selection for e, advertising all of its
// representations. On success the broker is Owning(e). On failure the
// broker drops to Idle — it no longer knows who owns the selection — and
// the claim error is reported so the caller can degrade gracefully.
func (b *Broker) Activate(e history.Entry) error {
	if err := b.sel.Claim(e.Items); err != nil {
		b.state = Idle
		b.active = history.Ref{}
		return fmt.Errorf("claim selection: %w", err)
	}
	b.state = Owning
	b.active = e.Ref()
	return nil
}

// ForeignTaken records that another application claimed the selection.
func (b *Broker) ForeignTaken() {
	if b.state == Owning {
		slog.Debug("selection taken by foreign owner", "was_active", b.active)
	}
	b.state = Foreign
	b.active = history.Ref{}
}

// CaptureForeign reads the foreign owner's content. The caller bounds the
// read with ctx; on failure the broker stays Foreign with no active entry.
func (b *Broker) CaptureForeign(ctx context.Context) ([]history.Item, error) {
	return b.sel.ReadCurrent(ctx)
}

// Deactivate releases ownership if ref is the active entry, reporting
// whether a release happened. Used by delete and eviction so the display
// server never serves a dead entry.
func (b *Broker) Deactivate(ref history.Ref) bool {
	if b.state != Owning || b.active != ref {
		return false
	}
	if err := b.sel.Release(); err != nil {
		slog.Warn("selection release failed", "err", err)
	}
	b.state = Idle
	b.active = history.Ref{}
	return true
}

// Release unconditionally gives up ownership. Called on shutdown; a failure
// is logged and shutdown proceeds regardless.
func (b *Broker) Release() {
	if b.state == Owning {
		if err := b.sel.Release(); err != nil {
			slog.Warn("selection release failed during shutdown", "err", err)
		}
	}
	b.state = Idle
	b.active = history.Ref{}
}
