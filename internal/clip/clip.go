// Package clip provides the external clipboard capability the selection
// broker drives: claim ownership of the selection, read a foreign owner's
// content, release ownership, and get notified when another process takes
// the selection. Build constraints select the implementation:
//
//	clip_system.go — windowed platforms via golang.design/x/clipboard,
//	                 change detection by polling
//	clip_other.go  — stub for everything else
//
// A headless fallback is returned when the display environment is
// unavailable, so the daemon keeps serving history even without a live
// clipboard.
package clip

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"go.klb.dev/clipd/internal/history"
)

// Item aliases the history payload representation.
type Item = history.Item

// ErrUnavailable reports that the clipboard capability could not serve the
// operation: no display, no foreign content, or the foreign owner went away
// before the read completed. Never fatal to the daemon.
var ErrUnavailable = errors.New("clipboard unavailable")

// Selection is the capability interface over the windowing system's
// selection protocol.
type Selection interface {
	// Name returns a human-readable name for the implementation.
	Name() string

	// Claim takes ownership of the selection, advertising every
	// representation in items.
	Claim(items []Item) error

	// ReadCurrent reads the foreign owner's content. It may block on I/O
	// with the offering application; the caller bounds it with ctx. A
	// failed or timed-out read returns ErrUnavailable.
	ReadCurrent(ctx context.Context) ([]Item, error)

	// Release gives up ownership so the display server is not left waiting
	// on a dead owner.
	Release() error

	// Changes signals whenever another process claims the selection. The
	// channel is never closed. Claims made through this Selection do not
	// signal.
	Changes() <-chan struct{}

	// Close releases any resources held by the implementation.
	Close()
}

// pollState serializes clipboard writes against the change-detection poll.
// A write and the record of what was written happen under one lock, so a
// concurrent poll compares either the pre-write content against the
// pre-write record or the post-write content against the post-write record.
// Our own writes can therefore never register as foreign changes.
type pollState struct {
	mu       sync.Mutex
	lastText []byte
	lastImg  []byte
}

// write applies a clipboard write and records the written payload.
func (p *pollState) write(apply func(), text, img []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	apply()
	p.lastText, p.lastImg = text, img
}

// check reads the clipboard and reports whether its content changed since
// the last write or check.
func (p *pollState) check(read func() (text, img []byte)) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	text, img := read()
	if bytes.Equal(text, p.lastText) && bytes.Equal(img, p.lastImg) {
		return false
	}
	p.lastText, p.lastImg = text, img
	return true
}

// headless satisfies Selection with no-ops. Used when no display is
// available so history commands still work.
type headless struct {
	changes chan struct{}
}

func newHeadless() *headless { return &headless{changes: make(chan struct{})} }

func (h *headless) Name() string { return "headless (no display)" }

func (h *headless) Claim([]Item) error { return nil }

func (h *headless) ReadCurrent(context.Context) ([]Item, error) {
	return nil, ErrUnavailable
}

func (h *headless) Release() error { return nil }

func (h *headless) Changes() <-chan struct{} { return h.changes }

func (h *headless) Close() {}
