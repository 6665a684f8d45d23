//go:build linux || darwin || windows

package clip

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.design/x/clipboard"
)

const pollInterval = 250 * time.Millisecond

// system drives the real clipboard through golang.design/x/clipboard.
// Foreign-claim detection is a poll-and-compare loop over pollState, which
// keeps Claim's write and its record atomic with respect to the poll.
type system struct {
	changes chan struct{}
	done    chan struct{}
	state   pollState
}

// New returns the platform clipboard, or a headless no-op capability if the
// display environment is unavailable (e.g. a server without X11 or Wayland).
// clipboard.Init is called here rather than in init() so that client
// sub-commands never touch the display.
func New() Selection {
	if err := clipboard.Init(); err != nil {
		slog.Warn("clipboard unavailable, running headless", "err", err)
		return newHeadless()
	}
	s := &system{
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go s.poll()
	return s
}

func (s *system) Name() string { return "system clipboard (poll)" }

func (s *system) poll() {
	t := time.NewTicker(pollInterval)
	defer t.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-t.C:
			changed := s.state.check(func() ([]byte, []byte) {
				return clipboard.Read(clipboard.FmtText), clipboard.Read(clipboard.FmtImage)
			})
			if changed {
				select {
				case s.changes <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (s *system) Claim(items []Item) error {
	var text, img []byte
	for _, it := range items {
		switch it.MIME {
		case "text/plain":
			text = it.Data
		case "image/png":
			img = it.Data
		default:
			return fmt.Errorf("unsupported MIME type: %s", it.MIME)
		}
	}
	s.state.write(func() {
		if text != nil {
			clipboard.Write(clipboard.FmtText, text)
		}
		if img != nil {
			clipboard.Write(clipboard.FmtImage, img)
		}
	}, text, img)
	return nil
}

// ReadCurrent runs the reads in a goroutine so a stalled offering
// application cannot wedge the caller past its deadline.
func (s *system) ReadCurrent(ctx context.Context) ([]Item, error) {
	type result struct {
		items []Item
	}
	ch := make(chan result, 1)
	go func() {
		var items []Item
		if text := clipboard.Read(clipboard.FmtText); len(text) > 0 {
			items = append(items, Item{MIME: "text/plain", Data: text})
		}
		if img := clipboard.Read(clipboard.FmtImage); len(img) > 0 {
			items = append(items, Item{MIME: "image/png", Data: img})
		}
		ch <- result{items}
	}()
	select {
	case <-ctx.Done():
		return nil, ErrUnavailable
	case r := <-ch:
		if len(r.items) == 0 {
			return nil, ErrUnavailable
		}
		return r.items, nil
	}
}

// Release clears the selection. The underlying library has no unown call;
// writing an empty payload is the closest the protocol offers and leaves no
// dead owner behind.
func (s *system) Release() error {
	s.state.write(func() {
		clipboard.Write(clipboard.FmtText, nil)
	}, nil, nil)
	return nil
}

func (s *system) Changes() <-chan struct{} { return s.changes }

func (s *system) Close() { close(s.done) }
