// Package engine implements the command engine: the single serialization
// point for every mutation of the history store and the selection broker.
//
// Client requests, foreign-ownership notifications, and expiration evictions
// are all funneled through one mailbox and handled one at a time, so
// operations that touch both the store and the broker appear atomic as a
// pair. There is no per-structure locking anywhere downstream.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.klb.dev/clipd/internal/broker"
	"go.klb.dev/clipd/internal/expiry"
	"go.klb.dev/clipd/internal/history"
	"go.klb.dev/clipd/internal/message"
)

// Config carries the engine's operating policy.
type Config struct {
	// DefaultExpiry applies when a copy names no policy, and to foreign
	// captures.
	DefaultExpiry history.Expiry
	// CaptureGroup is the group foreign entries land in ("" = default).
	CaptureGroup string
	// CaptureForeign enables ingestion of foreign selection owners.
	CaptureForeign bool
	// ReadTimeout bounds the foreign-selection read.
	ReadTimeout time.Duration
	// PreviewLength caps list previews, in runes.
	PreviewLength int
}

type envelope struct {
	req  *message.Request
	resp chan message.Response
}

// Engine applies decoded requests against the store and broker.
type Engine struct {
	store  *history.Store
	broker *broker.Broker
	sched  *expiry.Scheduler
	cfg    Config

	reqCh   chan envelope
	done    chan struct{}
	restart bool
}

// New assembles an engine. Run must be started before Do is called.
func New(store *history.Store, b *broker.Broker, sched *expiry.Scheduler, cfg Config) *Engine {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = 100
	}
	return &Engine{
		store:  store,
		broker: b,
		sched:  sched,
		cfg:    cfg,
		reqCh:  make(chan envelope),
		done:   make(chan struct{}),
	}
}

// Do submits one request and blocks for its response. Safe for concurrent
// use; each caller's requests are answered in submission order.
func (e *Engine) Do(req *message.Request) message.Response {
	env := envelope{req: req, resp: make(chan message.Response, 1)}
	select {
	case e.reqCh <- env:
	case <-e.done:
		return message.Errorf(message.CodeShuttingDown, "server shutting down")
	}
	select {
	case r := <-env.resp:
		return r
	case <-e.done:
		return message.Errorf(message.CodeShuttingDown, "server shutting down")
	}
}

// Done is closed once the engine has released the selection and flushed
// storage; no further requests are accepted.
func (e *Engine) Done() <-chan struct{} { return e.done }

// ShouldRestart reports whether the stop request asked for a restart.
// Valid after Done is closed.
func (e *Engine) ShouldRestart() bool { return e.restart }

// Run processes the mailbox until a stop request or ctx cancellation.
func (e *Engine) Run(ctx context.Context) {
	e.resume()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			close(e.done)
			return
		case env := <-e.reqCh:
			resp, stop := e.handle(env.req)
			env.resp <- resp
			if stop {
				close(e.done)
				return
			}
		case <-e.broker.Changes():
			e.handleForeign(ctx)
		case refs := <-e.sched.Evictions():
			e.handleEvictions(refs)
		}
	}
}

// resume re-registers the expiry policy of every stored entry. With a
// durable backend the scheduler starts empty while the store does not, so
// deadlines and session subscriptions must be rebuilt from the entries
// themselves. Entries whose deadline passed while the daemon was down are
// removed immediately.
func (e *Engine) resume() {
	groups, err := e.store.Groups()
	if err != nil {
		slog.Error("expiry resume failed", "err", err)
		return
	}
	now := time.Now()
	for _, g := range groups {
		entries, err := e.store.List(g.Name)
		if err != nil {
			slog.Error("expiry resume failed", "group", g.Name, "err", err)
			continue
		}
		for _, entry := range entries {
			if entry.Expiry.Kind == history.ExpireAfter && !entry.CreatedAt.Add(entry.Expiry.TTL).After(now) {
				if _, err := e.store.Remove(entry.Ref()); err != nil {
					slog.Error("eviction failed", "ref", entry.Ref(), "err", err)
				} else {
					slog.Info("entry expired while daemon was down", "ref", entry.Ref())
				}
				continue
			}
			e.sched.Track(entry)
		}
	}
}

func (e *Engine) handle(req *message.Request) (message.Response, bool) {
	switch req.Kind {
	case message.KindPing:
		return message.OK(), false
	case message.KindCopy:
		return e.handleCopy(req), false
	case message.KindPaste:
		return e.handlePaste(req), false
	case message.KindList:
		return e.handleList(req), false
	case message.KindDelete:
		return e.handleDelete(req), false
	case message.KindRecopy:
		return e.handleRecopy(req), false
	case message.KindGroups:
		return e.handleGroups(), false
	case message.KindStop:
		e.restart = req.Restart
		e.shutdown()
		slog.Info("daemon stopping", "restart", req.Restart, "source", req.Source)
		return message.OK(), true
	}
	return message.Errorf(message.CodeProtocolError, "unknown request kind %q", req.Kind), false
}

// shutdown releases selection ownership first so the display server is not
// left waiting on a dead owner, then flushes durable storage. Failures are
// logged; shutdown proceeds regardless.
func (e *Engine) shutdown() {
	e.broker.Release()
	if err := e.store.Flush(); err != nil {
		slog.Warn("storage flush failed during shutdown", "err", err)
	}
}

func (e *Engine) handleCopy(req *message.Request) message.Response {
	items, err := itemsFromWire(req.Items)
	if err != nil {
		return message.Errorf(message.CodeProtocolError, "copy payload: %v", err)
	}
	if len(items) == 0 {
		return message.Errorf(message.CodeProtocolError, "copy requires at least one item")
	}
	exp := e.cfg.DefaultExpiry
	if req.Expiry != "" {
		exp, err = history.ParseExpiry(req.Expiry)
		if err != nil {
			return message.Errorf(message.CodeProtocolError, "%v", err)
		}
	}
	if _, err := e.ingest(history.GroupOf(req.Group), items, history.OriginDaemon, exp); err != nil {
		return errResponse(err)
	}
	return message.OK()
}

// ingest inserts items as a new head entry and activates it. A payload
// byte-identical to the current head re-activates the head instead, so
// repeated copies never pile up duplicates. Capacity evictions reported by
// the backend go through the same deactivation path as deletes.
func (e *Engine) ingest(group string, items []history.Item, origin history.Origin, exp history.Expiry) (history.Entry, error) {
	head, ok, err := e.store.Head(group)
	if err != nil {
		return history.Entry{}, err
	}
	var entry history.Entry
	if ok && head.SameContent(items) {
		entry = head
	} else {
		var evicted []uint64
		entry, evicted, err = e.store.Insert(group, items, origin, exp)
		if err != nil {
			return history.Entry{}, err
		}
		for _, id := range evicted {
			ref := history.Ref{Group: group, ID: id}
			e.sched.Forget(ref)
			if e.broker.Deactivate(ref) {
				slog.Info("active entry evicted by capacity", "ref", ref)
			}
		}
		e.sched.Track(entry)
		logEntry("new entry", entry)
	}
	if err := e.broker.Activate(entry); err != nil {
		// The entry is recorded either way; live activation is best-effort.
		slog.Warn("selection activation failed", "ref", entry.Ref(), "err", err)
	}
	return entry, nil
}

func (e *Engine) handlePaste(req *message.Request) message.Response {
	entry, err := e.store.At(history.GroupOf(req.Group), indexOf(req))
	if err != nil {
		return errResponse(err)
	}
	resp := message.OK()
	resp.Items = itemsToWire(entry.Items)
	return resp
}

func (e *Engine) handleList(req *message.Request) message.Response {
	var names []string
	if req.Group == "" {
		groups, err := e.store.Groups()
		if err != nil {
			return errResponse(err)
		}
		for _, g := range groups {
			names = append(names, g.Name)
		}
	} else {
		names = []string{history.GroupOf(req.Group)}
	}

	active, owning := e.broker.Active()
	resp := message.OK()
	for _, name := range names {
		entries, err := e.store.List(name)
		if err != nil {
			return errResponse(err)
		}
		listing := message.GroupListing{Group: name, Entries: make([]message.Preview, len(entries))}
		for i, entry := range entries {
			listing.Entries[i] = message.Preview{
				Index:     i,
				ID:        entry.ID,
				Preview:   entry.Preview(e.cfg.PreviewLength),
				MIMEs:     entry.MIMEs(),
				CreatedAt: entry.CreatedAt,
				Origin:    string(entry.Origin),
				Expiry:    entry.Expiry.String(),
				Active:    owning && entry.Ref() == active,
			}
		}
		resp.Listings = append(resp.Listings, listing)
	}
	return resp
}

func (e *Engine) handleDelete(req *message.Request) message.Response {
	group := history.GroupOf(req.Group)
	if req.All {
		refs, err := e.store.Clear(group)
		if err != nil {
			return errResponse(err)
		}
		for _, ref := range refs {
			e.sched.Forget(ref)
			e.broker.Deactivate(ref)
		}
		slog.Info("group cleared", "group", group, "entries", len(refs))
		return message.OK()
	}
	entry, err := e.store.DeleteAt(group, indexOf(req))
	if err != nil {
		return errResponse(err)
	}
	e.sched.Forget(entry.Ref())
	if e.broker.Deactivate(entry.Ref()) {
		slog.Info("active entry deleted, selection released", "ref", entry.Ref())
	}
	return message.OK()
}

func (e *Engine) handleRecopy(req *message.Request) message.Response {
	entry, err := e.store.At(history.GroupOf(req.Group), indexOf(req))
	if err != nil {
		return errResponse(err)
	}
	if err := e.broker.Activate(entry); err != nil {
		return message.Errorf(message.CodeCapabilityUnavailable, "%v", err)
	}
	return message.OK()
}

func (e *Engine) handleGroups() message.Response {
	groups, err := e.store.Groups()
	if err != nil {
		return errResponse(err)
	}
	resp := message.OK()
	resp.Groups = make([]message.GroupInfo, len(groups))
	for i, g := range groups {
		resp.Groups[i] = message.GroupInfo{Name: g.Name, Entries: g.Entries, LastActivity: g.LastActivity}
	}
	return resp
}

// handleForeign ingests the new owner's content after another application
// claimed the selection. On a failed read (owner already gone, timeout) no
// entry is captured and the broker stays Foreign.
func (e *Engine) handleForeign(ctx context.Context) {
	e.broker.ForeignTaken()
	if !e.cfg.CaptureForeign {
		return
	}
	rctx, cancel := context.WithTimeout(ctx, e.cfg.ReadTimeout)
	items, err := e.broker.CaptureForeign(rctx)
	cancel()
	if err != nil {
		slog.Debug("foreign selection read failed, nothing captured", "err", err)
		return
	}
	group := history.GroupOf(e.cfg.CaptureGroup)
	if _, err := e.ingest(group, items, history.OriginForeign, e.cfg.DefaultExpiry); err != nil {
		slog.Error("foreign capture failed", "group", group, "err", err)
	}
}

func (e *Engine) handleEvictions(refs []history.Ref) {
	for _, ref := range refs {
		existed, err := e.store.Remove(ref)
		if err != nil {
			slog.Error("eviction failed", "ref", ref, "err", err)
			continue
		}
		if !existed {
			continue
		}
		if e.broker.Deactivate(ref) {
			slog.Info("active entry expired, selection released", "ref", ref)
		} else {
			slog.Info("entry expired", "ref", ref)
		}
	}
}

func indexOf(req *message.Request) int {
	if req.Index == nil {
		return 0
	}
	return *req.Index
}

func errResponse(err error) message.Response {
	if errors.Is(err, history.ErrNotFound) {
		return message.Errorf(message.CodeNotFound, "no such entry")
	}
	return message.Errorf(message.CodeStorageFailure, "%v", err)
}

func itemsFromWire(items []message.Item) ([]history.Item, error) {
	out := make([]history.Item, len(items))
	for i, it := range items {
		data, err := it.Decode()
		if err != nil {
			return nil, err
		}
		out[i] = history.Item{MIME: it.MIME, Data: data}
	}
	return out, nil
}

func itemsToWire(items []history.Item) []message.Item {
	out := make([]message.Item, len(items))
	for i, it := range items {
		out[i] = message.NewBinaryItem(it.MIME, it.Data)
	}
	return out
}
