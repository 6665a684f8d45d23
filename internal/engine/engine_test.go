package engine_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.klb.dev/clipd/internal/broker"
	"go.klb.dev/clipd/internal/clip"
	"go.klb.dev/clipd/internal/engine"
	"go.klb.dev/clipd/internal/expiry"
	"go.klb.dev/clipd/internal/history"
	"go.klb.dev/clipd/internal/message"
	"go.klb.dev/clipd/internal/storage"
)

// fakeSelection stands in for the windowing system: it records claims and
// releases, serves canned foreign content, and lets tests inject foreign
// ownership notifications through an unbuffered channel so the engine has
// consumed the event by the time the send returns.
type fakeSelection struct {
	mu       sync.Mutex
	claims   [][]clip.Item
	released int
	claimErr error
	current  []clip.Item
	readErr  error
	changes  chan struct{}
}

func newFakeSelection() *fakeSelection {
	return &fakeSelection{changes: make(chan struct{})}
}

func (f *fakeSelection) Name() string { return "fake" }

func (f *fakeSelection) Claim(items []clip.Item) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	f.claims = append(f.claims, items)
	return nil
}

func (f *fakeSelection) ReadCurrent(context.Context) ([]clip.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return nil, f.readErr
	}
	return f.current, nil
}

func (f *fakeSelection) Release() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
	return nil
}

func (f *fakeSelection) Changes() <-chan struct{} { return f.changes }

func (f *fakeSelection) Close() {}

func (f *fakeSelection) claimCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.claims)
}

func (f *fakeSelection) releaseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

func (f *fakeSelection) setClaimErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimErr = err
}

func (f *fakeSelection) setForeign(items []clip.Item, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current, f.readErr = items, err
}

type testDaemon struct {
	eng   *engine.Engine
	sel   *fakeSelection
	sched *expiry.Scheduler
}

func start(t *testing.T, backend history.Backend, cfg engine.Config) *testDaemon {
	t.Helper()
	store, err := history.NewStore(backend)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	sel := newFakeSelection()
	sched := expiry.New()
	eng := engine.New(store, broker.New(sel), sched, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); sched.Run(ctx) }()
	go func() { defer wg.Done(); eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return &testDaemon{eng: eng, sel: sel, sched: sched}
}

func startMemory(t *testing.T) *testDaemon {
	t.Helper()
	return start(t, storage.NewMemory(0), engine.Config{CaptureForeign: true})
}

func idx(i int) *int { return &i }

func (d *testDaemon) copyText(t *testing.T, group, text, expiry string) {
	t.Helper()
	resp := d.eng.Do(&message.Request{
		Kind:   message.KindCopy,
		Group:  group,
		Items:  []message.Item{message.NewTextItem(text)},
		Expiry: expiry,
	})
	if resp.Failed() {
		t.Fatalf("copy %q: %s (%s)", text, resp.Error, resp.Code)
	}
}

func (d *testDaemon) pasteText(t *testing.T, group string, index int) string {
	t.Helper()
	resp := d.eng.Do(&message.Request{Kind: message.KindPaste, Group: group, Index: idx(index)})
	if resp.Failed() {
		t.Fatalf("paste %d: %s (%s)", index, resp.Error, resp.Code)
	}
	if len(resp.Items) == 0 {
		t.Fatalf("paste %d returned no items", index)
	}
	data, err := resp.Items[0].Decode()
	if err != nil {
		t.Fatalf("paste %d decode: %v", index, err)
	}
	return string(data)
}

func (d *testDaemon) list(t *testing.T, group string) []message.Preview {
	t.Helper()
	resp := d.eng.Do(&message.Request{Kind: message.KindList, Group: group})
	if resp.Failed() {
		t.Fatalf("list: %s (%s)", resp.Error, resp.Code)
	}
	for _, l := range resp.Listings {
		if l.Group == history.GroupOf(group) {
			return l.Entries
		}
	}
	return nil
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCopyPasteDeleteFlow(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "hello", "")
	d.copyText(t, "", "world", "")

	entries := d.list(t, "")
	if len(entries) != 2 {
		t.Fatalf("list has %d entries", len(entries))
	}
	if entries[0].Preview != "world" || entries[1].Preview != "hello" {
		t.Fatalf("order = %q, %q, want most recent first", entries[0].Preview, entries[1].Preview)
	}
	if entries[0].ID != 2 || entries[1].ID != 1 {
		t.Fatalf("ids = %d, %d", entries[0].ID, entries[1].ID)
	}
	if !entries[0].Active || entries[1].Active {
		t.Fatalf("active markers = %v, %v, want head active", entries[0].Active, entries[1].Active)
	}

	if got := d.pasteText(t, "", 0); got != "world" {
		t.Fatalf("paste 0 = %q", got)
	}
	if got := d.pasteText(t, "", 1); got != "hello" {
		t.Fatalf("paste 1 = %q", got)
	}

	// Deleting the active head releases the selection exactly once, and the
	// index view shifts so index 0 resolves to the survivor.
	resp := d.eng.Do(&message.Request{Kind: message.KindDelete, Group: "", Index: idx(0)})
	if resp.Failed() {
		t.Fatalf("delete: %s", resp.Error)
	}
	if n := d.sel.releaseCount(); n != 1 {
		t.Fatalf("released %d times, want 1", n)
	}
	if got := d.pasteText(t, "", 0); got != "hello" {
		t.Fatalf("paste 0 after delete = %q", got)
	}
	if entries := d.list(t, ""); entries[0].Active {
		t.Fatal("entry still marked active after release")
	}
}

func TestRepeatedCopyCollapses(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "same", "")
	d.copyText(t, "", "same", "")

	entries := d.list(t, "")
	if len(entries) != 1 {
		t.Fatalf("duplicate head copy created %d entries", len(entries))
	}
	// Re-activation still happened.
	if n := d.sel.claimCount(); n != 2 {
		t.Fatalf("claimed %d times, want 2", n)
	}
}

func TestRecopyKeepsHistory(t *testing.T) {
	d := startMemory(t)
	for _, s := range []string{"a", "b", "c"} {
		d.copyText(t, "", s, "")
	}

	resp := d.eng.Do(&message.Request{Kind: message.KindRecopy, Index: idx(2)})
	if resp.Failed() {
		t.Fatalf("recopy: %s", resp.Error)
	}

	entries := d.list(t, "")
	if len(entries) != 3 {
		t.Fatalf("recopy changed entry count: %d", len(entries))
	}
	for i, want := range []uint64{3, 2, 1} {
		if entries[i].ID != want {
			t.Fatalf("ids disturbed: %+v", entries)
		}
	}
	if !entries[2].Active {
		t.Fatal("recopied entry not marked active")
	}
}

func TestRecopyClaimFailure(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "x", "")
	d.sel.setClaimErr(clip.ErrUnavailable)

	resp := d.eng.Do(&message.Request{Kind: message.KindRecopy, Index: idx(0)})
	if !resp.Failed() || resp.Code != message.CodeCapabilityUnavailable {
		t.Fatalf("resp = %+v, want capability_unavailable", resp)
	}
	// The broker dropped to idle; history is untouched.
	entries := d.list(t, "")
	if len(entries) != 1 || entries[0].Active {
		t.Fatalf("entries after failed claim = %+v", entries)
	}
}

func TestForeignCapture(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "ours", "")
	d.sel.setForeign([]clip.Item{{MIME: "text/plain", Data: []byte("external")}}, nil)

	d.sel.changes <- struct{}{}

	entries := d.list(t, "")
	if len(entries) != 2 {
		t.Fatalf("list has %d entries after foreign capture", len(entries))
	}
	if entries[0].Preview != "external" || entries[0].Origin != string(history.OriginForeign) {
		t.Fatalf("head = %+v, want foreign entry", entries[0])
	}
	if entries[1].Origin != string(history.OriginDaemon) {
		t.Fatalf("prior entry origin = %q", entries[1].Origin)
	}
}

func TestForeignReadFailureCapturesNothing(t *testing.T) {
	d := startMemory(t)
	d.sel.setForeign(nil, clip.ErrUnavailable)

	d.sel.changes <- struct{}{}

	if entries := d.list(t, ""); len(entries) != 0 {
		t.Fatalf("failed foreign read still captured: %+v", entries)
	}
}

func TestForeignCaptureDisabled(t *testing.T) {
	d := start(t, storage.NewMemory(0), engine.Config{CaptureForeign: false})
	d.sel.setForeign([]clip.Item{{MIME: "text/plain", Data: []byte("external")}}, nil)

	d.sel.changes <- struct{}{}

	if entries := d.list(t, ""); len(entries) != 0 {
		t.Fatalf("capture disabled but entry recorded: %+v", entries)
	}
}

func TestCapacityEviction(t *testing.T) {
	d := start(t, storage.NewMemory(2), engine.Config{})
	for _, s := range []string{"a", "b", "c"} {
		d.copyText(t, "", s, "")
	}

	entries := d.list(t, "")
	if len(entries) != 2 {
		t.Fatalf("list has %d entries, want capacity 2", len(entries))
	}
	if entries[0].Preview != "c" || entries[1].Preview != "b" {
		t.Fatalf("entries = %q, %q, want oldest evicted", entries[0].Preview, entries[1].Preview)
	}
	if entries[0].ID != 3 || entries[1].ID != 2 {
		t.Fatalf("ids = %d, %d", entries[0].ID, entries[1].ID)
	}
}

func TestDeadlineExpiration(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "fleeting", "30ms")
	d.copyText(t, "other", "durable", "")

	if entries := d.list(t, ""); len(entries) != 1 {
		t.Fatalf("entry missing before its deadline: %+v", entries)
	}

	waitFor(t, 2*time.Second, "deadline eviction", func() bool {
		return len(d.list(t, "")) == 0
	})
	if entries := d.list(t, "other"); len(entries) != 1 {
		t.Fatalf("unrelated group disturbed: %+v", entries)
	}
}

func TestSessionEndExpiration(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "keep", "never")
	d.copyText(t, "", "temp", "session")

	d.sched.SessionEnd()

	waitFor(t, 2*time.Second, "session eviction", func() bool {
		entries := d.list(t, "")
		return len(entries) == 1 && entries[0].Preview == "keep"
	})
	// The evicted entry was the active head, so the selection was released.
	if n := d.sel.releaseCount(); n != 1 {
		t.Fatalf("released %d times, want 1", n)
	}
}

func TestDeleteAll(t *testing.T) {
	d := startMemory(t)
	for _, s := range []string{"a", "b", "c"} {
		d.copyText(t, "", s, "")
	}
	resp := d.eng.Do(&message.Request{Kind: message.KindDelete, All: true})
	if resp.Failed() {
		t.Fatalf("delete --all: %s", resp.Error)
	}
	if entries := d.list(t, ""); len(entries) != 0 {
		t.Fatalf("entries remain: %+v", entries)
	}
	if n := d.sel.releaseCount(); n != 1 {
		t.Fatalf("released %d times, want 1", n)
	}
}

func TestErrorsAreClassified(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "only", "")

	resp := d.eng.Do(&message.Request{Kind: message.KindPaste, Index: idx(5)})
	if !resp.Failed() || resp.Code != message.CodeNotFound {
		t.Fatalf("out-of-range paste = %+v, want not_found", resp)
	}

	resp = d.eng.Do(&message.Request{Kind: message.KindDelete, Group: "empty", Index: idx(0)})
	if !resp.Failed() || resp.Code != message.CodeNotFound {
		t.Fatalf("delete in missing group = %+v, want not_found", resp)
	}

	resp = d.eng.Do(&message.Request{Kind: message.KindCopy, Items: []message.Item{{MIME: "text/plain", Data: "not base64!"}}})
	if !resp.Failed() || resp.Code != message.CodeProtocolError {
		t.Fatalf("bad payload = %+v, want protocol_error", resp)
	}

	resp = d.eng.Do(&message.Request{Kind: message.KindCopy, Expiry: "eventually", Items: []message.Item{message.NewTextItem("x")}})
	if !resp.Failed() || resp.Code != message.CodeProtocolError {
		t.Fatalf("bad expiry = %+v, want protocol_error", resp)
	}

	resp = d.eng.Do(&message.Request{Kind: "bogus"})
	if !resp.Failed() || resp.Code != message.CodeProtocolError {
		t.Fatalf("unknown kind = %+v, want protocol_error", resp)
	}
}

func TestGroups(t *testing.T) {
	d := startMemory(t)
	d.copyText(t, "", "a", "")
	d.copyText(t, "work", "b", "")

	resp := d.eng.Do(&message.Request{Kind: message.KindGroups})
	if resp.Failed() {
		t.Fatalf("groups: %s", resp.Error)
	}
	if len(resp.Groups) != 2 {
		t.Fatalf("groups = %+v", resp.Groups)
	}
	// Most recently active first.
	if resp.Groups[0].Name != "work" || resp.Groups[0].Entries != 1 {
		t.Fatalf("groups = %+v", resp.Groups)
	}
}

func TestHistorySurvivesStopAndRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	backend, err := storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := start(t, backend, engine.Config{})
	for _, s := range []string{"one", "two", "three"} {
		d.copyText(t, "", s, "")
	}

	resp := d.eng.Do(&message.Request{Kind: message.KindStop})
	if resp.Failed() {
		t.Fatalf("stop: %s", resp.Error)
	}
	<-d.eng.Done()
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backend, err = storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d2 := start(t, backend, engine.Config{})

	entries := d2.list(t, "")
	if len(entries) != 3 {
		t.Fatalf("after restart list has %d entries", len(entries))
	}
	wantID := []uint64{3, 2, 1}
	wantText := []string{"three", "two", "one"}
	for i := range entries {
		if entries[i].ID != wantID[i] || entries[i].Preview != wantText[i] {
			t.Fatalf("after restart entries = %+v", entries)
		}
	}
}

func TestSessionExpirySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	backend, err := storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := start(t, backend, engine.Config{})
	d.copyText(t, "", "keep", "never")
	d.copyText(t, "", "temp", "session")

	if resp := d.eng.Do(&message.Request{Kind: message.KindStop}); resp.Failed() {
		t.Fatalf("stop: %s", resp.Error)
	}
	<-d.eng.Done()
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	backend, err = storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d2 := start(t, backend, engine.Config{})

	// The session subscription was rebuilt from storage, so the first
	// session end after the restart still evicts the entry.
	d2.sched.SessionEnd()
	waitFor(t, 2*time.Second, "session eviction after restart", func() bool {
		entries := d2.list(t, "")
		return len(entries) == 1 && entries[0].Preview == "keep"
	})
}

func TestStaleDeadlineSweptOnRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	backend, err := storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	d := start(t, backend, engine.Config{})
	d.copyText(t, "", "fleeting", "20ms")
	d.copyText(t, "", "durable", "1h")

	if resp := d.eng.Do(&message.Request{Kind: message.KindStop}); resp.Failed() {
		t.Fatalf("stop: %s", resp.Error)
	}
	<-d.eng.Done()
	if err := backend.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Let the short deadline lapse while no daemon is running.
	time.Sleep(50 * time.Millisecond)

	backend, err = storage.OpenSQLite(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d2 := start(t, backend, engine.Config{})

	waitFor(t, 2*time.Second, "stale deadline sweep", func() bool {
		entries := d2.list(t, "")
		return len(entries) == 1 && entries[0].Preview == "durable"
	})
}

type flushSpy struct {
	history.Backend
	mu      sync.Mutex
	flushes int
}

func (f *flushSpy) Flush() error {
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
	return f.Backend.Flush()
}

func TestStopReleasesAndFlushes(t *testing.T) {
	spy := &flushSpy{Backend: storage.NewMemory(0)}
	d := start(t, spy, engine.Config{})
	d.copyText(t, "", "active", "")

	resp := d.eng.Do(&message.Request{Kind: message.KindStop, Restart: true})
	if resp.Failed() {
		t.Fatalf("stop: %s", resp.Error)
	}

	select {
	case <-d.eng.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not report done after stop")
	}
	if !d.eng.ShouldRestart() {
		t.Fatal("restart flag lost")
	}
	if n := d.sel.releaseCount(); n != 1 {
		t.Fatalf("released %d times during shutdown, want 1", n)
	}
	spy.mu.Lock()
	flushes := spy.flushes
	spy.mu.Unlock()
	if flushes != 1 {
		t.Fatalf("flushed %d times during shutdown, want 1", flushes)
	}

	resp = d.eng.Do(&message.Request{Kind: message.KindPing})
	if !resp.Failed() || resp.Code != message.CodeShuttingDown {
		t.Fatalf("post-stop request = %+v, want shutting_down", resp)
	}
}
