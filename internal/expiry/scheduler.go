// Package expiry implements the single authority for time-based entry
// removal. It resolves expiry policies into concrete deadlines (or a
// session-end subscription), keeps a deadline-ordered heap, and emits
// eviction batches naming exactly the entries that are due. Evictions travel
// through the command engine's queue so they share the same mutation path as
// explicit deletes.
package expiry

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"go.klb.dev/clipd/internal/history"
)

type deadline struct {
	at  time.Time
	ref history.Ref
}

type deadlineHeap []deadline

func (h deadlineHeap) Len() int            { return len(h) }
func (h deadlineHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *deadlineHeap) Push(x any)         { *h = append(*h, x.(deadline)) }
func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	*h = old[:n-1]
	return d
}

// Scheduler tracks entry deadlines and session-end subscriptions.
//
// Entries with the Never policy are not tracked at all, and session entries
// carry no deadline, so clock jumps can never evict them prematurely.
type Scheduler struct {
	mu       sync.Mutex
	heap     deadlineHeap
	gone     map[history.Ref]bool // forgotten before firing
	session  map[history.Ref]bool

	wake      chan struct{}
	sessionCh chan struct{}
	evictCh   chan []history.Ref
}

// New returns a Scheduler with nothing tracked.
func New() *Scheduler {
	return &Scheduler{
		gone:      make(map[history.Ref]bool),
		session:   make(map[history.Ref]bool),
		wake:      make(chan struct{}, 1),
		sessionCh: make(chan struct{}, 1),
		evictCh:   make(chan []history.Ref, 16),
	}
}

// Evictions is the channel eviction batches are delivered on. The command
// engine is the sole consumer.
func (s *Scheduler) Evictions() <-chan []history.Ref { return s.evictCh }

// Track registers an entry under its expiry policy.
func (s *Scheduler) Track(e history.Entry) {
	switch e.Expiry.Kind {
	case history.ExpireAfter:
		s.mu.Lock()
		heap.Push(&s.heap, deadline{at: e.CreatedAt.Add(e.Expiry.TTL), ref: e.Ref()})
		delete(s.gone, e.Ref())
		s.mu.Unlock()
		s.poke()
	case history.ExpireSession:
		s.mu.Lock()
		s.session[e.Ref()] = true
		s.mu.Unlock()
	}
}

// Forget drops any subscription for ref. Called when an entry is deleted or
// evicted through another path, so a stale deadline never fires for a
// reused slot.
func (s *Scheduler) Forget(ref history.Ref) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.session, ref)
	for _, d := range s.heap {
		if d.ref == ref {
			s.gone[ref] = true
			return
		}
	}
}

// SessionEnd requests eviction of every session-scoped entry. The batch is
// emitted from the Run loop so it is atomic with respect to commands the
// engine processes around it.
func (s *Scheduler) SessionEnd() {
	select {
	case s.sessionCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run emits eviction batches until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		var timerCh <-chan time.Time
		s.mu.Lock()
		if len(s.heap) > 0 {
			d := time.Until(s.heap[0].at)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			timerCh = timer.C
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			if timerCh != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-s.sessionCh:
			if timerCh != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			if refs := s.takeSession(); len(refs) > 0 {
				s.deliver(ctx, refs)
			}
		case <-timerCh:
			if refs := s.takeDue(); len(refs) > 0 {
				s.deliver(ctx, refs)
			}
		}
	}
}

func (s *Scheduler) takeDue() []history.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var refs []history.Ref
	for len(s.heap) > 0 && !s.heap[0].at.After(now) {
		d := heap.Pop(&s.heap).(deadline)
		if s.gone[d.ref] {
			delete(s.gone, d.ref)
			continue
		}
		refs = append(refs, d.ref)
	}
	return refs
}

func (s *Scheduler) takeSession() []history.Ref {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make([]history.Ref, 0, len(s.session))
	for ref := range s.session {
		refs = append(refs, ref)
	}
	s.session = make(map[history.Ref]bool)
	return refs
}

func (s *Scheduler) deliver(ctx context.Context, refs []history.Ref) {
	select {
	case s.evictCh <- refs:
	case <-ctx.Done():
	}
}
