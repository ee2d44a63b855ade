package sched

import (
	"container/heap"
	"context"
	"errors"
	"sync"

	"github.com/lumaview/lumaview/pkg/types"
)

// CompletionFunc receives the outcome of every finished load. A nil err
// with a non-nil image is a success; context.Canceled marks a silent
// cancellation; any other error is a per-item decode failure. Called
// without scheduler locks held, so it may call back into the scheduler.
type CompletionFunc func(key types.Key, item types.ItemDescriptor, img *types.ImageBuffer, err error)

// Handle is the caller-facing side of one in-flight load. Multiple
// schedule calls for the same key share one handle.
type Handle struct {
	key types.Key

	mu       sync.Mutex
	done     chan struct{}
	img      *types.ImageBuffer
	err      error
	finished bool
}

func newHandle(key types.Key) *Handle {
	return &Handle{key: key, done: make(chan struct{})}
}

// Key returns the key this handle loads.
func (h *Handle) Key() types.Key { return h.key }

// Done is closed when the load completes, fails, or is cancelled.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result returns the outcome. Only meaningful after Done is closed.
func (h *Handle) Result() (*types.ImageBuffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.img, h.err
}

// Wait blocks until the load settles or ctx expires.
func (h *Handle) Wait(ctx context.Context) (*types.ImageBuffer, error) {
	select {
	case <-h.done:
		return h.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// finish records the outcome exactly once. Cancellation and completed
// decodes both settle through here under the scheduler lock, so a
// consumer whose cancellation was accepted never observes the value.
func (h *Handle) finish(img *types.ImageBuffer, err error) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	h.img = img
	h.err = err
	h.finished = true
	close(h.done)
	return true
}

type load struct {
	key      types.Key
	item     types.ItemDescriptor
	priority types.Priority
	seq      uint64
	handle   *Handle
	ctx      context.Context
	cancel   context.CancelFunc

	// heapIndex is the position in the pending queue, -1 once running.
	heapIndex int
}

// Scheduler issues bounded-concurrency, priority-ordered, cancellable
// decode operations. At most one load is in flight per key; a second
// request attaches to the existing handle.
type Scheduler struct {
	decoder       types.Decoder
	maxConcurrent int
	onComplete    CompletionFunc

	mu      sync.Mutex
	seq     uint64
	pending loadQueue
	loads   map[types.Key]*load
	active  int
	closed  bool
}

// New creates a scheduler decoding with at most maxConcurrent workers.
// maxConcurrent is clamped to [1, 50].
func New(decoder types.Decoder, maxConcurrent int, onComplete CompletionFunc) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if maxConcurrent > 50 {
		maxConcurrent = 50
	}
	return &Scheduler{
		decoder:       decoder,
		maxConcurrent: maxConcurrent,
		onComplete:    onComplete,
		loads:         make(map[types.Key]*load),
	}
}

// SetMaxConcurrent replaces the concurrency bound for loads dispatched
// from now on; running loads are unaffected.
func (s *Scheduler) SetMaxConcurrent(n int) {
	if n < 1 {
		n = 1
	}
	if n > 50 {
		n = 50
	}
	s.mu.Lock()
	s.maxConcurrent = n
	s.dispatchLocked()
	s.mu.Unlock()
}

// Schedule requests a load for key. If a load for key is already in
// flight the existing handle is returned, raising its priority if the
// new request is more urgent.
func (s *Scheduler) Schedule(key types.Key, item types.ItemDescriptor, priority types.Priority) *Handle {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		h := newHandle(key)
		h.finish(nil, context.Canceled)
		return h
	}

	if l, ok := s.loads[key]; ok {
		if l.heapIndex >= 0 && priority > l.priority {
			l.priority = priority
			heap.Fix(&s.pending, l.heapIndex)
		}
		h := l.handle
		s.mu.Unlock()
		return h
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &load{
		key:      key,
		item:     item,
		priority: priority,
		seq:      s.seq,
		handle:   newHandle(key),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.seq++
	heap.Push(&s.pending, l)
	s.loads[key] = l
	s.dispatchLocked()

	h := l.handle
	s.mu.Unlock()
	return h
}

// Cancel requests best-effort cancellation of the load for key. It is
// idempotent: cancelling an unknown or already-settled key is a no-op.
// A pending load is removed outright; a running load has its context
// cancelled and its handle settled so no value reaches the caller. The
// handle settles under the scheduler lock, the same point where a
// finished decode settles it, so cancellation and completion are
// serialized rather than racing for the handle.
func (s *Scheduler) Cancel(key types.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.loads[key]
	if !ok {
		return
	}

	if l.heapIndex >= 0 {
		heap.Remove(&s.pending, l.heapIndex)
		delete(s.loads, key)
	}
	l.cancel()
	l.handle.finish(nil, context.Canceled)
}

// CancelAll cancels every pending and running load unconditionally.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	keys := make([]types.Key, 0, len(s.loads))
	for key := range s.loads {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Cancel(key)
	}
}

// InFlight reports whether a load for key is pending or running.
func (s *Scheduler) InFlight(key types.Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.loads[key]
	return ok
}

// ActiveCount returns the number of loads currently decoding.
func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PendingCount returns the number of loads waiting for a slot.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len()
}

// Close cancels everything and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
}

// dispatchLocked starts pending loads while slots are free, always
// picking the highest-priority pending request.
func (s *Scheduler) dispatchLocked() {
	for s.active < s.maxConcurrent && s.pending.Len() > 0 {
		l := heap.Pop(&s.pending).(*load)
		s.active++
		go s.run(l)
	}
}

func (s *Scheduler) run(l *load) {
	img, err := s.decoder.Decode(l.ctx, l.item)
	// Snapshot before releasing the context: after l.cancel below,
	// ctx.Err can no longer distinguish a cancellation from a failure.
	cancelled := l.ctx.Err() != nil
	l.cancel()

	// The load leaves the in-flight map before completion is reported,
	// so a re-request from the completion path issues a fresh load. The
	// handle settles inside the same critical section Cancel settles it
	// in, so cancellation and a finished decode never race: whichever
	// takes the lock first wins the handle.
	var reportImg *types.ImageBuffer
	var reportErr error

	s.mu.Lock()
	if s.loads[l.key] == l {
		delete(s.loads, l.key)
	}
	s.active--

	switch {
	case err == nil && img != nil:
		// A decode that finished despite a concurrent cancellation
		// still reports upward; the cache may keep the buffer. The
		// handle only delivers it if cancellation did not settle first.
		l.handle.finish(img, nil)
		reportImg = img
	case cancelled:
		l.handle.finish(nil, context.Canceled)
		reportErr = context.Canceled
	default:
		if err == nil {
			err = &types.DecodeError{Item: l.item, Err: errors.New("decoder returned no image")}
		}
		l.handle.finish(nil, err)
		reportErr = err
	}
	s.mu.Unlock()

	s.complete(l.key, l.item, reportImg, reportErr)

	s.mu.Lock()
	s.dispatchLocked()
	s.mu.Unlock()
}

func (s *Scheduler) complete(key types.Key, item types.ItemDescriptor, img *types.ImageBuffer, err error) {
	if s.onComplete != nil {
		s.onComplete(key, item, img, err)
	}
}
