// Package search turns a stream of query edits into debounced remote lookups.
// One Box serves one input: the customer lookup of a draft, or the product
// lookup of a single line item.
package search

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/invoice-extractor/orderdesk/internal/metrics"
)

// DefaultDelay is the quiet interval before a query is sent.
const DefaultDelay = 300 * time.Millisecond

// Fetcher runs one remote search.
type Fetcher[T any] func(ctx context.Context, query string) ([]T, error)

// State is a snapshot of a box.
type State[T any] struct {
	Query   string `json:"query"`
	Results []T    `json:"results"`
	Loading bool   `json:"loading"`
	Open    bool   `json:"open"`
	Err     string `json:"error,omitempty"`
}

// Options configures a Box. Zero values fall back to DefaultDelay and the
// real clock.
type Options[T any] struct {
	Name     string // metrics label, "customer" or "product"
	Delay    time.Duration
	Clock    Clock
	Metrics  *metrics.Registry
	OnUpdate func(State[T])
}

// Box is a debounced lookup. Only the latest query is ever sent: a new edit
// stops the pending timer and cancels the in-flight request, and a
// generation counter drops any response that still arrives afterwards.
type Box[T any] struct {
	fetch    Fetcher[T]
	name     string
	delay    time.Duration
	clock    Clock
	metrics  *metrics.Registry
	onUpdate func(State[T])

	mu      sync.Mutex
	state   State[T]
	gen     uint64
	timer   Timer
	cancel  context.CancelFunc
	stopped bool
}

func NewBox[T any](fetch Fetcher[T], opts Options[T]) *Box[T] {
	b := &Box[T]{
		fetch:    fetch,
		name:     opts.Name,
		delay:    opts.Delay,
		clock:    opts.Clock,
		metrics:  opts.Metrics,
		onUpdate: opts.OnUpdate,
	}
	if b.delay <= 0 {
		b.delay = DefaultDelay
	}
	if b.clock == nil {
		b.clock = RealClock()
	}
	return b
}

// Type records a query edit. The visible query changes immediately; a
// blank query clears the results without a remote call.
func (b *Box[T]) Type(query string) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.abortLocked()
	b.state.Query = query
	b.state.Err = ""

	if strings.TrimSpace(query) == "" {
		b.state.Results = nil
		b.state.Loading = false
		b.state.Open = false
		snap := b.snapshotLocked()
		b.mu.Unlock()
		b.notify(snap)
		return
	}

	gen := b.gen
	b.timer = b.clock.AfterFunc(b.delay, func() { b.run(gen, query) })
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)
}

// Select replaces the query with the chosen result's label and closes the list.
func (b *Box[T]) Select(display string) {
	b.mu.Lock()
	b.abortLocked()
	b.state = State[T]{Query: display}
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)
}

// Dismiss closes the list, as on a click outside the input.
func (b *Box[T]) Dismiss() {
	b.mu.Lock()
	b.state.Open = false
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)
}

// Stop cancels pending and in-flight work. The box ignores edits afterwards.
func (b *Box[T]) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.abortLocked()
	b.state.Loading = false
	b.stopped = true
}

// State returns a snapshot.
func (b *Box[T]) State() State[T] {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// Pending reports whether a search is scheduled or in flight.
func (b *Box[T]) Pending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.timer != nil || b.cancel != nil
}

func (b *Box[T]) run(gen uint64, query string) {
	b.mu.Lock()
	if gen != b.gen || b.stopped {
		b.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.timer = nil
	b.cancel = cancel
	b.state.Loading = true
	snap := b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)

	b.metrics.ObserveSearch(b.name)
	results, err := b.fetch(ctx, query)
	cancel()

	b.mu.Lock()
	if gen != b.gen {
		b.mu.Unlock()
		return
	}
	b.cancel = nil
	b.state.Loading = false
	if err != nil {
		b.state.Results = nil
		b.state.Open = false
		b.state.Err = err.Error()
	} else {
		b.state.Results = results
		b.state.Open = true
	}
	snap = b.snapshotLocked()
	b.mu.Unlock()
	b.notify(snap)
}

// abortLocked stops the timer, cancels the request, and bumps the
// generation so late callbacks see they are stale.
func (b *Box[T]) abortLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *Box[T]) snapshotLocked() State[T] {
	s := b.state
	if s.Results != nil {
		s.Results = append([]T(nil), s.Results...)
	}
	return s
}

func (b *Box[T]) notify(s State[T]) {
	if b.onUpdate != nil {
		b.onUpdate(s)
	}
}
