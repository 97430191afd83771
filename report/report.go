// Package report converts low-level row-write notifications into
// coalesced, subscribable per-table change events, respecting transaction
// boundaries: nothing is delivered while a transaction is open, and all
// writes accumulated in the window collapse into one event per table.
package report

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/larder-db/larder/metrics"
	"github.com/larder-db/larder/value"
)

// Change is one coalesced event for a table. A nil PrimaryKeys or Columns
// slice means "unknown — assume every row / every column changed";
// over-reporting is always safe, under-reporting never is.
type Change struct {
	Table       string
	PrimaryKeys [][]value.Value
	Columns     []string
}

// AllRows reports whether the affected row set is unknown.
func (c Change) AllRows() bool { return c.PrimaryKeys == nil }

// AllColumns reports whether the affected column set is unknown.
func (c Change) AllColumns() bool { return c.Columns == nil }

// accum is the mutable per-table buffer filled between flushes. Widening
// is monotonic: once keys or columns escalate to unknown they never narrow
// again before the flush.
type accum struct {
	keysUnknown bool
	keys        map[string][]value.Value
	colsUnknown bool
	cols        map[string]struct{}
}

func newAccum() *accum {
	return &accum{
		keys: make(map[string][]value.Value),
		cols: make(map[string]struct{}),
	}
}

func (a *accum) merge(keys [][]value.Value, cols []string) {
	if keys == nil {
		a.keysUnknown = true
		a.keys = nil
	} else if !a.keysUnknown {
		for _, k := range keys {
			a.keys[value.EncodeKey(k)] = k
		}
	}
	if cols == nil {
		a.colsUnknown = true
		a.cols = nil
	} else if !a.colsUnknown {
		for _, c := range cols {
			a.cols[c] = struct{}{}
		}
	}
}

func (a *accum) change(table string) Change {
	ch := Change{Table: table}
	if !a.keysUnknown {
		encoded := make([]string, 0, len(a.keys))
		for e := range a.keys {
			encoded = append(encoded, e)
		}
		sort.Strings(encoded)
		ch.PrimaryKeys = make([][]value.Value, 0, len(encoded))
		for _, e := range encoded {
			ch.PrimaryKeys = append(ch.PrimaryKeys, a.keys[e])
		}
	}
	if !a.colsUnknown {
		ch.Columns = make([]string, 0, len(a.cols))
		for c := range a.cols {
			ch.Columns = append(ch.Columns, c)
		}
		sort.Strings(ch.Columns)
	}
	return ch
}

type ignoreState struct {
	buffer bool
	keys   [][]value.Value
	cols   []string
	wide   bool // an unknown write happened while ignoring
}

type subscriber struct {
	mu     sync.Mutex
	closed bool
	ch     chan Change
}

func (s *subscriber) send(c Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.ch <- c
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Reporter accumulates per-table deltas during open transactions and
// flushes one coalesced event per table to that table's subscribers once
// no transaction is active.
type Reporter struct {
	log *zap.Logger

	// deliverMu serializes whole flushes. It is acquired before mu and
	// held across delivery, so the order events are swapped out of pending
	// is the order subscribers observe them in.
	deliverMu sync.Mutex

	mu             sync.Mutex
	active         map[int64]struct{}
	pending        map[string]*accum
	order          []string
	flushScheduled bool
	subs           map[string]map[int]*subscriber
	nextSubID      int
	ignores        map[string]*ignoreState
	broadcast      func(Change)
}

// New returns an idle Reporter.
func New(log *zap.Logger) *Reporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reporter{
		log:     log,
		active:  make(map[int64]struct{}),
		pending: make(map[string]*accum),
		subs:    make(map[string]map[int]*subscriber),
		ignores: make(map[string]*ignoreState),
	}
}

// TransactionStarted marks a transaction id as active, holding back
// flushes until it ends.
func (r *Reporter) TransactionStarted(id int64) {
	r.mu.Lock()
	r.active[id] = struct{}{}
	r.mu.Unlock()
}

// TransactionEnded removes the id from the active set and schedules a
// flush if it was the last one.
func (r *Reporter) TransactionEnded(id int64) {
	r.mu.Lock()
	delete(r.active, id)
	r.maybeScheduleLocked()
	r.mu.Unlock()
}

// Accumulate records a write against table. A nil keys or columns slice
// widens the table's pending event to unknown on that axis.
func (r *Reporter) Accumulate(table string, keys [][]value.Value, columns []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ig, ok := r.ignores[table]; ok {
		if ig.buffer && !ig.wide {
			if keys == nil || columns == nil {
				ig.wide = true
				ig.keys, ig.cols = nil, nil
			} else {
				ig.keys = append(ig.keys, keys...)
				ig.cols = append(ig.cols, columns...)
			}
		}
		return
	}

	r.accumulateLocked(table, keys, columns)
	r.maybeScheduleLocked()
}

// AccumulateUnknown records a write against table with unknown rows and
// columns.
func (r *Reporter) AccumulateUnknown(table string) {
	r.Accumulate(table, nil, nil)
}

// DatabaseChanged escalates every pending and subscribed table to an
// unknown-everything event. Used for the truncate optimization and for
// external writers.
func (r *Reporter) DatabaseChanged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for table := range r.pending {
		r.accumulateLocked(table, nil, nil)
	}
	for table := range r.subs {
		r.accumulateLocked(table, nil, nil)
	}
	r.maybeScheduleLocked()
}

func (r *Reporter) accumulateLocked(table string, keys [][]value.Value, columns []string) {
	a, ok := r.pending[table]
	if !ok {
		a = newAccum()
		r.pending[table] = a
		r.order = append(r.order, table)
	}
	a.merge(keys, columns)
}

// BeginIgnore suppresses accumulation for table until EndIgnore, so a
// helper performing its own write does not double-report. With buffer set,
// writes observed during the window are replayed at EndIgnore.
func (r *Reporter) BeginIgnore(table string, buffer bool) {
	r.mu.Lock()
	r.ignores[table] = &ignoreState{buffer: buffer}
	r.mu.Unlock()
}

// EndIgnore lifts the ignore window and replays buffered writes, if any.
func (r *Reporter) EndIgnore(table string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ig, ok := r.ignores[table]
	if !ok {
		return
	}
	delete(r.ignores, table)
	if !ig.buffer {
		return
	}
	if ig.wide {
		r.accumulateLocked(table, nil, nil)
	} else if len(ig.keys) > 0 || len(ig.cols) > 0 {
		r.accumulateLocked(table, ig.keys, ig.cols)
	}
	r.maybeScheduleLocked()
}

// Subscribe returns a channel receiving coalesced events for table and a
// cancel function. The channel is buffered; consume promptly, a stalled
// subscriber stalls flush delivery.
func (r *Reporter) Subscribe(table string) (<-chan Change, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextSubID
	r.nextSubID++
	sub := &subscriber{ch: make(chan Change, 64)}
	if r.subs[table] == nil {
		r.subs[table] = make(map[int]*subscriber)
	}
	r.subs[table][id] = sub

	cancel := func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if m, ok := r.subs[table]; ok {
			if s, ok := m[id]; ok {
				delete(m, id)
				s.close()
				if len(m) == 0 {
					delete(r.subs, table)
				}
			}
		}
	}
	return sub.ch, cancel
}

// SetBroadcastHook installs the legacy broadcast-notification path: every
// flushed event is also passed to fn. Opt-in; a nil fn disables it.
func (r *Reporter) SetBroadcastHook(fn func(Change)) {
	r.mu.Lock()
	r.broadcast = fn
	r.mu.Unlock()
}

// maybeScheduleLocked schedules a flush when there is pending accumulation,
// no transaction is active, and no flush is already scheduled. The flush
// itself runs on its own goroutine, never inline with the triggering
// write.
func (r *Reporter) maybeScheduleLocked() {
	if r.flushScheduled || len(r.active) > 0 || len(r.pending) == 0 {
		return
	}
	r.flushScheduled = true
	go r.flush()
}

func (r *Reporter) flush() {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	r.mu.Lock()
	r.flushScheduled = false
	if len(r.active) > 0 || len(r.pending) == 0 {
		// A transaction opened between scheduling and running; it will
		// reschedule when it ends.
		r.mu.Unlock()
		return
	}

	pending := r.pending
	order := r.order
	r.pending = make(map[string]*accum)
	r.order = nil

	type delivery struct {
		ch   Change
		subs []*subscriber
	}
	deliveries := make([]delivery, 0, len(order))
	for _, table := range order {
		a := pending[table]
		d := delivery{ch: a.change(table)}
		for _, s := range r.subs[table] {
			d.subs = append(d.subs, s)
		}
		deliveries = append(deliveries, d)
	}
	broadcast := r.broadcast
	r.mu.Unlock()

	// Delivery happens outside the lock so subscriber callbacks cannot
	// deadlock against writers accumulating new changes.
	for _, d := range deliveries {
		metrics.ChangeEventsTotal.Inc()
		r.log.Debug("flushing change event",
			zap.String("table", d.ch.Table),
			zap.Bool("all_rows", d.ch.AllRows()),
			zap.Bool("all_columns", d.ch.AllColumns()))
		for _, s := range d.subs {
			s.send(d.ch)
		}
		if broadcast != nil {
			broadcast(d.ch)
		}
	}
}
