package report

import (
	"testing"
	"time"

	"github.com/larder-db/larder/value"
)

func recvChange(t *testing.T, ch <-chan Change) Change {
	t.Helper()
	select {
	case c, ok := <-ch:
		if !ok {
			t.Fatal("subscription channel closed")
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
	return Change{}
}

func expectNoChange(t *testing.T, ch <-chan Change) {
	t.Helper()
	select {
	case c := <-ch:
		t.Fatalf("unexpected change event: %+v", c)
	case <-time.After(50 * time.Millisecond):
	}
}

func pk(vals ...int64) [][]value.Value {
	var keys [][]value.Value
	for _, v := range vals {
		keys = append(keys, []value.Value{value.Integer(v)})
	}
	return keys
}

func TestFlushDeliversCoalescedEvent(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe("post")
	defer cancel()

	r.Accumulate("post", pk(1), []string{"id", "title"})
	got := recvChange(t, ch)

	if got.Table != "post" {
		t.Errorf("Table = %q", got.Table)
	}
	if len(got.PrimaryKeys) != 1 || !got.PrimaryKeys[0][0].Equal(value.Integer(1)) {
		t.Errorf("PrimaryKeys = %v", got.PrimaryKeys)
	}
	if len(got.Columns) != 2 || got.Columns[0] != "id" || got.Columns[1] != "title" {
		t.Errorf("Columns = %v", got.Columns)
	}
}

func TestTransactionGatesFlush(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe("post")
	defer cancel()

	r.TransactionStarted(1)
	r.Accumulate("post", pk(1), []string{"title"})
	r.Accumulate("post", pk(2), []string{"id", "title"})
	expectNoChange(t, ch)

	r.TransactionEnded(1)
	got := recvChange(t, ch)
	if len(got.PrimaryKeys) != 2 {
		t.Errorf("expected one event with both keys, got %+v", got)
	}
	if len(got.Columns) != 2 {
		t.Errorf("expected union of columns, got %v", got.Columns)
	}
	expectNoChange(t, ch)
}

func TestNestedActiveTransactionsHoldFlush(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe("post")
	defer cancel()

	r.TransactionStarted(1)
	r.TransactionStarted(2)
	r.Accumulate("post", pk(1), []string{"title"})
	r.TransactionEnded(2)
	expectNoChange(t, ch)
	r.TransactionEnded(1)
	recvChange(t, ch)
}

func TestWideningIsMonotonic(t *testing.T) {
	t.Run("known then unknown", func(t *testing.T) {
		r := New(nil)
		ch, cancel := r.Subscribe("post")
		defer cancel()

		r.TransactionStarted(1)
		r.Accumulate("post", pk(1), []string{"title"})
		r.AccumulateUnknown("post")
		r.Accumulate("post", pk(2), []string{"title"})
		r.TransactionEnded(1)

		got := recvChange(t, ch)
		if !got.AllRows() || !got.AllColumns() {
			t.Errorf("event narrowed after widening: %+v", got)
		}
	})

	t.Run("unknown columns only", func(t *testing.T) {
		r := New(nil)
		ch, cancel := r.Subscribe("post")
		defer cancel()

		r.TransactionStarted(1)
		r.Accumulate("post", pk(1), nil)
		r.Accumulate("post", pk(2), []string{"title"})
		r.TransactionEnded(1)

		got := recvChange(t, ch)
		if got.AllRows() {
			t.Error("keys should remain known")
		}
		if !got.AllColumns() {
			t.Error("columns should remain unknown")
		}
		if len(got.PrimaryKeys) != 2 {
			t.Errorf("PrimaryKeys = %v", got.PrimaryKeys)
		}
	})
}

func TestDuplicateKeysCoalesce(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe("post")
	defer cancel()

	r.TransactionStarted(1)
	r.Accumulate("post", pk(1), []string{"title"})
	r.Accumulate("post", pk(1), []string{"title"})
	r.TransactionEnded(1)

	got := recvChange(t, ch)
	if len(got.PrimaryKeys) != 1 {
		t.Errorf("duplicate key not coalesced: %v", got.PrimaryKeys)
	}
}

func TestIgnoreWindow(t *testing.T) {
	t.Run("suppresses", func(t *testing.T) {
		r := New(nil)
		ch, cancel := r.Subscribe("post")
		defer cancel()

		r.BeginIgnore("post", false)
		r.Accumulate("post", pk(1), []string{"title"})
		r.EndIgnore("post")
		expectNoChange(t, ch)
	})

	t.Run("buffers and replays", func(t *testing.T) {
		r := New(nil)
		ch, cancel := r.Subscribe("post")
		defer cancel()

		r.BeginIgnore("post", true)
		r.Accumulate("post", pk(7), []string{"title"})
		expectNoChange(t, ch)
		r.EndIgnore("post")

		got := recvChange(t, ch)
		if len(got.PrimaryKeys) != 1 || !got.PrimaryKeys[0][0].Equal(value.Integer(7)) {
			t.Errorf("replayed keys = %v", got.PrimaryKeys)
		}
	})

	t.Run("other tables unaffected", func(t *testing.T) {
		r := New(nil)
		ch, cancel := r.Subscribe("other")
		defer cancel()

		r.BeginIgnore("post", false)
		r.Accumulate("other", pk(1), []string{"name"})
		r.EndIgnore("post")
		recvChange(t, ch)
	})
}

func TestFlushesDeliverInAccumulationOrder(t *testing.T) {
	r := New(nil)
	// A slow broadcast hook stretches each delivery loop so that flushes
	// scheduled later pile up behind an in-flight one instead of racing it.
	r.SetBroadcastHook(func(Change) { time.Sleep(2 * time.Millisecond) })
	ch, cancel := r.Subscribe("post")
	defer cancel()

	// Fixed-width ids so encoded-key sort order matches numeric order
	// inside a coalesced event.
	const first, count = 100, 50
	for i := int64(first); i < first+count; i++ {
		r.Accumulate("post", pk(i), []string{"title"})
	}

	var got []int64
	deadline := time.After(5 * time.Second)
	for len(got) < count {
		select {
		case ev := <-ch:
			for _, k := range ev.PrimaryKeys {
				id, _ := k[0].Int()
				got = append(got, id)
			}
		case <-deadline:
			t.Fatalf("received %d of %d keys", len(got), count)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Fatalf("keys delivered out of order: %v", got)
		}
	}
}

func TestDatabaseChangedReachesSubscribers(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe("post")
	defer cancel()

	r.DatabaseChanged()
	got := recvChange(t, ch)
	if !got.AllRows() || !got.AllColumns() {
		t.Errorf("database change should be unknown-everything: %+v", got)
	}
}

func TestBroadcastHook(t *testing.T) {
	r := New(nil)
	hooked := make(chan Change, 1)
	r.SetBroadcastHook(func(c Change) { hooked <- c })

	r.Accumulate("post", pk(1), []string{"title"})

	select {
	case c := <-hooked:
		if c.Table != "post" {
			t.Errorf("broadcast table = %q", c.Table)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast hook never invoked")
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	r := New(nil)
	ch, cancel := r.Subscribe("post")
	cancel()

	r.Accumulate("post", pk(1), []string{"title"})
	time.Sleep(50 * time.Millisecond)

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after cancel")
		}
	default:
		t.Error("channel should be closed after cancel")
	}
}

func TestPerTableEvents(t *testing.T) {
	r := New(nil)
	posts, cancelP := r.Subscribe("post")
	defer cancelP()
	users, cancelU := r.Subscribe("user")
	defer cancelU()

	r.TransactionStarted(1)
	r.Accumulate("post", pk(1), []string{"title"})
	r.Accumulate("user", pk(9), []string{"name"})
	r.TransactionEnded(1)

	p := recvChange(t, posts)
	u := recvChange(t, users)
	if p.Table != "post" || u.Table != "user" {
		t.Errorf("events crossed tables: %q / %q", p.Table, u.Table)
	}
}
