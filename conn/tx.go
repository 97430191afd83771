package conn

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/larder-db/larder/metrics"
	"github.com/larder-db/larder/value"
)

// TxDecision is what a transaction body asks to happen at its end.
// Returning Rollback with a nil error is the sanctioned way to abort a
// transaction silently: the work is rolled back and no error reaches the
// caller.
type TxDecision int

const (
	Commit TxDecision = iota
	Rollback
)

// TxOutcome reports how a transaction ended.
type TxOutcome int

const (
	Committed TxOutcome = iota
	RolledBack
)

func (o TxOutcome) String() string {
	if o == Committed {
		return "committed"
	}
	return "rolled_back"
}

// Tx is an open (possibly nested) savepoint transaction. All methods
// execute on the owning connection; a Tx must not outlive its body
// function.
type Tx struct {
	conn *Conn
	id   int64
	name string
}

// ID returns the transaction's connection-scoped identifier.
func (tx *Tx) ID() int64 { return tx.id }

// Execute runs a statement inside the transaction.
func (tx *Tx) Execute(ctx context.Context, sql string, args ...any) (int64, error) {
	return tx.conn.Execute(ctx, sql, args...)
}

// ExecuteQuiet runs a statement inside the transaction without forwarding
// its row-level hook signals; see Conn.ExecuteQuiet.
func (tx *Tx) ExecuteQuiet(ctx context.Context, sql string, args ...any) (int64, error) {
	return tx.conn.ExecuteQuiet(ctx, sql, args...)
}

// Query runs a query inside the transaction.
func (tx *Tx) Query(ctx context.Context, sql string, args ...any) ([]value.Row, error) {
	return tx.conn.Query(ctx, sql, args...)
}

// Transaction nests a further savepoint inside tx. Nested transactions do
// not touch the writer semaphore and are invisible to the observer; only
// the outermost boundary gates change flushing.
func (tx *Tx) Transaction(ctx context.Context, fn func(*Tx) (TxDecision, error)) (TxOutcome, error) {
	return tx.conn.runSavepoint(ctx, fn, false)
}

// Transaction runs fn inside an outermost savepoint transaction. Top-level
// attempts from concurrent callers are serialized by the writer semaphore;
// code already inside a transaction must nest via Tx.Transaction instead.
//
// fn's decision controls the outcome: Commit releases the savepoint,
// Rollback rolls back silently (outcome RolledBack, nil error), and any
// returned error rolls back and propagates.
func (c *Conn) Transaction(ctx context.Context, fn func(*Tx) (TxDecision, error)) (TxOutcome, error) {
	if err := c.writerSem.Acquire(ctx, 1); err != nil {
		return RolledBack, err
	}
	defer c.writerSem.Release(1)
	return c.runSavepoint(ctx, fn, true)
}

func (c *Conn) runSavepoint(ctx context.Context, fn func(*Tx) (TxDecision, error), outer bool) (outcome TxOutcome, err error) {
	id := c.txSeq.Add(1)
	tx := &Tx{conn: c, id: id, name: fmt.Sprintf("larder_tx_%d", id)}

	if err := c.execRaw(ctx, `SAVEPOINT "`+tx.name+`"`); err != nil {
		return RolledBack, err
	}
	if outer && c.observerRef() != nil {
		c.observerRef().TransactionStarted(id)
	}

	settled := false
	defer func() {
		if !settled {
			// fn panicked; roll back before the panic unwinds further.
			c.rollbackSavepoint(tx.name)
			c.endTransaction(outer, id, true)
		}
	}()

	decision, err := fn(tx)
	settled = true

	switch {
	case err != nil:
		c.rollbackSavepoint(tx.name)
		c.endTransaction(outer, id, true)
		metrics.TransactionsTotal.WithLabelValues("error").Inc()
		return RolledBack, err
	case decision == Rollback:
		c.rollbackSavepoint(tx.name)
		c.endTransaction(outer, id, true)
		metrics.TransactionsTotal.WithLabelValues("rolled_back").Inc()
		return RolledBack, nil
	default:
		if err := c.execRaw(ctx, `RELEASE SAVEPOINT "`+tx.name+`"`); err != nil {
			c.rollbackSavepoint(tx.name)
			c.endTransaction(outer, id, true)
			return RolledBack, err
		}
		c.endTransaction(outer, id, false)
		metrics.TransactionsTotal.WithLabelValues("committed").Inc()
		return Committed, nil
	}
}

// rollbackSavepoint unwinds to the named savepoint and releases it. It
// runs outside any caller context so cleanup is not skipped on
// cancellation.
func (c *Conn) rollbackSavepoint(name string) {
	ctx := context.Background()
	if err := c.execRaw(ctx, `ROLLBACK TO SAVEPOINT "`+name+`"`); err != nil {
		c.log.Warn("rollback to savepoint failed", zap.String("savepoint", name), zap.Error(err))
		return
	}
	c.execRaw(ctx, `RELEASE SAVEPOINT "`+name+`"`)
}

func (c *Conn) endTransaction(outer bool, id int64, rolledBack bool) {
	if !outer {
		return
	}
	if obs := c.observerRef(); obs != nil {
		obs.TransactionEnded(id, rolledBack)
	}
}

func (c *Conn) observerRef() Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observer
}
