// Package engine runs multi-entity commands as single atomic units. A unit
// locks every stock item, payment account and order it will mutate in one
// globally consistent order, applies the mutation steps, and commits or rolls
// back as a whole; partial application is never observable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/andino-erp/andino-erp/internal/ledger"
	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/shared"
	"github.com/andino-erp/andino-erp/internal/stock"
)

// LockKind names a lockable entity kind. Kinds sort among themselves so the
// global lock order is (kind, id) ascending across every unit.
type LockKind string

const (
	LockStockItem LockKind = "stock_item"
	LockAccount   LockKind = "payment_account"
	LockOrder     LockKind = "order"
)

var lockTables = map[LockKind]string{
	LockStockItem: "stock_items",
	LockAccount:   "payment_accounts",
	LockOrder:     "orders",
}

// Lock identifies one row a unit will mutate.
type Lock struct {
	Kind LockKind
	ID   int64
}

// SortLocks orders and deduplicates locks into the global acquisition order.
func SortLocks(locks []Lock) []Lock {
	sorted := make([]Lock, 0, len(locks))
	seen := make(map[Lock]bool, len(locks))
	for _, l := range locks {
		if !seen[l] {
			seen[l] = true
			sorted = append(sorted, l)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// UnitStores gives mutation steps access to the tx-scoped stores. Everything
// obtained here shares one transaction and dies with it.
type UnitStores interface {
	Stock() stock.TxStore
	Accounts() ledger.TxStore
	Orders() orders.TxStore
}

// Runner executes one atomic unit. Implemented by Coordinator; tests provide
// in-memory runners.
type Runner interface {
	Execute(ctx context.Context, locks []Lock, fn func(ctx context.Context, st UnitStores) error) error
}

// Coordinator is the PostgreSQL-backed Runner.
type Coordinator struct {
	pool     *pgxpool.Pool
	lockWait time.Duration
}

// NewCoordinator constructs a Coordinator. lockWait bounds how long a unit
// waits on a contended row before failing with shared.ErrLockTimeout.
func NewCoordinator(pool *pgxpool.Pool, lockWait time.Duration) *Coordinator {
	if lockWait <= 0 {
		lockWait = 5 * time.Second
	}
	return &Coordinator{pool: pool, lockWait: lockWait}
}

// Execute runs fn inside one repeatable-read transaction after acquiring the
// requested row locks in global order. Any error from fn, including domain
// errors, rolls the whole unit back and is surfaced unchanged.
func (c *Coordinator) Execute(ctx context.Context, locks []Lock, fn func(ctx context.Context, st UnitStores) error) error {
	tx, err := c.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("engine: begin unit: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.lockWait.Milliseconds())); err != nil {
		return fmt.Errorf("engine: set lock timeout: %w", err)
	}
	for _, l := range SortLocks(locks) {
		table, ok := lockTables[l.Kind]
		if !ok {
			return fmt.Errorf("engine: unknown lock kind %q", l.Kind)
		}
		var id int64
		err := tx.QueryRow(ctx, `SELECT id FROM `+table+` WHERE id=$1 FOR UPDATE`, l.ID).Scan(&id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return notFoundFor(l.Kind)
			}
			return mapLockError(err)
		}
	}

	if err := fn(ctx, unitStores{tx: tx}); err != nil {
		return mapLockError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("engine: commit unit: %w", err)
	}
	return nil
}

type unitStores struct {
	tx pgx.Tx
}

func (u unitStores) Stock() stock.TxStore      { return stock.NewTxStore(u.tx) }
func (u unitStores) Accounts() ledger.TxStore  { return ledger.NewTxStore(u.tx) }
func (u unitStores) Orders() orders.TxStore    { return orders.NewTxStore(u.tx) }

func notFoundFor(kind LockKind) error {
	switch kind {
	case LockStockItem:
		return stock.ErrItemNotFound
	case LockAccount:
		return ledger.ErrAccountNotFound
	default:
		return orders.ErrNotFound
	}
}

// mapLockError translates the storage engine's lock-wait failure into the
// domain error callers are told to expect.
func mapLockError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "55P03" {
		return shared.ErrLockTimeout
	}
	return err
}
