package stock

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists stock data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(ctx, NewTxStore(tx)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetItem returns a stock item without locking it. Reads feeding a mutation
// must go through TxStore.GetItemForUpdate instead.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, itemQuery+` WHERE id=$1`, itemID))
}

// ListMovements lists the movement trail for one item, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, item_id, kind, qty, unit_cost, on_hand_after, reserved_after, ref_module, COALESCE(ref_id,''), actor_id, note, posted_at
FROM stock_movements
WHERE item_id=$1 AND ($2::timestamptz IS NULL OR posted_at >= $2) AND ($3::timestamptz IS NULL OR posted_at <= $3)
AND ($4='' OR kind=$4) AND ($5='' OR ref_module=$5)
ORDER BY id DESC LIMIT $6`,
		filter.ItemID,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		string(filter.Kind),
		filter.RefModule,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var qty, cost, onHand, reserved pgtype.Numeric
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Kind, &qty, &cost, &onHand, &reserved, &m.RefModule, &m.RefID, &m.ActorID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Qty = numericToDecimal(qty)
		m.UnitCost = numericToDecimal(cost)
		m.OnHandAfter = numericToDecimal(onHand)
		m.ReservedAfter = numericToDecimal(reserved)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// Deactivate soft-deletes an item; history stays intact.
func (r *Repository) Deactivate(ctx context.Context, itemID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_items SET active=false, updated_at=NOW() WHERE id=$1`, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

const itemQuery = `SELECT id, sku, name, on_hand, reserved, unit_cost, tracks_cost, active, updated_at FROM stock_items`

// NewTxStore wraps a pgx transaction as a TxStore.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(s.tx.QueryRow(ctx, itemQuery+` WHERE id=$1 FOR UPDATE`, itemID))
}

func (s *txStore) UpdateItem(ctx context.Context, item Item) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_items SET on_hand=$1, reserved=$2, unit_cost=$3, updated_at=$4 WHERE id=$5`,
		decimalToNumeric(item.OnHand), decimalToNumeric(item.Reserved), decimalToNumeric(item.UnitCost), item.UpdatedAt, item.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (item_id, kind, qty, unit_cost, on_hand_after, reserved_after, ref_module, ref_id, actor_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9,$10,$11) RETURNING id`,
		m.ItemID, string(m.Kind), decimalToNumeric(m.Qty), decimalToNumeric(m.UnitCost), decimalToNumeric(m.OnHandAfter), decimalToNumeric(m.ReservedAfter),
		m.RefModule, m.RefID, m.ActorID, m.Note, m.PostedAt).Scan(&id)
	return id, err
}

func (s *txStore) ListMovementsByRef(ctx context.Context, itemID int64, refID string) ([]Movement, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, item_id, kind, qty, unit_cost, on_hand_after, reserved_after, ref_module, COALESCE(ref_id,''), actor_id, note, posted_at
FROM stock_movements WHERE item_id=$1 AND ref_id=$2 ORDER BY id`, itemID, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var qty, cost, onHand, reserved pgtype.Numeric
		if err := rows.Scan(&m.ID, &m.ItemID, &m.Kind, &qty, &cost, &onHand, &reserved, &m.RefModule, &m.RefID, &m.ActorID, &m.Note, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Qty = numericToDecimal(qty)
		m.UnitCost = numericToDecimal(cost)
		m.OnHandAfter = numericToDecimal(onHand)
		m.ReservedAfter = numericToDecimal(reserved)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	var onHand, reserved, cost pgtype.Numeric
	err := row.Scan(&item.ID, &item.SKU, &item.Name, &onHand, &reserved, &cost, &item.TracksCost, &item.Active, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	item.OnHand = numericToDecimal(onHand)
	item.Reserved = numericToDecimal(reserved)
	item.UnitCost = numericToDecimal(cost)
	return item, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func decimalToNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}
