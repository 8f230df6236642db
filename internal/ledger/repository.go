package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists payment accounts and their movement trail in PostgreSQL.
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

const accountQuery = `SELECT id, name, currency, kind, balance, credit_limit, active, updated_at FROM payment_accounts`

// GetAccount returns an account without locking it.
func (r *Repository) GetAccount(ctx context.Context, accountID int64) (Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, accountQuery+` WHERE id=$1`, accountID))
}

// ListMovements lists the movement trail for one account, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, account_id, direction, amount, balance_before, balance_after, COALESCE(order_id,0), COALESCE(installment_id,0), actor_id, memo, posted_at
FROM account_movements
WHERE account_id=$1 AND ($2::timestamptz IS NULL OR posted_at >= $2) AND ($3::timestamptz IS NULL OR posted_at <= $3)
ORDER BY id DESC LIMIT $4`,
		filter.AccountID,
		pgtype.Timestamptz{Time: filter.From, Valid: !filter.From.IsZero()},
		pgtype.Timestamptz{Time: filter.To, Valid: !filter.To.IsZero()},
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var movements []Movement
	for rows.Next() {
		var m Movement
		var amount, before, after pgtype.Numeric
		if err := rows.Scan(&m.ID, &m.AccountID, &m.Direction, &amount, &before, &after, &m.OrderID, &m.InstallmentID, &m.ActorID, &m.Memo, &m.PostedAt); err != nil {
			return nil, err
		}
		m.Amount = numericToDecimal(amount)
		m.BalanceBefore = numericToDecimal(before)
		m.BalanceAfter = numericToDecimal(after)
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// Deactivate soft-deletes an account; its movement history is permanent.
func (r *Repository) Deactivate(ctx context.Context, accountID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE payment_accounts SET active=false, updated_at=NOW() WHERE id=$1`, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// NewTxStore wraps a pgx transaction as a TxStore.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) GetAccountForUpdate(ctx context.Context, accountID int64) (Account, error) {
	return scanAccount(s.tx.QueryRow(ctx, accountQuery+` WHERE id=$1 FOR UPDATE`, accountID))
}

func (s *txStore) UpdateBalance(ctx context.Context, accountID int64, balance decimal.Decimal, at time.Time) error {
	tag, err := s.tx.Exec(ctx, `UPDATE payment_accounts SET balance=$1, updated_at=$2 WHERE id=$3`,
		decimalToNumeric(balance), at, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO account_movements (account_id, direction, amount, balance_before, balance_after, order_id, installment_id, actor_id, memo, posted_at)
VALUES ($1,$2,$3,$4,$5,NULLIF($6,0),NULLIF($7,0),$8,$9,$10) RETURNING id`,
		m.AccountID, string(m.Direction), decimalToNumeric(m.Amount), decimalToNumeric(m.BalanceBefore), decimalToNumeric(m.BalanceAfter),
		m.OrderID, m.InstallmentID, m.ActorID, m.Memo, m.PostedAt).Scan(&id)
	return id, err
}

func scanAccount(row pgx.Row) (Account, error) {
	var account Account
	var balance, limit pgtype.Numeric
	err := row.Scan(&account.ID, &account.Name, &account.Currency, &account.Kind, &balance, &limit, &account.Active, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	account.Balance = numericToDecimal(balance)
	account.CreditLimit = numericToDecimal(limit)
	return account, nil
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
