package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxStore exposes the transactional operations the order services run inside
// a coordinator unit.
type TxStore interface {
	InsertOrder(ctx context.Context, o Order) (int64, error)
	InsertLine(ctx context.Context, line LineItem) (int64, error)
	InsertInstallment(ctx context.Context, inst Installment) (int64, error)
	GetOrderForUpdate(ctx context.Context, orderID int64) (Order, error)
	GetLines(ctx context.Context, orderID int64) ([]LineItem, error)
	GetInstallments(ctx context.Context, orderID int64) ([]Installment, error)
	UpdateStatus(ctx context.Context, orderID int64, status Status) error
	UpdateReservation(ctx context.Context, orderID int64, state ReservationState) error
	UpdatePayment(ctx context.Context, orderID int64, amountPaid, balanceDue decimal.Decimal) error
	UpdateMaterialCost(ctx context.Context, orderID int64, cost decimal.Decimal) error
	UpdateLineRealized(ctx context.Context, lineID int64, qtyRealized decimal.Decimal) error
	UpdateLineReserved(ctx context.Context, lineID int64, qtyReserved decimal.Decimal) error
	UpdateLinePrice(ctx context.Context, lineID int64, unitPrice decimal.Decimal) error
	UpdateInstallment(ctx context.Context, installmentID int64, status InstallmentStatus, amountPaid decimal.Decimal) error
}

// Repository provides lock-free reads used by handlers and the credit check.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const orderColumns = `id, number, type, status, COALESCE(supplier_id,0), COALESCE(customer_id,0), currency, exchange_rate, payment_term, reservation, subtotal, tax, total, amount_paid, balance_due, material_cost, note, created_by, created_at, updated_at`

// GetOrder returns the order with its lines and installments.
func (r *Repository) GetOrder(ctx context.Context, orderID int64) (Order, []LineItem, []Installment, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, orderID))
	if err != nil {
		return Order{}, nil, nil, err
	}
	q := querier{q: r.pool}
	lines, err := q.getLines(ctx, orderID)
	if err != nil {
		return Order{}, nil, nil, err
	}
	installments, err := q.getInstallments(ctx, orderID)
	if err != nil {
		return Order{}, nil, nil, err
	}
	return o, lines, installments, nil
}

// ListByStatus lists orders of one type in the given statuses, newest first.
func (r *Repository) ListByStatus(ctx context.Context, typ Type, statuses []Status, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = 100
	}
	set := make([]string, 0, len(statuses))
	for _, s := range statuses {
		set = append(set, string(s))
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE type=$1 AND status = ANY($2) ORDER BY id DESC LIMIT $3`, string(typ), set, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

// OutstandingExposure sums total minus paid over a customer's non-cancelled,
// non-fully-paid orders in one currency. Feeds the credit admission check.
func (r *Repository) OutstandingExposure(ctx context.Context, customerID int64, currency string) (decimal.Decimal, error) {
	var sum pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(total - amount_paid), 0) FROM orders
WHERE customer_id=$1 AND currency=$2 AND type=$3 AND status NOT IN ($4,$5,$6)`,
		customerID, currency, string(TypeSale), string(StatusCancelled), string(StatusPaid), string(StatusClosed)).Scan(&sum)
	if err != nil {
		return decimal.Zero, err
	}
	return numericToDecimal(sum), nil
}

// NewTxStore wraps a pgx transaction as a TxStore.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{querier{q: tx}}
}

type dbQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type querier struct {
	q dbQuerier
}

type txStore struct {
	querier
}

func (s *txStore) InsertOrder(ctx context.Context, o Order) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO orders (number, type, status, supplier_id, customer_id, currency, exchange_rate, payment_term, reservation, subtotal, tax, total, amount_paid, balance_due, material_cost, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,NULLIF($4,0),NULLIF($5,0),$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW(),NOW()) RETURNING id`,
		o.Number, string(o.Type), string(o.Status), o.SupplierID, o.CustomerID, o.Currency, decimalToNumeric(o.ExchangeRate), string(o.PaymentTerm), string(o.Reservation),
		decimalToNumeric(o.Subtotal), decimalToNumeric(o.Tax), decimalToNumeric(o.Total), decimalToNumeric(o.AmountPaid), decimalToNumeric(o.BalanceDue), decimalToNumeric(o.MaterialCost),
		o.Note, o.CreatedBy).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateNumber
		}
		return 0, err
	}
	return id, nil
}

func (s *txStore) InsertLine(ctx context.Context, line LineItem) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO order_lines (order_id, kind, item_id, description, qty_ordered, qty_realized, qty_reserved, unit_price, line_total)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		line.OrderID, string(line.Kind), line.ItemID, line.Description,
		decimalToNumeric(line.QtyOrdered), decimalToNumeric(line.QtyRealized), decimalToNumeric(line.QtyReserved),
		decimalToNumeric(line.UnitPrice), decimalToNumeric(line.LineTotal)).Scan(&id)
	return id, err
}

func (s *txStore) InsertInstallment(ctx context.Context, inst Installment) (int64, error) {
	var id int64
	err := s.q.QueryRow(ctx, `INSERT INTO installments (order_id, seq, amount, amount_paid, due_date, status)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		inst.OrderID, inst.Seq, decimalToNumeric(inst.Amount), decimalToNumeric(inst.AmountPaid), inst.DueDate, string(inst.Status)).Scan(&id)
	return id, err
}

func (s *txStore) GetOrderForUpdate(ctx context.Context, orderID int64) (Order, error) {
	return scanOrder(s.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1 FOR UPDATE`, orderID))
}

func (s *txStore) GetLines(ctx context.Context, orderID int64) ([]LineItem, error) {
	return s.getLines(ctx, orderID)
}

func (s *txStore) GetInstallments(ctx context.Context, orderID int64) ([]Installment, error) {
	return s.getInstallments(ctx, orderID)
}

func (s *txStore) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	return s.exec(ctx, `UPDATE orders SET status=$1, updated_at=NOW() WHERE id=$2`, string(status), orderID)
}

func (s *txStore) UpdateReservation(ctx context.Context, orderID int64, state ReservationState) error {
	return s.exec(ctx, `UPDATE orders SET reservation=$1, updated_at=NOW() WHERE id=$2`, string(state), orderID)
}

func (s *txStore) UpdatePayment(ctx context.Context, orderID int64, amountPaid, balanceDue decimal.Decimal) error {
	return s.exec(ctx, `UPDATE orders SET amount_paid=$1, balance_due=$2, updated_at=NOW() WHERE id=$3`,
		decimalToNumeric(amountPaid), decimalToNumeric(balanceDue), orderID)
}

func (s *txStore) UpdateMaterialCost(ctx context.Context, orderID int64, cost decimal.Decimal) error {
	return s.exec(ctx, `UPDATE orders SET material_cost=$1, updated_at=NOW() WHERE id=$2`, decimalToNumeric(cost), orderID)
}

func (s *txStore) UpdateLineRealized(ctx context.Context, lineID int64, qtyRealized decimal.Decimal) error {
	return s.exec(ctx, `UPDATE order_lines SET qty_realized=$1 WHERE id=$2`, decimalToNumeric(qtyRealized), lineID)
}

func (s *txStore) UpdateLineReserved(ctx context.Context, lineID int64, qtyReserved decimal.Decimal) error {
	return s.exec(ctx, `UPDATE order_lines SET qty_reserved=$1 WHERE id=$2`, decimalToNumeric(qtyReserved), lineID)
}

func (s *txStore) UpdateLinePrice(ctx context.Context, lineID int64, unitPrice decimal.Decimal) error {
	return s.exec(ctx, `UPDATE order_lines SET unit_price=$1 WHERE id=$2`, decimalToNumeric(unitPrice), lineID)
}

func (s *txStore) UpdateInstallment(ctx context.Context, installmentID int64, status InstallmentStatus, amountPaid decimal.Decimal) error {
	return s.exec(ctx, `UPDATE installments SET status=$1, amount_paid=$2 WHERE id=$3`, string(status), decimalToNumeric(amountPaid), installmentID)
}

func (s *txStore) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (q querier) getLines(ctx context.Context, orderID int64) ([]LineItem, error) {
	rows, err := q.q.Query(ctx, `SELECT id, order_id, kind, item_id, description, qty_ordered, qty_realized, qty_reserved, unit_price, line_total
FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineItem
	for rows.Next() {
		var line LineItem
		var ordered, realized, reserved, price, total pgtype.Numeric
		if err := rows.Scan(&line.ID, &line.OrderID, &line.Kind, &line.ItemID, &line.Description, &ordered, &realized, &reserved, &price, &total); err != nil {
			return nil, err
		}
		line.QtyOrdered = numericToDecimal(ordered)
		line.QtyRealized = numericToDecimal(realized)
		line.QtyReserved = numericToDecimal(reserved)
		line.UnitPrice = numericToDecimal(price)
		line.LineTotal = numericToDecimal(total)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (q querier) getInstallments(ctx context.Context, orderID int64) ([]Installment, error) {
	rows, err := q.q.Query(ctx, `SELECT id, order_id, seq, amount, amount_paid, due_date, status
FROM installments WHERE order_id=$1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var installments []Installment
	for rows.Next() {
		var inst Installment
		var amount, paid pgtype.Numeric
		if err := rows.Scan(&inst.ID, &inst.OrderID, &inst.Seq, &amount, &paid, &inst.DueDate, &inst.Status); err != nil {
			return nil, err
		}
		inst.Amount = numericToDecimal(amount)
		inst.AmountPaid = numericToDecimal(paid)
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var rate, subtotal, tax, total, paid, due, material pgtype.Numeric
	err := row.Scan(&o.ID, &o.Number, &o.Type, &o.Status, &o.SupplierID, &o.CustomerID, &o.Currency, &rate, &o.PaymentTerm, &o.Reservation,
		&subtotal, &tax, &total, &paid, &due, &material, &o.Note, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	o.ExchangeRate = numericToDecimal(rate)
	o.Subtotal = numericToDecimal(subtotal)
	o.Tax = numericToDecimal(tax)
	o.Total = numericToDecimal(total)
	o.AmountPaid = numericToDecimal(paid)
	o.BalanceDue = numericToDecimal(due)
	o.MaterialCost = numericToDecimal(material)
	return o, nil
}

func collectOrders(rows pgx.Rows) ([]Order, error) {
	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
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
