package refdata

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads reference data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct returns product costing metadata with its bill of materials.
func (r *Repository) GetProduct(ctx context.Context, itemID int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, tracks_cost FROM stock_items WHERE id=$1`, itemID).Scan(&p.ItemID, &p.TracksCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT component_id, qty_per_unit FROM bill_of_materials WHERE item_id=$1 ORDER BY component_id`, itemID)
	if err != nil {
		return Product{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line BOMLine
		var qty pgtype.Numeric
		if err := rows.Scan(&line.ComponentID, &qty); err != nil {
			return Product{}, err
		}
		line.QtyPerUnit = numericToDecimal(qty)
		p.BillOfMaterials = append(p.BillOfMaterials, line)
	}
	return p, rows.Err()
}

// GetCustomer returns the customer's currency and optional credit limit.
func (r *Repository) GetCustomer(ctx context.Context, customerID int64) (Customer, error) {
	var c Customer
	var limit pgtype.Numeric
	err := r.pool.QueryRow(ctx, `SELECT id, currency, credit_limit FROM customers WHERE id=$1`, customerID).Scan(&c.ID, &c.Currency, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	if limit.Valid {
		d := numericToDecimal(limit)
		c.CreditLimit = &d
	}
	return c, nil
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
