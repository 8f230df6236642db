// Package refdata serves validated reference data to the order flows:
// product costing flags, bills of materials and customer credit terms. It is
// a read-only collaborator; nothing here mutates engine state.
package refdata

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Product carries the costing metadata the stock flows need.
type Product struct {
	ItemID     int64
	TracksCost bool
	// BillOfMaterials is nil for items bought or built without a recipe.
	BillOfMaterials []BOMLine
}

// RequiresProduction reports whether the item is built from components and
// therefore cannot be soft-reserved.
func (p Product) RequiresProduction() bool {
	return len(p.BillOfMaterials) > 0
}

// BOMLine is one component of a recipe, quantified per unit of output.
type BOMLine struct {
	ComponentID int64
	QtyPerUnit  decimal.Decimal
}

// Customer carries credit terms for the admission check.
type Customer struct {
	ID       int64
	Currency string
	// CreditLimit is nil when no limit is configured; such customers are
	// always admitted.
	CreditLimit *decimal.Decimal
}

// ErrProductNotFound indicates missing product metadata.
var ErrProductNotFound = errors.New("refdata: product not found")

// ErrCustomerNotFound indicates missing customer master data.
var ErrCustomerNotFound = errors.New("refdata: customer not found")
