package sale

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/andino-erp/andino-erp/internal/orders"
	"github.com/andino-erp/andino-erp/internal/refdata"
)

// Policy decides what happens when a credit-term order would exceed the
// customer's limit.
type Policy string

const (
	// PolicyReject refuses the order.
	PolicyReject Policy = "reject"
	// PolicyWarn admits the order but logs the overrun.
	PolicyWarn Policy = "warn"
)

// CustomerPort looks up customer credit terms.
type CustomerPort interface {
	GetCustomer(ctx context.Context, customerID int64) (refdata.Customer, error)
}

// ExposurePort sums a customer's open balances in one currency.
type ExposurePort interface {
	OutstandingExposure(ctx context.Context, customerID int64, currency string) (decimal.Decimal, error)
}

// CreditChecker runs the admission check for non-cash sales orders.
// Customers without a configured limit are always admitted.
type CreditChecker struct {
	customers CustomerPort
	exposure  ExposurePort
	policy    Policy
	logger    *slog.Logger
}

// NewCreditChecker constructs the checker; an unknown policy falls back to
// reject so the strict behavior is the default.
func NewCreditChecker(customers CustomerPort, exposure ExposurePort, policy Policy, logger *slog.Logger) *CreditChecker {
	if policy != PolicyWarn {
		policy = PolicyReject
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CreditChecker{customers: customers, exposure: exposure, policy: policy, logger: logger}
}

// Check evaluates outstanding + proposedTotal against the customer's limit.
// Cash-term orders always pass.
func (c *CreditChecker) Check(ctx context.Context, customerID int64, currency string, proposedTotal decimal.Decimal, term orders.PaymentTerm) error {
	if term == orders.TermCash {
		return nil
	}
	customer, err := c.customers.GetCustomer(ctx, customerID)
	if err != nil {
		return err
	}
	if customer.CreditLimit == nil {
		return nil
	}
	outstanding, err := c.exposure.OutstandingExposure(ctx, customerID, currency)
	if err != nil {
		return err
	}
	projected := outstanding.Add(proposedTotal)
	if projected.LessThanOrEqual(*customer.CreditLimit) {
		return nil
	}
	if c.policy == PolicyWarn {
		c.logger.WarnContext(ctx, "credit limit exceeded, admitting per policy",
			"customer_id", customerID,
			"currency", currency,
			"outstanding", outstanding.String(),
			"proposed", proposedTotal.String(),
			"limit", customer.CreditLimit.String(),
		)
		return nil
	}
	return ErrCreditLimitExceeded
}
