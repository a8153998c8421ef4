// Package invariant runs the fixed catalogue of data-integrity checks
// against the business schema, computes the composite drift score, and
// feeds results into the incident manager, per spec section 4.4.
package invariant

import (
	"context"

	"github.com/nexus-retail/opsplane/storage"
)

// ViolationRecord is one counter-example a check produced.
type ViolationRecord struct {
	EntityID   string
	EntityType string
	ShopID     string
	Detail     map[string]interface{}
}

// Check is one entry in the invariant catalogue. Name is part of the
// external contract: it is referenced by drift-score weights, dashboards,
// and the deployment gate.
type Check struct {
	Name              string
	Priority          storage.Priority
	SafeToAutoCorrect bool
	Run               func(ctx context.Context) ([]ViolationRecord, error)
	AutoCorrect       func(ctx context.Context, violations []ViolationRecord) error
}

// Weight is the drift-score deduction weight for one invariant, per spec 4.4.
var Weight = map[string]float64{
	"NO_NEGATIVE_STOCK":               25,
	"SALE_TOTAL_MATCHES_LINE_ITEMS":   20,
	"PAYMENT_SUM_MATCHES_SALE_TOTAL":  20,
	"NO_DUPLICATE_INVOICES":           15,
	"STOCK_MOVEMENT_BALANCE":          10,
	"CREDIT_LIMIT_NOT_EXCEEDED":       7,
	"NO_ORPHANED_SALE_ITEMS":          3,
}

// DefaultWeight is used for any invariant name absent from Weight.
const DefaultWeight = 5

// Catalogue builds the seven required checks wired against biz, the
// read-only business-table repository.
func Catalogue(biz *storage.BusinessRepo) []Check {
	return []Check{
		noNegativeStockCheck(biz),
		saleTotalMatchesLineItemsCheck(biz),
		paymentSumMatchesSaleTotalCheck(biz),
		noDuplicateInvoicesCheck(biz),
		stockMovementBalanceCheck(biz),
		creditLimitNotExceededCheck(biz),
		noOrphanedSaleItemsCheck(biz),
	}
}
