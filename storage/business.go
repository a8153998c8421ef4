package storage

import (
	"context"

	"github.com/nexus-retail/opsplane/infrastructure/errors"
)

// BusinessRepo is a read-only view over the application's own business
// tables (stock, sale, sale_item, invoice, customer, stock_movement). The
// control plane does not own this schema; it only queries it to evaluate
// invariants. Column names below reflect the minimal shape those tables
// are assumed to expose.
type BusinessRepo struct {
	s *Store
}

func (s *Store) Business() *BusinessRepo { return &BusinessRepo{s: s} }

// NegativeStockRow is one stock row violating NO_NEGATIVE_STOCK.
type NegativeStockRow struct {
	StockID  string `db:"id"`
	ShopID   string `db:"shop_id"`
	OnHand   int64  `db:"quantity_on_hand"`
}

// NegativeStock returns stock rows with on-hand quantity below zero.
func (r *BusinessRepo) NegativeStock(ctx context.Context) ([]NegativeStockRow, error) {
	const q = `SELECT id, shop_id, quantity_on_hand FROM stock WHERE quantity_on_hand < 0`
	var out []NegativeStockRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query negative stock", err)
	}
	return out, nil
}

// SaleTotalMismatchRow is one confirmed sale whose total disagrees with its
// line items by more than one minor unit.
type SaleTotalMismatchRow struct {
	SaleID     string `db:"id"`
	ShopID     string `db:"shop_id"`
	Total      int64  `db:"total_amount"`
	LinesTotal int64  `db:"lines_total"`
}

// SaleTotalMismatches returns confirmed sales where total != sum(line totals).
func (r *BusinessRepo) SaleTotalMismatches(ctx context.Context) ([]SaleTotalMismatchRow, error) {
	const q = `
		SELECT s.id, s.shop_id, s.total_amount,
		       COALESCE(SUM(si.line_total), 0) AS lines_total
		FROM sale s
		JOIN sale_item si ON si.sale_id = s.id
		WHERE s.status = 'confirmed'
		GROUP BY s.id, s.shop_id, s.total_amount
		HAVING ABS(s.total_amount - COALESCE(SUM(si.line_total), 0)) > 1`
	var out []SaleTotalMismatchRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query sale total mismatches", err)
	}
	return out, nil
}

// PaymentMismatchRow is one confirmed sale whose paid+credit disagrees with
// its total by more than one minor unit.
type PaymentMismatchRow struct {
	SaleID    string `db:"id"`
	ShopID    string `db:"shop_id"`
	Total     int64  `db:"total_amount"`
	PaidSum   int64  `db:"paid_sum"`
}

// PaymentMismatches returns confirmed sales where paid+credit != total.
func (r *BusinessRepo) PaymentMismatches(ctx context.Context) ([]PaymentMismatchRow, error) {
	const q = `
		SELECT s.id, s.shop_id, s.total_amount,
		       (COALESCE(s.amount_paid, 0) + COALESCE(s.amount_credit, 0)) AS paid_sum
		FROM sale s
		WHERE s.status = 'confirmed'
		  AND ABS(s.total_amount - (COALESCE(s.amount_paid, 0) + COALESCE(s.amount_credit, 0))) > 1`
	var out []PaymentMismatchRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query payment mismatches", err)
	}
	return out, nil
}

// DuplicateInvoiceRow is one invoice number occurring more than once.
type DuplicateInvoiceRow struct {
	InvoiceNumber string `db:"invoice_number"`
	Count         int64  `db:"cnt"`
}

// DuplicateInvoices returns invoice numbers with more than one row.
func (r *BusinessRepo) DuplicateInvoices(ctx context.Context) ([]DuplicateInvoiceRow, error) {
	const q = `
		SELECT invoice_number, COUNT(*) AS cnt
		FROM invoice
		GROUP BY invoice_number
		HAVING COUNT(*) > 1`
	var out []DuplicateInvoiceRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query duplicate invoices", err)
	}
	return out, nil
}

// StockMovementImbalanceRow is one stock row whose on-hand quantity
// disagrees with the sum of its movement deltas.
type StockMovementImbalanceRow struct {
	StockID     string `db:"id"`
	ShopID      string `db:"shop_id"`
	OnHand      int64  `db:"quantity_on_hand"`
	MovementSum int64  `db:"movement_sum"`
}

// StockMovementImbalances returns stock rows where on-hand != sum(deltas).
func (r *BusinessRepo) StockMovementImbalances(ctx context.Context) ([]StockMovementImbalanceRow, error) {
	const q = `
		SELECT st.id, st.shop_id, st.quantity_on_hand,
		       COALESCE(SUM(sm.delta), 0) AS movement_sum
		FROM stock st
		LEFT JOIN stock_movement sm ON sm.stock_id = st.id
		GROUP BY st.id, st.shop_id, st.quantity_on_hand
		HAVING st.quantity_on_hand != COALESCE(SUM(sm.delta), 0)`
	var out []StockMovementImbalanceRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query stock movement imbalances", err)
	}
	return out, nil
}

// CreditLimitExceededRow is one customer whose outstanding credit exceeds
// 105% of their limit.
type CreditLimitExceededRow struct {
	CustomerID      string  `db:"id"`
	CreditLimit     int64   `db:"credit_limit"`
	OutstandingCredit int64 `db:"outstanding_credit"`
}

// CreditLimitExceeded returns customers over their tolerance-adjusted limit.
func (r *BusinessRepo) CreditLimitExceeded(ctx context.Context) ([]CreditLimitExceededRow, error) {
	const q = `
		SELECT id, credit_limit, outstanding_credit
		FROM customer
		WHERE credit_limit > 0 AND outstanding_credit > credit_limit * 1.05`
	var out []CreditLimitExceededRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query credit limit exceeded", err)
	}
	return out, nil
}

// OrphanedSaleItemRow is one sale item referencing a non-existent sale.
type OrphanedSaleItemRow struct {
	SaleItemID string `db:"id"`
	SaleID     string `db:"sale_id"`
}

// OrphanedSaleItems returns sale items whose sale_id has no matching sale.
func (r *BusinessRepo) OrphanedSaleItems(ctx context.Context) ([]OrphanedSaleItemRow, error) {
	const q = `
		SELECT si.id, si.sale_id
		FROM sale_item si
		LEFT JOIN sale s ON s.id = si.sale_id
		WHERE s.id IS NULL`
	var out []OrphanedSaleItemRow
	if err := r.s.db.SelectContext(ctx, &out, q); err != nil {
		return nil, errors.DatabaseError("query orphaned sale items", err)
	}
	return out, nil
}

// DeleteOrphanedSaleItems removes the given sale item ids; used by the
// NO_ORPHANED_SALE_ITEMS auto-correct action.
func (r *BusinessRepo) DeleteOrphanedSaleItems(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := r.s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.DatabaseError("begin delete orphaned sale items", err)
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sale_item WHERE id = $1`, id); err != nil {
			tx.Rollback()
			return errors.DatabaseError("delete orphaned sale item", err)
		}
	}
	return tx.Commit()
}

// RapidFireUser is one user with many confirmed sales in a short window.
type RapidFireUser struct {
	UserID string `db:"user_id"`
	Count  int64  `db:"cnt"`
}

// RapidFireSales returns users with more than minCount confirmed sales in
// the trailing window.
func (r *BusinessRepo) RapidFireSales(ctx context.Context, minCount int64) ([]RapidFireUser, error) {
	const q = `
		SELECT user_id, COUNT(*) AS cnt
		FROM sale
		WHERE status = 'confirmed' AND created_at > now() - interval '5 minutes'
		GROUP BY user_id
		HAVING COUNT(*) > $1`
	var out []RapidFireUser
	if err := r.s.db.SelectContext(ctx, &out, q, minCount); err != nil {
		return nil, errors.DatabaseError("query rapid fire sales", err)
	}
	return out, nil
}

// LargeTransaction is one confirmed sale above a large-value threshold.
type LargeTransaction struct {
	SaleID string `db:"id"`
	ShopID string `db:"shop_id"`
	Total  int64  `db:"total_amount"`
}

// LargeTransactions returns confirmed sales above thresholdMinorUnits in
// the last 24 hours.
func (r *BusinessRepo) LargeTransactions(ctx context.Context, thresholdMinorUnits int64) ([]LargeTransaction, error) {
	const q = `
		SELECT id, shop_id, total_amount
		FROM sale
		WHERE status = 'confirmed' AND created_at > now() - interval '24 hours'
		  AND total_amount > $1`
	var out []LargeTransaction
	if err := r.s.db.SelectContext(ctx, &out, q, thresholdMinorUnits); err != nil {
		return nil, errors.DatabaseError("query large transactions", err)
	}
	return out, nil
}

// VoidSpikeShop is one shop whose voided fraction of confirmed sales
// exceeded the tolerance in the trailing hour.
type VoidSpikeShop struct {
	ShopID      string  `db:"shop_id"`
	VoidedCount int64   `db:"voided_count"`
	TotalCount  int64   `db:"total_count"`
}

// VoidSpikes returns shops with >= minSales sales in the last hour where
// the voided fraction exceeds voidFraction.
func (r *BusinessRepo) VoidSpikes(ctx context.Context, minSales int64, voidFraction float64) ([]VoidSpikeShop, error) {
	const q = `
		SELECT shop_id,
		       COUNT(*) FILTER (WHERE status = 'voided') AS voided_count,
		       COUNT(*) AS total_count
		FROM sale
		WHERE created_at > now() - interval '1 hour'
		GROUP BY shop_id
		HAVING COUNT(*) >= $1
		   AND COUNT(*) FILTER (WHERE status = 'voided')::float8 / COUNT(*) > $2`
	var out []VoidSpikeShop
	if err := r.s.db.SelectContext(ctx, &out, q, minSales, voidFraction); err != nil {
		return nil, errors.DatabaseError("query void spikes", err)
	}
	return out, nil
}
