package invariant

import (
	"context"

	"github.com/nexus-retail/opsplane/storage"
)

func noNegativeStockCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "NO_NEGATIVE_STOCK",
		Priority:          storage.PriorityP1,
		SafeToAutoCorrect: false,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.NegativeStock(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.StockID, EntityType: "stock", ShopID: row.ShopID,
					Detail: map[string]interface{}{"quantityOnHand": row.OnHand},
				})
			}
			return out, nil
		},
	}
}

func saleTotalMatchesLineItemsCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "SALE_TOTAL_MATCHES_LINE_ITEMS",
		Priority:          storage.PriorityP1,
		SafeToAutoCorrect: false,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.SaleTotalMismatches(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.SaleID, EntityType: "sale", ShopID: row.ShopID,
					Detail: map[string]interface{}{"total": row.Total, "linesTotal": row.LinesTotal},
				})
			}
			return out, nil
		},
	}
}

func paymentSumMatchesSaleTotalCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "PAYMENT_SUM_MATCHES_SALE_TOTAL",
		Priority:          storage.PriorityP1,
		SafeToAutoCorrect: false,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.PaymentMismatches(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.SaleID, EntityType: "sale", ShopID: row.ShopID,
					Detail: map[string]interface{}{"total": row.Total, "paidSum": row.PaidSum},
				})
			}
			return out, nil
		},
	}
}

func noDuplicateInvoicesCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "NO_DUPLICATE_INVOICES",
		Priority:          storage.PriorityP1,
		SafeToAutoCorrect: false,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.DuplicateInvoices(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.InvoiceNumber, EntityType: "invoice",
					Detail: map[string]interface{}{"count": row.Count},
				})
			}
			return out, nil
		},
	}
}

func stockMovementBalanceCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "STOCK_MOVEMENT_BALANCE",
		Priority:          storage.PriorityP2,
		SafeToAutoCorrect: false,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.StockMovementImbalances(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.StockID, EntityType: "stock", ShopID: row.ShopID,
					Detail: map[string]interface{}{"onHand": row.OnHand, "movementSum": row.MovementSum},
				})
			}
			return out, nil
		},
	}
}

func creditLimitNotExceededCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "CREDIT_LIMIT_NOT_EXCEEDED",
		Priority:          storage.PriorityP2,
		SafeToAutoCorrect: false,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.CreditLimitExceeded(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.CustomerID, EntityType: "customer",
					Detail: map[string]interface{}{"limit": row.CreditLimit, "outstanding": row.OutstandingCredit},
				})
			}
			return out, nil
		},
	}
}

func noOrphanedSaleItemsCheck(biz *storage.BusinessRepo) Check {
	return Check{
		Name:              "NO_ORPHANED_SALE_ITEMS",
		Priority:          storage.PriorityP3,
		SafeToAutoCorrect: true,
		Run: func(ctx context.Context) ([]ViolationRecord, error) {
			rows, err := biz.OrphanedSaleItems(ctx)
			if err != nil {
				return nil, err
			}
			out := make([]ViolationRecord, 0, len(rows))
			for _, row := range rows {
				out = append(out, ViolationRecord{
					EntityID: row.SaleItemID, EntityType: "sale_item",
					Detail: map[string]interface{}{"saleId": row.SaleID},
				})
			}
			return out, nil
		},
		AutoCorrect: func(ctx context.Context, violations []ViolationRecord) error {
			ids := make([]string, 0, len(violations))
			for _, v := range violations {
				ids = append(ids, v.EntityID)
			}
			return biz.DeleteOrphanedSaleItems(ctx, ids)
		},
	}
}
