package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

const (
	rapidFireMinCount      = 20
	rapidFireBlockDuration = 60 * time.Minute
	voidSpikeMinSales      = 5
	voidSpikeFraction      = 0.10
)

// Scanner runs the three SQL-backed analytic pattern checks on a schedule
// and reacts to each, per spec section 4.5.
type Scanner struct {
	biz                 *storage.BusinessRepo
	events               *storage.SecurityRepo
	blocklist            *BlockList
	incidents            *incident.Manager
	logger               *logging.Logger
	reg                  *metrics.Registry
	largeTxThresholdMinor int64
	now                  func() time.Time
}

// NewScanner constructs the pattern scanner. largeTxThresholdMinorUnits is
// the minor-currency-unit threshold for the LARGE_TRANSACTION check.
func NewScanner(biz *storage.BusinessRepo, events *storage.SecurityRepo, blocklist *BlockList, incidents *incident.Manager, logger *logging.Logger, reg *metrics.Registry, largeTxThresholdMinorUnits int64) *Scanner {
	return &Scanner{
		biz: biz, events: events, blocklist: blocklist, incidents: incidents,
		logger: logger, reg: reg, largeTxThresholdMinor: largeTxThresholdMinorUnits, now: time.Now,
	}
}

// Scan runs all three analytic checks once.
func (s *Scanner) Scan(ctx context.Context) error {
	if err := s.scanLargeTransactions(ctx); err != nil {
		return err
	}
	if err := s.scanRapidFireSales(ctx); err != nil {
		return err
	}
	if err := s.scanVoidSpikes(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Scanner) scanLargeTransactions(ctx context.Context) error {
	rows, err := s.biz.LargeTransactions(ctx, s.largeTxThresholdMinor)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.logger.LogSecurityEvent(ctx, "LARGE_TRANSACTION", map[string]interface{}{
			"saleId": row.SaleID, "shopId": row.ShopID, "amount": row.Total,
		})
		if err := s.events.InsertEvent(ctx, &storage.SecurityEvent{
			ID: uuid.New().String(), EventType: "LARGE_TRANSACTION", Severity: "MEDIUM",
			Details: storage.JSONMap{"saleId": row.SaleID, "shopId": row.ShopID, "amount": row.Total},
			CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		s.reg.Increment("security.large_transaction_total")
	}
	return nil
}

func (s *Scanner) scanRapidFireSales(ctx context.Context) error {
	rows, err := s.biz.RapidFireSales(ctx, rapidFireMinCount)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.logger.LogSecurityEvent(ctx, "RAPID_FIRE_SALES", map[string]interface{}{
			"userId": row.UserID, "count": row.Count,
		})
		if err := s.events.InsertEvent(ctx, &storage.SecurityEvent{
			ID: uuid.New().String(), EventType: "RAPID_FIRE_SALES", Severity: "HIGH", UserID: &row.UserID,
			Details: storage.JSONMap{"count": row.Count}, AutoBlocked: true, CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		if err := s.blocklist.Block(ctx, row.UserID, "user", "rapid fire sales", rapidFireBlockDuration); err != nil {
			return err
		}
		s.reg.Increment("security.rapid_fire_blocked_total")
	}
	return nil
}

func (s *Scanner) scanVoidSpikes(ctx context.Context) error {
	rows, err := s.biz.VoidSpikes(ctx, voidSpikeMinSales, voidSpikeFraction)
	if err != nil {
		return err
	}
	for _, row := range rows {
		s.logger.LogSecurityEvent(ctx, "VOID_SPIKE", map[string]interface{}{
			"shopId": row.ShopID, "voided": row.VoidedCount, "total": row.TotalCount,
		})
		if err := s.events.InsertEvent(ctx, &storage.SecurityEvent{
			ID: uuid.New().String(), EventType: "VOID_SPIKE", Severity: "HIGH",
			Details: storage.JSONMap{"shopId": row.ShopID, "voided": row.VoidedCount, "total": row.TotalCount},
			CreatedAt: s.now(),
		}); err != nil {
			return err
		}
		if _, err := s.incidents.CreateIncident(ctx, incident.CreateParams{
			Priority: storage.PriorityP2,
			Title:    "VOID_SPIKE in shop " + row.ShopID,
			Details:  storage.JSONMap{"shopId": row.ShopID, "voided": row.VoidedCount, "total": row.TotalCount},
		}); err != nil {
			return err
		}
		s.reg.Increment("security.void_spike_incidents_total")
	}
	return nil
}
