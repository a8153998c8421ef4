package incident

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/nexus-retail/opsplane/storage"
)

// ForensicSnapshotter captures the diagnostic bundle attached to every
// newly created incident: current counts of negative-stock rows and
// payment-gap sales, active DB connections, process heap usage, and
// process uptime.
type ForensicSnapshotter struct {
	store     *storage.Store
	business  *storage.BusinessRepo
	startedAt time.Time
}

// NewForensicSnapshotter constructs the snapshotter, recording startedAt
// as the reference point for the uptime figure.
func NewForensicSnapshotter(store *storage.Store, startedAt time.Time) *ForensicSnapshotter {
	return &ForensicSnapshotter{store: store, business: store.Business(), startedAt: startedAt}
}

// processHeapMB reports this process's resident set size in MB via
// gopsutil. Returns 0 if the process table lookup fails.
func processHeapMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return float64(info.RSS) / (1024 * 1024)
}

// Capture gathers the forensic bundle. On any query failure it still
// returns a best-effort bundle: the manager falls back to
// {error:"snapshot_failed"} only when Capture returns an error.
func (f *ForensicSnapshotter) Capture(ctx context.Context) (storage.JSONMap, error) {
	negativeStock, err := f.business.NegativeStock(ctx)
	negativeStockCount := 0
	if err == nil {
		negativeStockCount = len(negativeStock)
	}

	paymentGaps, err := f.business.PaymentMismatches(ctx)
	paymentGapCount := 0
	if err == nil {
		paymentGapCount = len(paymentGaps)
	}

	heapMB := processHeapMB()

	dbConns := 0
	if f.store != nil {
		dbConns = f.store.DB().Stats().OpenConnections
	}

	return storage.JSONMap{
		"negativeStockCount":  negativeStockCount,
		"paymentGapCount":     paymentGapCount,
		"activeDbConnections": dbConns,
		"processHeapMb":       heapMB,
		"uptimeSeconds":       time.Since(f.startedAt).Seconds(),
	}, nil
}
