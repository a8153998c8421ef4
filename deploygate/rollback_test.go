package deploygate

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/perf"
	"github.com/nexus-retail/opsplane/storage"
)

func newTestWatcher(t *testing.T) (*Watcher, *recordingAlerter, *metrics.Registry, *perf.LatencyTracker, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := storage.NewForDB(sqlx.NewDb(db, "postgres"))
	logger := logging.New("deploygate-test", "error", "text")
	reg := metrics.New()
	alerter := &recordingAlerter{}
	mgr := incident.New(store.Incidents(), noopSnapshotter{}, alerter, logger, reg)
	lat := perf.NewLatencyTracker(reg)

	return NewWatcher(lat, reg, mgr, alerter, logger), alerter, reg, lat, mock
}

func TestEvaluateLockedNoBaselineActivityIsNotASpike(t *testing.T) {
	w, _, reg, _, _ := newTestWatcher(t)
	reg.Set(errorRateMetric, 0)

	spiking, _ := w.evaluateLocked()
	if spiking {
		t.Error("evaluateLocked() = spiking with zero baseline and zero current, want not spiking")
	}
}

func TestEvaluateLockedErrorRateFloorPreventsZeroBaselineVacuity(t *testing.T) {
	w, _, reg, _, _ := newTestWatcher(t)
	w.baselineErr = 0
	reg.Set(errorRateMetric, 0.001)

	spiking, _ := w.evaluateLocked()
	if spiking {
		t.Error("evaluateLocked() = spiking at 0.1%% with zero baseline, want the epsilon floor to hold it back")
	}
}

func TestEvaluateLockedErrorRateSpikeAboveFloor(t *testing.T) {
	w, _, reg, _, _ := newTestWatcher(t)
	w.baselineErr = 0
	reg.Set(errorRateMetric, 0.01)

	spiking, detail := w.evaluateLocked()
	if !spiking {
		t.Error("evaluateLocked() = not spiking at 1%% with zero baseline, want spiking (above the 0.5%% floor)")
	}
	if detail != "error rate spike" {
		t.Errorf("detail = %q, want %q", detail, "error rate spike")
	}
}

func TestEvaluateLockedLatencySpikeAboveFloorAndBaseline(t *testing.T) {
	w, _, _, lat, _ := newTestWatcher(t)
	for i := 0; i < 5; i++ {
		lat.Record("/sales", 100)
	}
	w.baselineP95["/sales"] = lat.P95("/sales")
	for i := 0; i < 5; i++ {
		lat.Record("/sales", 900)
	}

	spiking, detail := w.evaluateLocked()
	if !spiking {
		t.Error("evaluateLocked() = not spiking with p95 far above baseline and the 500ms floor, want spiking")
	}
	if detail != "latency spike on /sales" {
		t.Errorf("detail = %q, want %q", detail, "latency spike on /sales")
	}
}

func TestTickOpensWindowThenTriggersAfterSustainedSpike(t *testing.T) {
	w, alerter, reg, _, mock := newTestWatcher(t)
	mock.ExpectExec(`INSERT INTO incidents`).WillReturnResult(sqlmock.NewResult(1, 1))

	w.baselineErr = 0
	reg.Set(errorRateMetric, 0.01)

	fixedNow := time.Now()
	w.now = func() time.Time { return fixedNow }

	triggered := w.tick(context.Background(), func() error { return nil })
	if triggered {
		t.Fatal("tick() triggered on the first spike observation, want it to only open the window")
	}
	if len(alerter.calls) != 0 {
		t.Fatalf("alerts after first tick = %v, want none yet", alerter.calls)
	}

	w.now = func() time.Time { return fixedNow.Add(rollbackSpikeWindow + time.Second) }
	rolledBack := false
	triggered = w.tick(context.Background(), func() error { rolledBack = true; return nil })
	if !triggered {
		t.Fatal("tick() did not trigger after the spike persisted through the full window")
	}
	if !rolledBack {
		t.Error("rollback function was not invoked")
	}
	if len(alerter.calls) != 2 {
		t.Errorf("alerts = %v, want exactly 2 (the watcher's CRITICAL alert and the P1 incident's alert)", alerter.calls)
	}
}

func TestTickResetsWindowWhenConditionsClear(t *testing.T) {
	w, alerter, reg, _, _ := newTestWatcher(t)
	w.baselineErr = 0
	reg.Set(errorRateMetric, 0.01)

	fixedNow := time.Now()
	w.now = func() time.Time { return fixedNow }
	if triggered := w.tick(context.Background(), func() error { return nil }); triggered {
		t.Fatal("unexpected trigger on first tick")
	}

	reg.Set(errorRateMetric, 0)
	w.now = func() time.Time { return fixedNow.Add(10 * time.Second) }
	if triggered := w.tick(context.Background(), func() error { return nil }); triggered {
		t.Fatal("unexpected trigger once conditions cleared")
	}
	if !w.spikeStartedAt.IsZero() {
		t.Error("spikeStartedAt was not reset after conditions cleared")
	}

	reg.Set(errorRateMetric, 0.01)
	w.now = func() time.Time { return fixedNow.Add(rollbackSpikeWindow + 20*time.Second) }
	if triggered := w.tick(context.Background(), func() error { return nil }); triggered {
		t.Fatal("tick() triggered immediately after the window reset, want a fresh window to start")
	}
	if len(alerter.calls) != 0 {
		t.Errorf("alerts = %v, want none (window was reset, not sustained)", alerter.calls)
	}
}
