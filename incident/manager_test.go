package incident

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

type noopSnapshotter struct{}

func (noopSnapshotter) Capture(ctx context.Context) (storage.JSONMap, error) {
	return storage.JSONMap{}, nil
}

type recordingAlerter struct {
	calls []string
}

func (a *recordingAlerter) Alert(ctx context.Context, severity, title, body string, fields map[string]interface{}) {
	a.calls = append(a.calls, severity+": "+title)
}

func newTestManager(t *testing.T) (*Manager, *recordingAlerter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewForDB(sqlx.NewDb(db, "postgres"))
	logger := logging.New("incident-test", "error", "text")
	reg := metrics.New()
	alerter := &recordingAlerter{}
	return New(store.Incidents(), noopSnapshotter{}, alerter, logger, reg), alerter, mock
}

func TestCreateIncidentPersistsAndAlertsAtPrioritySeverity(t *testing.T) {
	mgr, alerter, mock := newTestManager(t)
	mock.ExpectExec(`INSERT INTO incidents`).WillReturnResult(sqlmock.NewResult(1, 1))

	id, err := mgr.CreateIncident(context.Background(), CreateParams{
		Priority: storage.PriorityP1, Title: "Invariant violation: NO_NEGATIVE_STOCK",
	})
	if err != nil {
		t.Fatalf("CreateIncident() error = %v", err)
	}
	if id == "" {
		t.Error("CreateIncident() returned empty id")
	}
	if len(alerter.calls) != 1 || alerter.calls[0] != "CRITICAL: Invariant violation: NO_NEGATIVE_STOCK" {
		t.Errorf("alerts = %v, want one CRITICAL alert", alerter.calls)
	}
	if got := mgr.reg.Counter("incidents.created_total"); got != 1 {
		t.Errorf("incidents.created_total = %v, want 1", got)
	}
}

func TestCreateOrUpdateFromInvariantOpensNewIncidentOnFailure(t *testing.T) {
	mgr, _, mock := newTestManager(t)
	mock.ExpectQuery(`FROM incidents`).WillReturnRows(sqlmock.NewRows(
		[]string{"id", "priority", "status", "title", "invariant_name", "details", "forensic",
			"auto_heal_attempts", "auto_healed", "created_at", "updated_at"}))
	mock.ExpectExec(`INSERT INTO incidents`).WillReturnResult(sqlmock.NewResult(1, 1))

	err := mgr.CreateOrUpdateFromInvariant(context.Background(), InvariantResult{
		Name: "NO_NEGATIVE_STOCK", Passed: false, ViolationCount: 1, Priority: storage.PriorityP1,
	})
	if err != nil {
		t.Fatalf("CreateOrUpdateFromInvariant() error = %v", err)
	}
}

func TestCreateOrUpdateFromInvariantNoOpWhenPassingAndNoExisting(t *testing.T) {
	mgr, _, mock := newTestManager(t)
	mock.ExpectQuery(`FROM incidents`).WillReturnRows(sqlmock.NewRows(
		[]string{"id", "priority", "status", "title", "invariant_name", "details", "forensic",
			"auto_heal_attempts", "auto_healed", "created_at", "updated_at"}))

	err := mgr.CreateOrUpdateFromInvariant(context.Background(), InvariantResult{
		Name: "NO_NEGATIVE_STOCK", Passed: true,
	})
	if err != nil {
		t.Fatalf("CreateOrUpdateFromInvariant() error = %v", err)
	}
}

func incidentRow(id string, status storage.IncidentStatus, attempts int, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows(
		[]string{"id", "priority", "status", "title", "invariant_name", "details", "forensic",
			"auto_heal_attempts", "auto_healed", "created_at", "updated_at"}).
		AddRow(id, storage.PriorityP2, status, "t", nil, []byte(`{}`), []byte(`{}`), attempts, false, createdAt, createdAt)
}

func TestIncrementHealAttemptsEscalatesAtThreshold(t *testing.T) {
	mgr, alerter, mock := newTestManager(t)
	now := time.Now()

	mock.ExpectQuery(`FROM incidents`).WillReturnRows(incidentRow("i1", storage.IncidentAutoHealing, 2, now))
	mock.ExpectExec(`UPDATE incidents`).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(`FROM incidents`).WillReturnRows(incidentRow("i1", storage.IncidentAutoHealing, 3, now))
	mock.ExpectExec(`UPDATE incidents`).WillReturnResult(sqlmock.NewResult(1, 1))

	err := mgr.IncrementHealAttempts(context.Background(), "i1", InvariantResult{ViolationCount: 1})
	if err != nil {
		t.Fatalf("IncrementHealAttempts() error = %v", err)
	}
	if len(alerter.calls) != 1 {
		t.Fatalf("alerts = %v, want exactly one escalation alert", alerter.calls)
	}
}

func TestEscalateIsIdempotent(t *testing.T) {
	mgr, alerter, mock := newTestManager(t)
	now := time.Now()

	mock.ExpectQuery(`FROM incidents`).WillReturnRows(incidentRow("i1", storage.IncidentOpen, 0, now))
	mock.ExpectExec(`UPDATE incidents`).WillReturnResult(sqlmock.NewResult(1, 1))

	if err := mgr.Escalate(context.Background(), "i1", "reason"); err != nil {
		t.Fatalf("first Escalate() error = %v", err)
	}

	mock.ExpectQuery(`FROM incidents`).WillReturnRows(incidentRow("i1", storage.IncidentEscalated, 0, now))
	if err := mgr.Escalate(context.Background(), "i1", "reason again"); err != nil {
		t.Fatalf("second Escalate() error = %v", err)
	}

	if len(alerter.calls) != 1 {
		t.Errorf("alerts = %v, want exactly one (escalation is idempotent)", alerter.calls)
	}
}

func TestAutoResolveSkipsTerminalIncident(t *testing.T) {
	mgr, _, mock := newTestManager(t)
	now := time.Now()
	mock.ExpectQuery(`FROM incidents`).WillReturnRows(incidentRow("i1", storage.IncidentResolved, 0, now))

	if err := mgr.AutoResolve(context.Background(), "i1", "already resolved"); err != nil {
		t.Fatalf("AutoResolve() on terminal incident error = %v", err)
	}
	if got := mgr.reg.Counter("incidents.auto_resolved_total"); got != 0 {
		t.Errorf("auto_resolved_total = %v, want 0 (no-op on terminal status)", got)
	}
}

func TestGetOpenP1Count(t *testing.T) {
	mgr, _, mock := newTestManager(t)
	mock.ExpectQuery(`FROM incidents`).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := mgr.GetOpenP1Count(context.Background())
	if err != nil {
		t.Fatalf("GetOpenP1Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("GetOpenP1Count() = %d, want 2", count)
	}
}
