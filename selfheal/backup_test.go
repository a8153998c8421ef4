package selfheal

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

type noopSnapshotter struct{}

func (noopSnapshotter) Capture(ctx context.Context) (storage.JSONMap, error) {
	return storage.JSONMap{}, nil
}

type noopAlerter struct{}

func (noopAlerter) Alert(ctx context.Context, severity, title, body string, fields map[string]interface{}) {
}

func newTestIncidentManager(t *testing.T) (*incident.Manager, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	store := storage.NewForDB(sqlx.NewDb(db, "postgres"))
	logger := logging.New("backup-test", "error", "text")
	return incident.New(store.Incidents(), noopSnapshotter{}, noopAlerter{}, logger, metrics.New()), mock
}

func TestBackupValidatorRecordsPassedRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	store := storage.NewForDB(sqlx.NewDb(db, "postgres"))
	mock.ExpectExec(`INSERT INTO backup_validations`).WillReturnResult(sqlmock.NewResult(1, 1))

	incidents, _ := newTestIncidentManager(t)
	v := NewBackupValidator(store.Backups(), incidents, "sh", "-c",
		`echo '{"backupFile":"nightly.dump","sizeKb":2048,"checksum":"deadbeef","restoreTested":true,"driftClean":true}'`)

	result, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != storage.BackupPassed {
		t.Errorf("status = %v, want PASSED", result.Status)
	}
	if result.IncidentID != nil {
		t.Errorf("expected no incident for a passed run, got %v", *result.IncidentID)
	}
}

func TestBackupValidatorOpensIncidentOnFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	store := storage.NewForDB(sqlx.NewDb(db, "postgres"))
	mock.ExpectExec(`INSERT INTO backup_validations`).WillReturnResult(sqlmock.NewResult(1, 1))

	incidents, incMock := newTestIncidentManager(t)
	incMock.ExpectExec(`INSERT INTO incidents`).WillReturnResult(sqlmock.NewResult(1, 1))
	v := NewBackupValidator(store.Backups(), incidents, "sh", "-c",
		`echo '{"backupFile":"nightly.dump","sizeKb":2048,"checksum":"deadbeef","restoreTested":false,"driftClean":true}'`)

	result, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != storage.BackupFailed {
		t.Errorf("status = %v, want FAILED", result.Status)
	}
	if result.IncidentID == nil {
		t.Error("expected a P1 incident to be opened")
	}
}

func TestBackupValidatorOpensIncidentWhenCommandFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	defer db.Close()
	store := storage.NewForDB(sqlx.NewDb(db, "postgres"))
	mock.ExpectExec(`INSERT INTO backup_validations`).WillReturnResult(sqlmock.NewResult(1, 1))

	incidents, incMock := newTestIncidentManager(t)
	incMock.ExpectExec(`INSERT INTO incidents`).WillReturnResult(sqlmock.NewResult(1, 1))
	v := NewBackupValidator(store.Backups(), incidents, "sh", "-c", `exit 1`)

	result, err := v.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Status != storage.BackupFailed {
		t.Errorf("status = %v, want FAILED", result.Status)
	}
}
