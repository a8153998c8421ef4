package selfheal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/storage"
)

const backupCommandTimeout = 10 * time.Minute

// backupCommandResult is the JSON contract the external backup shell
// utility is expected to print on stdout: size/checksum/restore-test/
// drift-check results for the backup it just produced or verified. The
// dump/restore mechanics themselves are owned by that external command,
// not this engine.
type backupCommandResult struct {
	BackupFile    string `json:"backupFile"`
	SizeKB        int64  `json:"sizeKb"`
	Checksum      string `json:"checksum"`
	RestoreTested bool   `json:"restoreTested"`
	DriftClean    bool   `json:"driftClean"`
}

// BackupValidator runs the configured external backup-validation command,
// records the outcome, and opens a P1 incident on failure.
type BackupValidator struct {
	repo      *storage.BackupRepo
	incidents *incident.Manager
	name      string
	args      []string
	now       func() time.Time
}

// NewBackupValidator builds a validator that shells out to name with args
// once per run, the same externally-driven pattern deploygate's coverage
// reporter uses for `go test -cover`.
func NewBackupValidator(repo *storage.BackupRepo, incidents *incident.Manager, name string, args ...string) *BackupValidator {
	return &BackupValidator{repo: repo, incidents: incidents, name: name, args: args, now: time.Now}
}

// Run executes the backup command, persists a BackupValidation row, and
// opens a P1 incident if the command failed or reported an unhealthy
// backup. The row's terminal status never reverts once written.
func (v *BackupValidator) Run(ctx context.Context) (*storage.BackupValidation, error) {
	cctx, cancel := context.WithTimeout(ctx, backupCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, v.name, v.args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()

	record := &storage.BackupValidation{
		ID:          uuid.NewString(),
		ValidatedAt: v.now(),
		Status:      storage.BackupFailed,
	}

	var result backupCommandResult
	if runErr == nil {
		runErr = json.Unmarshal(out.Bytes(), &result)
	}

	if runErr == nil && result.RestoreTested && result.DriftClean {
		record.Status = storage.BackupPassed
	}
	record.BackupFile = result.BackupFile
	record.SizeKB = result.SizeKB
	record.Checksum = result.Checksum
	record.RestoreTested = result.RestoreTested
	record.DriftClean = result.DriftClean

	if record.Status == storage.BackupFailed {
		incidentID, incErr := v.incidents.CreateIncident(ctx, incident.CreateParams{
			Priority: storage.PriorityP1,
			Title:    "backup validation failed",
			Details: storage.JSONMap{
				"command":       v.name,
				"output":        out.String(),
				"restoreTested": result.RestoreTested,
				"driftClean":    result.DriftClean,
			},
		})
		if incErr != nil {
			return nil, fmt.Errorf("open backup-failure incident: %w", incErr)
		}
		record.IncidentID = &incidentID
	}

	if err := v.repo.Insert(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}
