// Package incident owns the process-wide incident state machine: creation
// with forensic capture, invariant-driven updates, escalation, and
// auto-resolution, per spec section 4.3.
package incident

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/infrastructure/logging"
	"github.com/nexus-retail/opsplane/metrics"
	"github.com/nexus-retail/opsplane/storage"
)

// escalateAfterAttempts and escalateAfterAge implement the incrementHealAttempts
// escalation rule from spec 4.3.
const (
	escalateAfterAttempts = 3
	escalateAfterAge      = 15 * time.Minute
)

// Alerter delivers severity-tagged notifications. Implemented by the
// security/perf/deploygate packages' shared alert transport.
type Alerter interface {
	Alert(ctx context.Context, severity, title, body string, fields map[string]interface{})
}

// Snapshotter captures the forensic diagnostic bundle attached to every new
// incident. Implemented by the bootstrap wiring once storage and the
// runtime are available.
type Snapshotter interface {
	Capture(ctx context.Context) (storage.JSONMap, error)
}

// Manager is the process-wide incident singleton. Construct exactly one
// per process and pass it by dependency injection to every collaborator
// (invariant engine, security engine, performance engine, deploy gates).
type Manager struct {
	repo     *storage.IncidentRepo
	snapshot Snapshotter
	alert    Alerter
	logger   *logging.Logger
	reg      *metrics.Registry
	now      func() time.Time
}

// New constructs the incident manager.
func New(repo *storage.IncidentRepo, snapshot Snapshotter, alert Alerter, logger *logging.Logger, reg *metrics.Registry) *Manager {
	return &Manager{repo: repo, snapshot: snapshot, alert: alert, logger: logger, reg: reg, now: time.Now}
}

// CreateParams describes a new incident request.
type CreateParams struct {
	Priority      storage.Priority
	Title         string
	InvariantName string // optional
	Details       storage.JSONMap
}

// CreateIncident persists a new incident, always attaching a forensic
// snapshot, and emits a priority-keyed alert.
func (m *Manager) CreateIncident(ctx context.Context, p CreateParams) (string, error) {
	forensic, err := m.snapshot.Capture(ctx)
	if err != nil {
		forensic = storage.JSONMap{"error": "snapshot_failed"}
	}

	now := m.now()
	in := &storage.Incident{
		ID:       uuid.New().String(),
		Priority: p.Priority,
		Status:   storage.IncidentOpen,
		Title:    p.Title,
		Details:  p.Details,
		Forensic: forensic,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if p.InvariantName != "" {
		name := p.InvariantName
		in.InvariantName = &name
	}
	if in.Details == nil {
		in.Details = storage.JSONMap{}
	}

	if err := m.repo.Insert(ctx, in); err != nil {
		return "", err
	}

	m.logger.LogIncident(ctx, in.ID, string(in.Status), string(in.Priority))
	m.alert.Alert(ctx, prioritySeverity(p.Priority), in.Title, "incident created", map[string]interface{}{
		"incident_id": in.ID,
		"priority":    string(p.Priority),
	})
	m.reg.Increment("incidents.created_total")

	return in.ID, nil
}

func prioritySeverity(p storage.Priority) string {
	switch p {
	case storage.PriorityP1:
		return "CRITICAL"
	case storage.PriorityP2:
		return "HIGH"
	case storage.PriorityP3:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// InvariantResult is the shape of one invariant-engine cycle result that
// the manager needs to reconcile against incidents.
type InvariantResult struct {
	Name          string
	Passed        bool
	AutoCorrected bool
	ViolationCount int
	Priority      storage.Priority
}

// CreateOrUpdateFromInvariant reconciles one invariant-engine result
// against any existing OPEN/AUTO_HEALING incident for that invariant.
func (m *Manager) CreateOrUpdateFromInvariant(ctx context.Context, result InvariantResult) error {
	existing, err := m.repo.FindOpenByInvariant(ctx, result.Name)
	if err != nil {
		return err
	}

	if existing != nil {
		if result.Passed && result.AutoCorrected {
			return m.AutoResolve(ctx, existing.ID, "invariant cleared after auto-correct")
		}
		if !result.Passed {
			return m.IncrementHealAttempts(ctx, existing.ID, result)
		}
		return nil
	}

	if !result.Passed {
		_, err := m.CreateIncident(ctx, CreateParams{
			Priority:      result.Priority,
			Title:         "Invariant violation: " + result.Name,
			InvariantName: result.Name,
			Details:       storage.JSONMap{"violationCount": result.ViolationCount},
		})
		return err
	}
	return nil
}

// IncrementHealAttempts bumps attempts, moves the incident to
// AUTO_HEALING, and escalates once the threshold is crossed.
func (m *Manager) IncrementHealAttempts(ctx context.Context, id string, result InvariantResult) error {
	in, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if isTerminal(in.Status) {
		return nil
	}

	now := m.now()
	in.AutoHealAttempts++
	in.Status = storage.IncidentAutoHealing
	if in.Details == nil {
		in.Details = storage.JSONMap{}
	}
	in.Details["violationCount"] = result.ViolationCount
	in.UpdatedAt = now

	if err := m.repo.UpdateStatus(ctx, in); err != nil {
		return err
	}
	m.logger.LogIncident(ctx, in.ID, string(in.Status), string(in.Priority))

	if in.AutoHealAttempts >= escalateAfterAttempts || now.Sub(in.CreatedAt) > escalateAfterAge {
		return m.Escalate(ctx, id, "auto-heal threshold exceeded")
	}
	return nil
}

// Escalate performs an idempotent OPEN|AUTO_HEALING -> ESCALATED
// transition. Calling it twice never produces a second escalated_at.
func (m *Manager) Escalate(ctx context.Context, id, reason string) error {
	in, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if in.Status == storage.IncidentEscalated || isTerminal(in.Status) {
		return nil
	}

	now := m.now()
	in.Status = storage.IncidentEscalated
	in.EscalatedAt = &now
	in.UpdatedAt = now
	if in.Details == nil {
		in.Details = storage.JSONMap{}
	}
	in.Details["escalationReason"] = reason

	if err := m.repo.UpdateStatus(ctx, in); err != nil {
		return err
	}
	m.logger.LogIncident(ctx, in.ID, string(in.Status), string(in.Priority))
	m.alert.Alert(ctx, "CRITICAL", "Incident escalated: "+in.Title, reason, map[string]interface{}{
		"incident_id": in.ID,
	})
	m.reg.Increment("incidents.escalated_total")
	return nil
}

// AutoResolve transitions an incident to RESOLVED with auto_healed=true.
// No-op if the incident is already terminal.
func (m *Manager) AutoResolve(ctx context.Context, id, reason string) error {
	in, err := m.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if isTerminal(in.Status) {
		return nil
	}

	now := m.now()
	in.Status = storage.IncidentResolved
	in.AutoHealed = true
	in.ResolvedAt = &now
	in.ResolvedReason = &reason
	in.UpdatedAt = now

	if err := m.repo.UpdateStatus(ctx, in); err != nil {
		return err
	}
	m.logger.LogIncident(ctx, in.ID, string(in.Status), string(in.Priority))
	m.reg.Increment("incidents.auto_resolved_total")
	return nil
}

func isTerminal(s storage.IncidentStatus) bool {
	return s == storage.IncidentResolved || s == storage.IncidentClosed
}

// GetOpenP1Count reports the number of open P1 incidents, consumed by the
// deployment gate runner.
func (m *Manager) GetOpenP1Count(ctx context.Context) (int, error) {
	return m.repo.OpenCountByPriority(ctx, storage.PriorityP1)
}

// SummaryView is the GetIncidentSummary result: the open-incident counts
// across all priorities plus up to 50 open incidents.
type SummaryView struct {
	Summary storage.Summary    `json:"summary"`
	Open    []storage.Incident `json:"open"`
}

// GetIncidentSummary serves the /incidents endpoint payload.
func (m *Manager) GetIncidentSummary(ctx context.Context) (SummaryView, error) {
	sm, err := m.repo.Summary(ctx)
	if err != nil {
		return SummaryView{}, err
	}
	open, err := m.repo.ListOpen(ctx, 50)
	if err != nil {
		return SummaryView{}, err
	}
	return SummaryView{Summary: sm, Open: open}, nil
}
