package storage

import "time"

// Priority is an incident severity band, P1 highest.
type Priority string

const (
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentOpen        IncidentStatus = "OPEN"
	IncidentAutoHealing IncidentStatus = "AUTO_HEALING"
	IncidentEscalated   IncidentStatus = "ESCALATED"
	IncidentResolved    IncidentStatus = "RESOLVED"
	IncidentClosed      IncidentStatus = "CLOSED"
)

// JSONMap is an opaque JSON bag persisted as JSONB.
type JSONMap map[string]interface{}

// Incident is the durable record of an anomalous condition.
type Incident struct {
	ID               string         `db:"id"`
	Priority         Priority       `db:"priority"`
	Status           IncidentStatus `db:"status"`
	Title            string         `db:"title"`
	InvariantName    *string        `db:"invariant_name"`
	Details          JSONMap        `db:"details"`
	Forensic         JSONMap        `db:"forensic"`
	AutoHealAttempts int            `db:"auto_heal_attempts"`
	AutoHealed       bool           `db:"auto_healed"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	ResolvedAt       *time.Time     `db:"resolved_at"`
	EscalatedAt      *time.Time     `db:"escalated_at"`
	ResolvedBy       *string        `db:"resolved_by"`
	ResolvedReason   *string        `db:"resolved_reason"`
}

// InvariantViolation is one detected counter-example to an invariant.
type InvariantViolation struct {
	ID            string    `db:"id"`
	InvariantName string    `db:"invariant_name"`
	ShopID        *string   `db:"shop_id"`
	EntityID      string    `db:"entity_id"`
	EntityType    string    `db:"entity_type"`
	Details       JSONMap   `db:"details"`
	AutoCorrected bool      `db:"auto_corrected"`
	IncidentID    *string   `db:"incident_id"`
	CreatedAt     time.Time `db:"created_at"`
}

// DriftScore is one composite integrity-score sample.
type DriftScore struct {
	ID         string    `db:"id"`
	Score      int       `db:"score"`
	Components JSONMap   `db:"components"`
	CreatedAt  time.Time `db:"created_at"`
}

// HealthScore is one composite operational-health sample.
type HealthScore struct {
	ID          string    `db:"id"`
	Score       int       `db:"score"`
	Components  JSONMap   `db:"components"`
	SafeMode    bool      `db:"safe_mode"`
	RecordedAt  time.Time `db:"recorded_at"`
}

// SafeModeState is the singleton global safe-mode flag.
type SafeModeState struct {
	ID            int        `db:"id"`
	SafeMode      bool       `db:"safe_mode"`
	Reason        *string    `db:"reason"`
	EnabledAt     *time.Time `db:"enabled_at"`
	EnabledBy     *string    `db:"enabled_by"`
	OverrideToken *string    `db:"override_token"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// IdempotencyRecord tracks deduplication state for one client key.
type IdempotencyRecord struct {
	ID           string     `db:"id"`
	ResponseBody *string    `db:"response_body"`
	StatusCode   *int       `db:"status_code"`
	Locked       bool       `db:"locked"`
	LockedAt     *time.Time `db:"locked_at"`
	CreatedAt    time.Time  `db:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at"`
}

// SecurityEvent is one anomaly observation.
type SecurityEvent struct {
	ID          string    `db:"id"`
	EventType   string    `db:"event_type"`
	IP          *string   `db:"ip"`
	UserID      *string   `db:"user_id"`
	Details     JSONMap   `db:"details"`
	Severity    string    `db:"severity"`
	AutoBlocked bool      `db:"auto_blocked"`
	CreatedAt   time.Time `db:"created_at"`
}

// SecurityBlock is a persistent deny-list entry for an IP or user.
type SecurityBlock struct {
	ID         string     `db:"id"`
	Target     string     `db:"target"`
	TargetType string     `db:"target_type"`
	Reason     string     `db:"reason"`
	BlockedAt  time.Time  `db:"blocked_at"`
	ExpiresAt  time.Time  `db:"expires_at"`
	LiftedAt   *time.Time `db:"lifted_at"`
	LiftedBy   *string    `db:"lifted_by"`
}

// AuditChainEntry is one append-only, hash-chained audit record.
type AuditChainEntry struct {
	ID         string    `db:"id"`
	Action     string    `db:"action"`
	EntityType string    `db:"entity_type"`
	EntityID   string    `db:"entity_id"`
	RowHash    string    `db:"row_hash"`
	PrevHash   string    `db:"prev_hash"`
	CreatedAt  time.Time `db:"created_at"`
}

// GenesisHash is the sentinel prev_hash for the first chain entry.
const GenesisHash = "GENESIS"

// PerfObservation is one per-endpoint latency analysis sample.
type PerfObservation struct {
	ID              string    `db:"id"`
	Endpoint        string    `db:"endpoint"`
	P95Ms           float64   `db:"p95_ms"`
	P99Ms           float64   `db:"p99_ms"`
	SampleCount     int       `db:"sample_count"`
	SlowQuery       *string   `db:"slow_query"`
	IndexSuggestion *string   `db:"index_suggestion"`
	ObservedAt      time.Time `db:"observed_at"`
}

// BackupValidationStatus is the terminal-or-pending state of a validation run.
type BackupValidationStatus string

const (
	BackupPending BackupValidationStatus = "PENDING"
	BackupPassed  BackupValidationStatus = "PASSED"
	BackupFailed  BackupValidationStatus = "FAILED"
)

// BackupValidation is one backup-integrity check result.
type BackupValidation struct {
	ID            string                 `db:"id"`
	BackupFile    string                 `db:"backup_file"`
	SizeKB        int64                  `db:"size_kb"`
	Checksum      string                 `db:"checksum"`
	RestoreTested bool                   `db:"restore_tested"`
	DriftClean    bool                   `db:"drift_clean"`
	IncidentID    *string                `db:"incident_id"`
	ValidatedAt   time.Time              `db:"validated_at"`
	Status        BackupValidationStatus `db:"status"`
}

// DeploymentGateRun is one persisted gate evaluation.
type DeploymentGateRun struct {
	ID          string    `db:"id"`
	Passed      bool      `db:"passed"`
	Gates       JSONMap   `db:"gates"` // encodes []GateResult
	Blockers    JSONMap   `db:"blockers"`
	TriggeredBy *string   `db:"triggered_by"`
	CreatedAt   time.Time `db:"created_at"`
}

// ExecutiveReport is the daily operational digest, one per period_date.
type ExecutiveReport struct {
	ID           string     `db:"id"`
	PeriodDate   time.Time  `db:"period_date"`
	Report       JSONMap    `db:"report"`
	Dispatched   bool       `db:"dispatched"`
	DispatchedAt *time.Time `db:"dispatched_at"`
}
