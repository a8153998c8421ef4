package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/incident"
	"github.com/nexus-retail/opsplane/storage"
)

// AuditChain appends hash-chained audit entries and verifies their
// continuity, per spec section 4.5.
type AuditChain struct {
	repo      *storage.SecurityRepo
	incidents *incident.Manager
	now       func() time.Time
}

// NewAuditChain constructs the audit chain writer/verifier.
func NewAuditChain(repo *storage.SecurityRepo, incidents *incident.Manager) *AuditChain {
	return &AuditChain{repo: repo, incidents: incidents, now: time.Now}
}

// Append writes one audit entry, computing its row_hash from the preceding
// entry's row_hash (or GenesisHash for the first entry in the chain).
func (a *AuditChain) Append(ctx context.Context, action, entityType, entityID string) error {
	now := a.now()
	entry := &storage.AuditChainEntry{
		ID: uuid.New().String(), Action: action, EntityType: entityType, EntityID: entityID, CreatedAt: now,
	}
	return a.repo.AppendAuditEntry(ctx, func(prevHash string) string {
		return rowHash(prevHash, entry.ID, entry.Action, entry.EntityType, entry.EntityID, entry.CreatedAt)
	}, entry)
}

func rowHash(prevHash, id, action, entityType, entityID string, createdAt time.Time) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write([]byte(id))
	h.Write([]byte(action))
	h.Write([]byte(entityType))
	h.Write([]byte(entityID))
	h.Write([]byte(createdAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyResult is the outcome of one continuity check.
type VerifyResult struct {
	Valid    bool
	BrokenAt string
}

// Verify checks, over a bounded prefix of the audit log ordered by
// created_at, that each row's prev_hash equals the previous row's row_hash
// (GenesisHash for the first). It does not recompute row hashes, only
// checks continuity. The first mismatch opens a P1 incident and halts.
func (a *AuditChain) Verify(ctx context.Context, limit int) (VerifyResult, error) {
	entries, err := a.repo.AuditChainPrefix(ctx, limit)
	if err != nil {
		return VerifyResult{}, err
	}

	expected := storage.GenesisHash
	for _, e := range entries {
		if e.PrevHash != expected {
			_, incErr := a.incidents.CreateIncident(ctx, incident.CreateParams{
				Priority: storage.PriorityP1,
				Title:    "AUDIT_LOG_TAMPER_DETECTED",
				Details: storage.JSONMap{
					"brokenAt":     e.ID,
					"expectedHash": expected,
					"actualHash":   e.PrevHash,
				},
			})
			if incErr != nil {
				return VerifyResult{}, incErr
			}
			return VerifyResult{Valid: false, BrokenAt: e.ID}, nil
		}
		expected = e.RowHash
	}

	return VerifyResult{Valid: true}, nil
}
