package health

import (
	"context"
	"time"

	"github.com/nexus-retail/opsplane/storage"
)

// SafeMode wraps the singleton safe-mode flag: auto-engaged by the scorer
// on an F grade, manually disabled only by a matching override token.
type SafeMode struct {
	repo *storage.HealthRepo
	now  func() time.Time
}

// NewSafeMode wraps the health repository as the safe-mode gate.
func NewSafeMode(repo *storage.HealthRepo) *SafeMode {
	return &SafeMode{repo: repo, now: time.Now}
}

// Enabled reports whether safe mode is currently on.
func (m *SafeMode) Enabled(ctx context.Context) (bool, error) {
	st, err := m.repo.GetSafeMode(ctx)
	if err != nil {
		return false, err
	}
	return st.SafeMode, nil
}

// Enable atomically turns safe mode on if it is currently off.
func (m *SafeMode) Enable(ctx context.Context, reason, enabledBy string) error {
	_, err := m.repo.Enable(ctx, reason, enabledBy, m.now())
	return err
}

// Disable turns safe mode off iff overrideToken matches the stored token.
// Returns false, nil on mismatch (a refusal, not an error).
func (m *SafeMode) Disable(ctx context.Context, overrideToken string) (bool, error) {
	return m.repo.Disable(ctx, overrideToken, m.now())
}

// RotateOverrideToken sets a new token required for the next Disable call.
func (m *SafeMode) RotateOverrideToken(ctx context.Context, token string) error {
	return m.repo.SetOverrideToken(ctx, token, m.now())
}
