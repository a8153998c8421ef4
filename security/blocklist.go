package security

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-retail/opsplane/storage"
)

// BlockList is the persistent, SQL-backed deny-list the request middleware
// consults on every request for both IP and authenticated user-id.
type BlockList struct {
	repo *storage.SecurityRepo
	now  func() time.Time
}

// NewBlockList wraps the security repository as a block list.
func NewBlockList(repo *storage.SecurityRepo) *BlockList {
	return &BlockList{repo: repo, now: time.Now}
}

// Block persists a block for target until now+ttl.
func (b *BlockList) Block(ctx context.Context, target, targetType, reason string, ttl time.Duration) error {
	now := b.now()
	return b.repo.UpsertBlock(ctx, &storage.SecurityBlock{
		ID: uuid.New().String(), Target: target, TargetType: targetType, Reason: reason,
		BlockedAt: now, ExpiresAt: now.Add(ttl),
	})
}

// IsBlocked reports whether target currently has an active, unlifted block.
func (b *BlockList) IsBlocked(ctx context.Context, target string) (bool, error) {
	return b.repo.IsBlocked(ctx, target, b.now())
}

// Lift manually lifts a block ahead of its expiry.
func (b *BlockList) Lift(ctx context.Context, target, liftedBy string) error {
	return b.repo.LiftBlock(ctx, target, liftedBy, b.now())
}
