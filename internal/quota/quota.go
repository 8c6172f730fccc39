package quota

import (
	"context"
	"time"

	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// Snapshot is the quota state reported in rate-limit headers. An
// unlimited key reports Limit and Remaining as zero.
type Snapshot struct {
	Limit     int64
	Remaining int64
	// Reset is the Unix timestamp of the next UTC midnight.
	Reset int64
}

// Tracker enforces the per-key request-count ceiling. Increments are
// single atomic storage-level operations, never read-modify-write.
type Tracker struct {
	repo   store.Repository
	logger *zap.Logger
}

func NewTracker(repo store.Repository, logger *zap.Logger) *Tracker {
	return &Tracker{repo: repo, logger: logger}
}

// Check reports whether the key may make another request and returns
// the header snapshot alongside.
func (t *Tracker) Check(ctx context.Context, apiKeyID string) (bool, Snapshot, error) {
	key, err := t.repo.APIKeys().GetByID(ctx, apiKeyID)
	if err != nil {
		return false, Snapshot{}, api.Internal("failed to load API key", err)
	}

	snap := Snapshot{Reset: nextUTCMidnight().Unix()}
	if !key.QuotaLimit.Valid {
		// unlimited keys report 0/0
		return true, snap, nil
	}

	snap.Limit = key.QuotaLimit.Int64
	snap.Remaining = key.QuotaLimit.Int64 - key.QuotaUsed
	if snap.Remaining < 0 {
		snap.Remaining = 0
	}

	return key.QuotaUsed < key.QuotaLimit.Int64, snap, nil
}

// Increment bumps the counter after a confirmed chargeable call.
func (t *Tracker) Increment(ctx context.Context, apiKeyID string) error {
	if err := t.repo.APIKeys().IncrementQuota(ctx, apiKeyID); err != nil {
		t.logger.Error("Failed to increment quota",
			zap.String("api_key_id", apiKeyID), zap.Error(err))
		return api.Internal("failed to increment quota", err)
	}
	return nil
}

func nextUTCMidnight() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}
