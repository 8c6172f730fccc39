package usage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/internal/store/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) (store.Repository, string) {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	userID := uuid.New().String()
	now := time.Now().UTC()
	require.NoError(t, repo.Users().Create(context.Background(), &model.User{
		ID:        userID,
		Email:     userID + "@example.com",
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}))
	return repo, userID
}

func newRequestRecord(userID string) *model.APIRequest {
	return &model.APIRequest{
		ID:           uuid.New().String(),
		UserID:       userID,
		APIKeyID:     "key-1",
		ModelID:      "model-1",
		TokensInput:  120,
		TokensOutput: 40,
		Cost:         0.0016,
		StatusCode:   200,
		DurationMS:   85,
		CreatedAt:    time.Now().UTC(),
	}
}

func countRecords(t *testing.T, repo store.Repository, userID string) int {
	t.Helper()
	recs, err := repo.Requests().GetRecent(context.Background(), userID, 100)
	require.NoError(t, err)
	return len(recs)
}

func TestSyncRecorderPersistsInline(t *testing.T) {
	repo, userID := newTestRepo(t)

	rec := NewSyncRecorder(zap.NewNop(), repo)
	rec.Log(newRequestRecord(userID))

	assert.Equal(t, 1, countRecords(t, repo, userID))
}

func TestIngestorFlushesBufferedRecordsOnStop(t *testing.T) {
	repo, userID := newTestRepo(t)

	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(context.Background())

	for i := 0; i < 5; i++ {
		ing.Log(newRequestRecord(userID))
	}
	ing.Stop()

	assert.Eventually(t, func() bool {
		return countRecords(t, repo, userID) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIngestorFlushesFullBatchWithoutStop(t *testing.T) {
	repo, userID := newTestRepo(t)

	ing := NewIngestor(zap.NewNop(), repo)
	ing.Start(context.Background())
	defer ing.Stop()

	// a full batch flushes immediately, well before the timed flush
	for i := 0; i < 50; i++ {
		ing.Log(newRequestRecord(userID))
	}

	assert.Eventually(t, func() bool {
		return countRecords(t, repo, userID) == 50
	}, 2*time.Second, 10*time.Millisecond)
}
