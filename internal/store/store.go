package store

import (
	"context"
	"errors"

	"github.com/modelmarket/proxy-api/internal/store/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInsufficientBalance is returned by a guarded debit when the
	// balance check inside the transaction fails.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrDuplicate is returned on unique-constraint violations.
	ErrDuplicate = errors.New("duplicate record")
)

// Repository is the main contract for the data layer.
type Repository interface {
	APIKeys() APIKeyRepository
	Models() ModelRepository
	Credits() CreditsRepository
	Requests() RequestRepository
	Users() UserRepository

	// WithTx runs fn against a repository bound to a single
	// transaction, committing if fn returns nil.
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type APIKeyRepository interface {
	// GetByHash retrieves a key by its hashed value (for auth).
	GetByHash(ctx context.Context, hash string) (*model.APIKey, error)
	GetByID(ctx context.Context, id string) (*model.APIKey, error)
	// Create issues a new API key.
	Create(ctx context.Context, key *model.APIKey) error
	// IncrementQuota atomically bumps quota_used by one at the
	// storage layer (never read-modify-write).
	IncrementQuota(ctx context.Context, id string) error
	// Revoke sets revoked_at; revoked keys are kept, never deleted.
	Revoke(ctx context.Context, id string) error
	// TouchLastUsed updates the last-used timestamp.
	TouchLastUsed(ctx context.Context, id string) error
	ListByUserID(ctx context.Context, userID string) ([]model.APIKey, error)
}

type ModelRepository interface {
	// GetByDisplayName returns the model regardless of active state;
	// callers decide how to treat inactive models.
	GetByDisplayName(ctx context.Context, displayName string) (*model.ShadowModel, error)
	GetByID(ctx context.Context, id string) (*model.ShadowModel, error)
	// ListActive returns active models ordered by display name.
	ListActive(ctx context.Context) ([]model.ShadowModel, error)
	List(ctx context.Context) ([]model.ShadowModel, error)
	Create(ctx context.Context, m *model.ShadowModel) error
	Update(ctx context.Context, m *model.ShadowModel) error
}

type CreditsRepository interface {
	// Get returns the credit record, or ErrNotFound when the user has
	// none (treated as zero available by callers).
	Get(ctx context.Context, userID string) (*model.UserCredits, error)
	// Debit applies a guarded balance decrement: the update only takes
	// effect when balance >= amount, re-checked at the storage layer.
	// Returns ErrInsufficientBalance when the guard fails.
	Debit(ctx context.Context, userID string, amount float64) (*model.UserCredits, error)
	// Credit adds to the balance, creating the record if absent.
	Credit(ctx context.Context, userID string, amount float64) (*model.UserCredits, error)
	// InsertTransaction appends a ledger entry. Entries are immutable.
	InsertTransaction(ctx context.Context, tx *model.CreditTransaction) error
	ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error)
}

type RequestRepository interface {
	// Log stores a completed request record.
	Log(ctx context.Context, rec *model.APIRequest) error
	GetRecent(ctx context.Context, userID string, limit int) ([]model.APIRequest, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
}

type UserRepository interface {
	Get(ctx context.Context, id string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}
