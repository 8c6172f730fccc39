package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Repository implements store.Repository on sqlite.
type Repository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{
		db:       db,
		executor: db,
	}
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &Repository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *Repository) APIKeys() store.APIKeyRepository   { return &apiKeyRepo{db: r.executor} }
func (r *Repository) Models() store.ModelRepository     { return &modelRepo{db: r.executor} }
func (r *Repository) Credits() store.CreditsRepository  { return &creditsRepo{db: r.executor} }
func (r *Repository) Requests() store.RequestRepository { return &requestRepo{db: r.executor} }
func (r *Repository) Users() store.UserRepository       { return &userRepo{db: r.executor} }

func mapGetErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func mapExecErr(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return store.ErrDuplicate
	}
	return err
}

type apiKeyRepo struct {
	db DB
}

func (r *apiKeyRepo) GetByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	// revoked/expired are checked by the auth gate so the gate owns
	// the rejection semantics
	err := r.db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE key_hash = ?`, hash)
	if err != nil {
		return nil, mapGetErr(err)
	}
	return &key, nil
}

func (r *apiKeyRepo) GetByID(ctx context.Context, id string) (*model.APIKey, error) {
	var key model.APIKey
	if err := r.db.GetContext(ctx, &key, `SELECT * FROM api_keys WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err)
	}
	return &key, nil
}

func (r *apiKeyRepo) Create(ctx context.Context, key *model.APIKey) error {
	query := `
	INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, allowed_models, quota_limit, expires_at, created_at, updated_at)
	VALUES (:id, :user_id, :name, :key_hash, :key_prefix, :allowed_models, :quota_limit, :expires_at, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, key)
	return mapExecErr(err)
}

func (r *apiKeyRepo) IncrementQuota(ctx context.Context, id string) error {
	// single atomic increment, never read-modify-write
	query := `UPDATE api_keys SET quota_used = quota_used + 1, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *apiKeyRepo) Revoke(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET revoked_at = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND revoked_at IS NULL`
	res, err := r.db.ExecContext(ctx, query, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *apiKeyRepo) TouchLastUsed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, time.Now().UTC(), id)
	return err
}

func (r *apiKeyRepo) ListByUserID(ctx context.Context, userID string) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := r.db.SelectContext(ctx, &keys, `SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at`, userID)
	return keys, err
}

type modelRepo struct {
	db DB
}

func (r *modelRepo) GetByDisplayName(ctx context.Context, displayName string) (*model.ShadowModel, error) {
	var m model.ShadowModel
	if err := r.db.GetContext(ctx, &m, `SELECT * FROM shadow_models WHERE display_name = ?`, displayName); err != nil {
		return nil, mapGetErr(err)
	}
	return &m, nil
}

func (r *modelRepo) GetByID(ctx context.Context, id string) (*model.ShadowModel, error) {
	var m model.ShadowModel
	if err := r.db.GetContext(ctx, &m, `SELECT * FROM shadow_models WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err)
	}
	return &m, nil
}

func (r *modelRepo) ListActive(ctx context.Context) ([]model.ShadowModel, error) {
	var models []model.ShadowModel
	err := r.db.SelectContext(ctx, &models, `SELECT * FROM shadow_models WHERE is_active = 1 ORDER BY display_name`)
	return models, err
}

func (r *modelRepo) List(ctx context.Context) ([]model.ShadowModel, error) {
	var models []model.ShadowModel
	err := r.db.SelectContext(ctx, &models, `SELECT * FROM shadow_models ORDER BY display_name`)
	return models, err
}

func (r *modelRepo) Create(ctx context.Context, m *model.ShadowModel) error {
	query := `
	INSERT INTO shadow_models (
		id, display_name, provider_base_url, provider_token_enc, provider_model_id,
		pricing_input_per_k, pricing_output_per_k, is_active, created_at, updated_at
	) VALUES (
		:id, :display_name, :provider_base_url, :provider_token_enc, :provider_model_id,
		:pricing_input_per_k, :pricing_output_per_k, :is_active, :created_at, :updated_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, m)
	return mapExecErr(err)
}

func (r *modelRepo) Update(ctx context.Context, m *model.ShadowModel) error {
	query := `
	UPDATE shadow_models SET
		display_name = :display_name,
		provider_base_url = :provider_base_url,
		provider_token_enc = :provider_token_enc,
		provider_model_id = :provider_model_id,
		pricing_input_per_k = :pricing_input_per_k,
		pricing_output_per_k = :pricing_output_per_k,
		is_active = :is_active,
		updated_at = CURRENT_TIMESTAMP
	WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return mapExecErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

type creditsRepo struct {
	db DB
}

func (r *creditsRepo) Get(ctx context.Context, userID string) (*model.UserCredits, error) {
	var c model.UserCredits
	if err := r.db.GetContext(ctx, &c, `SELECT * FROM user_credits WHERE user_id = ?`, userID); err != nil {
		return nil, mapGetErr(err)
	}
	return &c, nil
}

func (r *creditsRepo) Debit(ctx context.Context, userID string, amount float64) (*model.UserCredits, error) {
	// The balance guard lives in the UPDATE itself: the check and the
	// write are one statement, so a stale pre-check can never drive
	// the balance negative.
	query := `
	UPDATE user_credits SET
		balance = balance - ?,
		total_consumed = total_consumed + ?,
		updated_at = CURRENT_TIMESTAMP
	WHERE user_id = ? AND balance >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, amount, userID, amount)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// no record or balance below amount: both mean no funds
		return nil, store.ErrInsufficientBalance
	}
	return r.Get(ctx, userID)
}

func (r *creditsRepo) Credit(ctx context.Context, userID string, amount float64) (*model.UserCredits, error) {
	query := `
	INSERT INTO user_credits (user_id, balance, total_purchased, updated_at)
	VALUES (?, ?, ?, CURRENT_TIMESTAMP)
	ON CONFLICT(user_id) DO UPDATE SET
		balance = balance + excluded.balance,
		total_purchased = total_purchased + excluded.total_purchased,
		updated_at = CURRENT_TIMESTAMP`
	if _, err := r.db.ExecContext(ctx, query, userID, amount, amount); err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

func (r *creditsRepo) InsertTransaction(ctx context.Context, tx *model.CreditTransaction) error {
	query := `
	INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, description, meta_json, created_at)
	VALUES (:id, :user_id, :type, :amount, :balance_after, :description, :meta_json, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, tx)
	return mapExecErr(err)
}

func (r *creditsRepo) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	var txs []model.CreditTransaction
	query := `SELECT * FROM credit_transactions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &txs, query, userID, limit)
	return txs, err
}

type requestRepo struct {
	db DB
}

func (r *requestRepo) Log(ctx context.Context, rec *model.APIRequest) error {
	query := `
	INSERT INTO api_requests (
		id, user_id, api_key_id, model_id, tokens_input, tokens_output,
		cost, status_code, duration_ms, is_streamed, ip_address, error_message, created_at
	) VALUES (
		:id, :user_id, :api_key_id, :model_id, :tokens_input, :tokens_output,
		:cost, :status_code, :duration_ms, :is_streamed, :ip_address, :error_message, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, rec)
	return err
}

func (r *requestRepo) GetRecent(ctx context.Context, userID string, limit int) ([]model.APIRequest, error) {
	var recs []model.APIRequest
	query := `SELECT * FROM api_requests WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &recs, query, userID, limit)
	return recs, err
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	var stats []model.DailyStats
	query := `
		SELECT
			DATE(created_at) as date,
			COUNT(*) as total_requests,
			SUM(tokens_input + tokens_output) as total_tokens,
			SUM(cost) as total_cost,
			AVG(duration_ms) as avg_latency
		FROM api_requests
		WHERE created_at >= DATE('now', ? || ' days')
		GROUP BY date
		ORDER BY date DESC
	`
	err := r.db.SelectContext(ctx, &stats, query, -days)
	return stats, err
}

type userRepo struct {
	db DB
}

func (r *userRepo) Get(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	if err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id); err != nil {
		return nil, mapGetErr(err)
	}
	return &u, nil
}

func (r *userRepo) Create(ctx context.Context, user *model.User) error {
	query := `
	INSERT INTO users (id, email, name, status, created_at, updated_at)
	VALUES (:id, :email, :name, :status, :created_at, :updated_at)`
	_, err := r.db.NamedExecContext(ctx, query, user)
	return mapExecErr(err)
}
