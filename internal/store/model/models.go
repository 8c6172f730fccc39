package model

import (
	"database/sql"
	"time"
)

// User represents a platform customer account.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	Status    string    `db:"status" json:"status"` // 'active', 'suspended'
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ShadowModel is a provider-backed model exposed under a public display
// name. The provider token is stored encrypted and only decrypted at
// the moment of an outbound call.
type ShadowModel struct {
	ID                string    `db:"id" json:"id"`
	DisplayName       string    `db:"display_name" json:"display_name"`
	ProviderBaseURL   string    `db:"provider_base_url" json:"provider_base_url"`
	ProviderTokenEnc  string    `db:"provider_token_enc" json:"-"` // Encrypted
	ProviderModelID   string    `db:"provider_model_id" json:"provider_model_id"`
	PricingInputPerK  float64   `db:"pricing_input_per_k" json:"pricing_input_per_k"`
	PricingOutputPerK float64   `db:"pricing_output_per_k" json:"pricing_output_per_k"`
	IsActive          bool      `db:"is_active" json:"is_active"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// APIKey is the credential used to access the proxy.
type APIKey struct {
	ID            string        `db:"id" json:"id"`
	UserID        string        `db:"user_id" json:"user_id"`
	Name          string        `db:"name" json:"name"`
	KeyHash       string        `db:"key_hash" json:"-"`                    // Never return hash
	KeyPrefix     string        `db:"key_prefix" json:"key_prefix"`         // Display only
	AllowedModels string        `db:"allowed_models" json:"allowed_models"` // JSON array, empty = all
	QuotaLimit    sql.NullInt64 `db:"quota_limit" json:"quota_limit,omitempty"`
	QuotaUsed     int64         `db:"quota_used" json:"quota_used"`
	ExpiresAt     sql.NullTime  `db:"expires_at" json:"expires_at,omitempty"`
	RevokedAt     sql.NullTime  `db:"revoked_at" json:"revoked_at,omitempty"`
	LastUsedAt    sql.NullTime  `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time     `db:"updated_at" json:"updated_at"`
}

// IsExpired reports whether the key's expiry has passed.
func (k *APIKey) IsExpired() bool {
	return k.ExpiresAt.Valid && time.Now().After(k.ExpiresAt.Time)
}

// IsRevoked reports whether the key has been revoked.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt.Valid
}

// UserCredits holds the materialized balance for a user. The balance
// must never be updated without an accompanying CreditTransaction row
// in the same transaction.
type UserCredits struct {
	UserID         string    `db:"user_id" json:"user_id"`
	Balance        float64   `db:"balance" json:"balance"`
	TotalPurchased float64   `db:"total_purchased" json:"total_purchased"`
	TotalConsumed  float64   `db:"total_consumed" json:"total_consumed"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Credit transaction types.
const (
	TxGrant     = "grant"
	TxDeduction = "deduction"
	TxRefund    = "refund"
)

// CreditTransaction is an append-only ledger entry. Immutable once
// created; BalanceAfter snapshots the balance immediately following
// the transaction.
type CreditTransaction struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	Type         string    `db:"type" json:"type"`     // 'grant', 'deduction', 'refund'
	Amount       float64   `db:"amount" json:"amount"` // negative for deductions
	BalanceAfter float64   `db:"balance_after" json:"balance_after"`
	Description  string    `db:"description" json:"description"`
	MetaJSON     string    `db:"meta_json" json:"meta_json"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// APIRequest captures one proxied call, successful or failed. Rows are
// never updated or deleted.
type APIRequest struct {
	ID           string         `db:"id" json:"id"`
	UserID       string         `db:"user_id" json:"user_id"`
	APIKeyID     string         `db:"api_key_id" json:"api_key_id"`
	ModelID      string         `db:"model_id" json:"model_id"`
	TokensInput  int            `db:"tokens_input" json:"tokens_input"`
	TokensOutput int            `db:"tokens_output" json:"tokens_output"`
	Cost         float64        `db:"cost" json:"cost"`
	StatusCode   int            `db:"status_code" json:"status_code"`
	DurationMS   int64          `db:"duration_ms" json:"duration_ms"`
	IsStreamed   bool           `db:"is_streamed" json:"is_streamed"`
	IPAddress    string         `db:"ip_address" json:"ip_address"`
	ErrorMessage sql.NullString `db:"error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
}

// DailyStats represents aggregated usage data for a specific day.
type DailyStats struct {
	Date           string  `db:"date" json:"date"`
	TotalRequests  int     `db:"total_requests" json:"total_requests"`
	TotalTokens    int     `db:"total_tokens" json:"total_tokens"`
	TotalCost      float64 `db:"total_cost" json:"total_cost"`
	AverageLatency float64 `db:"avg_latency" json:"avg_latency"`
}
