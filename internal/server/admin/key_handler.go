package admin

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/auth"
	"github.com/modelmarket/proxy-api/internal/server/validator"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// KeyHandler issues and revokes customer API keys.
type KeyHandler struct {
	repo   store.Repository
	gate   *auth.Gate
	logger *zap.Logger
}

func NewKeyHandler(repo store.Repository, gate *auth.Gate, logger *zap.Logger) *KeyHandler {
	return &KeyHandler{repo: repo, gate: gate, logger: logger}
}

type createKeyRequest struct {
	UserID        string     `json:"user_id" binding:"required"`
	Name          string     `json:"name" binding:"required"`
	AllowedModels []string   `json:"allowed_models"`
	QuotaLimit    *int64     `json:"quota_limit" binding:"omitempty,gt=0"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

type createKeyResponse struct {
	// Key is the raw secret, returned exactly once. Only its hash is
	// stored.
	Key    string        `json:"key"`
	APIKey *model.APIKey `json:"api_key"`
}

// Create handles POST /admin/v1/keys.
func (h *KeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.BadRequest(validator.ParseError(err)))
		return
	}

	if _, err := h.repo.Users().Get(c.Request.Context(), req.UserID); err != nil {
		_ = c.Error(api.BadRequest("user not found"))
		return
	}

	secret, err := generateSecret()
	if err != nil {
		_ = c.Error(api.Internal("failed to generate key", err))
		return
	}

	allowed := "[]"
	if len(req.AllowedModels) > 0 {
		raw, mErr := json.Marshal(req.AllowedModels)
		if mErr != nil {
			_ = c.Error(api.Internal("failed to encode allowed models", mErr))
			return
		}
		allowed = string(raw)
	}

	now := time.Now().UTC()
	key := &model.APIKey{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		Name:          req.Name,
		KeyHash:       auth.HashKey(secret),
		KeyPrefix:     secret[:10],
		AllowedModels: allowed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.QuotaLimit != nil {
		key.QuotaLimit = sql.NullInt64{Int64: *req.QuotaLimit, Valid: true}
	}
	if req.ExpiresAt != nil {
		key.ExpiresAt = sql.NullTime{Time: req.ExpiresAt.UTC(), Valid: true}
	}

	if err := h.repo.APIKeys().Create(c.Request.Context(), key); err != nil {
		_ = c.Error(api.Internal("failed to create API key", err))
		return
	}

	h.logger.Info("API key issued",
		zap.String("id", key.ID),
		zap.String("user_id", key.UserID),
		zap.String("prefix", key.KeyPrefix))

	c.JSON(http.StatusCreated, createKeyResponse{Key: secret, APIKey: key})
}

// Revoke handles POST /admin/v1/keys/:id/revoke. Revocation is
// permanent; the row stays for audit.
func (h *KeyHandler) Revoke(c *gin.Context) {
	id := c.Param("id")

	key, err := h.repo.APIKeys().GetByID(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(api.BadRequest("API key not found"))
		return
	}

	if err := h.repo.APIKeys().Revoke(c.Request.Context(), id); err != nil {
		_ = c.Error(api.Internal("failed to revoke API key", err))
		return
	}

	// Drop the auth cache entry so the revocation takes effect now,
	// not after TTL expiry.
	h.gate.Invalidate(c.Request.Context(), key.KeyHash)

	h.logger.Info("API key revoked", zap.String("id", id))
	c.JSON(http.StatusOK, gin.H{"revoked": true})
}

func generateSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "sk-" + hex.EncodeToString(buf), nil
}
