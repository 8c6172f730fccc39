package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/cache"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// Identity is the resolved caller of a proxied request.
type Identity struct {
	UserID   string
	APIKeyID string
	// AllowedModels is the key's allow-list of display names; empty
	// means every model.
	AllowedModels []string
	// QuotaLimit is nil when the key is unlimited.
	QuotaLimit *int64
	QuotaUsed  int64
}

// AllowsModel reports whether the identity may call a display name.
func (id *Identity) AllowsModel(displayName string) bool {
	if len(id.AllowedModels) == 0 {
		return true
	}
	for _, m := range id.AllowedModels {
		if m == displayName {
			return true
		}
	}
	return false
}

// cachedKey is the cache payload for a hash lookup.
type cachedKey struct {
	Key        model.APIKey `json:"key"`
	UserStatus string       `json:"user_status"`
}

// Gate resolves bearer credentials into identities. Lookups are cached
// briefly; revocation deletes the cache entry.
type Gate struct {
	repo   store.Repository
	cache  cache.CacheService
	logger *zap.Logger
	ttl    time.Duration
}

func NewGate(repo store.Repository, cacheSvc cache.CacheService, logger *zap.Logger) *Gate {
	return &Gate{
		repo:   repo,
		cache:  cacheSvc,
		logger: logger,
		ttl:    30 * time.Second,
	}
}

// HashKey computes the one-way hash under which API keys are stored.
// The raw secret itself is never persisted.
func HashKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Authenticate maps a raw credential to an identity.
// Fails Unauthenticated for a missing/unknown/revoked/expired key and
// Forbidden when the owning account is not active.
func (g *Gate) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, api.Unauthenticated("missing API key")
	}

	hash := HashKey(credential)

	entry, err := g.lookup(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, api.Unauthenticated("invalid API key")
		}
		return nil, api.Internal("failed to resolve API key", err)
	}

	if entry.Key.IsRevoked() || entry.Key.IsExpired() {
		return nil, api.Unauthenticated("API key is revoked or expired")
	}

	if entry.UserStatus != "active" {
		return nil, api.Forbidden("account is suspended")
	}

	var allowed []string
	if entry.Key.AllowedModels != "" {
		if err := json.Unmarshal([]byte(entry.Key.AllowedModels), &allowed); err != nil {
			g.logger.Warn("Malformed allowed_models on key",
				zap.String("api_key_id", entry.Key.ID), zap.Error(err))
		}
	}

	identity := &Identity{
		UserID:        entry.Key.UserID,
		APIKeyID:      entry.Key.ID,
		AllowedModels: allowed,
		QuotaUsed:     entry.Key.QuotaUsed,
	}
	if entry.Key.QuotaLimit.Valid {
		limit := entry.Key.QuotaLimit.Int64
		identity.QuotaLimit = &limit
	}

	// Update last used timestamp (async, best effort)
	keyID := entry.Key.ID
	go func() {
		_ = g.repo.APIKeys().TouchLastUsed(context.Background(), keyID)
	}()

	return identity, nil
}

// Invalidate drops the cached lookup for a key hash, used after a
// revoke so the key stops authenticating immediately.
func (g *Gate) Invalidate(ctx context.Context, keyHash string) {
	if err := g.cache.Delete(ctx, cacheKey(keyHash)); err != nil {
		g.logger.Warn("Failed to invalidate key cache", zap.Error(err))
	}
}

func (g *Gate) lookup(ctx context.Context, hash string) (*cachedKey, error) {
	var cached cachedKey
	if err := g.cache.Get(ctx, cacheKey(hash), &cached); err == nil {
		return &cached, nil
	}

	key, err := g.repo.APIKeys().GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	user, err := g.repo.Users().Get(ctx, key.UserID)
	if err != nil {
		return nil, err
	}

	entry := &cachedKey{Key: *key, UserStatus: user.Status}
	if err := g.cache.Set(ctx, cacheKey(hash), entry, g.ttl); err != nil {
		g.logger.Warn("Failed to cache key lookup", zap.Error(err))
	}

	return entry, nil
}

func cacheKey(hash string) string {
	return "apikey:" + hash
}
