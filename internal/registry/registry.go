package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/modelmarket/proxy-api/internal/secrets"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/internal/store/model"
	"github.com/modelmarket/proxy-api/pkg/api"
	"go.uber.org/zap"
)

// ResolvedModel is a shadow model with its provider token decrypted,
// produced only on outbound-call paths.
type ResolvedModel struct {
	model.ShadowModel
	ProviderToken string
}

// MaskedModel is the admin view: connection details visible, token
// shown as a masked fragment.
type MaskedModel struct {
	model.ShadowModel
	MaskedToken string `json:"masked_token"`
}

// Params carries admin create/update input. Pointer fields distinguish
// absent from zero on updates; zero is a valid price.
type Params struct {
	DisplayName       string
	ProviderBaseURL   string
	ProviderToken     string // plaintext; encrypted before storage
	ProviderModelID   string
	PricingInputPerK  *float64
	PricingOutputPerK *float64
	IsActive          *bool
}

// Service owns the shadow-model catalog.
type Service struct {
	repo   store.Repository
	enc    *secrets.Encryptor
	logger *zap.Logger
}

func NewService(repo store.Repository, enc *secrets.Encryptor, logger *zap.Logger) *Service {
	return &Service{repo: repo, enc: enc, logger: logger}
}

// ResolveActive maps a customer-facing display name to an active model
// with the provider secret decrypted.
func (s *Service) ResolveActive(ctx context.Context, displayName string) (*ResolvedModel, error) {
	m, err := s.repo.Models().GetByDisplayName(ctx, displayName)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, api.ModelNotFound(displayName)
		}
		return nil, api.Internal("failed to resolve model", err)
	}

	if !m.IsActive {
		return nil, api.ModelInactive(displayName)
	}

	token, err := s.enc.Decrypt(m.ProviderTokenEnc)
	if err != nil {
		return nil, api.Internal("failed to decrypt provider token", err)
	}

	return &ResolvedModel{ShadowModel: *m, ProviderToken: token}, nil
}

// ListActive returns the public catalog, ordered by display name.
// Secrets never leave the store on this path.
func (s *Service) ListActive(ctx context.Context) ([]model.ShadowModel, error) {
	models, err := s.repo.Models().ListActive(ctx)
	if err != nil {
		return nil, api.Internal("failed to list models", err)
	}
	return models, nil
}

// ListMasked returns all models for the admin view with tokens masked.
func (s *Service) ListMasked(ctx context.Context) ([]MaskedModel, error) {
	models, err := s.repo.Models().List(ctx)
	if err != nil {
		return nil, api.Internal("failed to list models", err)
	}

	out := make([]MaskedModel, 0, len(models))
	for _, m := range models {
		masked := "********"
		if token, err := s.enc.Decrypt(m.ProviderTokenEnc); err == nil {
			masked = secrets.Mask(token)
		}
		m.ProviderTokenEnc = ""
		out = append(out, MaskedModel{ShadowModel: m, MaskedToken: masked})
	}
	return out, nil
}

// Create registers a new shadow model. Omitted pricing defaults to
// zero, which makes the model free to call.
func (s *Service) Create(ctx context.Context, p Params) (*model.ShadowModel, error) {
	priceIn := deref(p.PricingInputPerK)
	priceOut := deref(p.PricingOutputPerK)

	if err := validateBase(p.DisplayName, p.ProviderBaseURL, priceIn, priceOut); err != nil {
		return nil, err
	}
	if p.ProviderToken == "" {
		return nil, api.BadRequest("provider token is required")
	}

	tokenEnc, err := s.enc.Encrypt(p.ProviderToken)
	if err != nil {
		return nil, api.Internal("failed to encrypt provider token", err)
	}

	now := time.Now().UTC()
	m := &model.ShadowModel{
		ID:                uuid.New().String(),
		DisplayName:       p.DisplayName,
		ProviderBaseURL:   p.ProviderBaseURL,
		ProviderTokenEnc:  tokenEnc,
		ProviderModelID:   p.ProviderModelID,
		PricingInputPerK:  priceIn,
		PricingOutputPerK: priceOut,
		IsActive:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}

	if err := s.repo.Models().Create(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, api.Conflict(fmt.Sprintf("model '%s' already exists", p.DisplayName))
		}
		return nil, api.Internal("failed to create model", err)
	}

	s.logger.Info("Shadow model created",
		zap.String("id", m.ID), zap.String("display_name", m.DisplayName))

	return m, nil
}

// Update modifies an existing model. Deactivation (IsActive=false) is
// the only delete; rows are never removed because usage logs reference
// them.
func (s *Service) Update(ctx context.Context, id string, p Params) (*model.ShadowModel, error) {
	m, err := s.repo.Models().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, api.ModelNotFound(id)
		}
		return nil, api.Internal("failed to load model", err)
	}

	if p.DisplayName != "" {
		m.DisplayName = p.DisplayName
	}
	if p.ProviderBaseURL != "" {
		m.ProviderBaseURL = p.ProviderBaseURL
	}
	if p.ProviderModelID != "" {
		m.ProviderModelID = p.ProviderModelID
	}
	if p.ProviderToken != "" {
		tokenEnc, err := s.enc.Encrypt(p.ProviderToken)
		if err != nil {
			return nil, api.Internal("failed to encrypt provider token", err)
		}
		m.ProviderTokenEnc = tokenEnc
	}
	if p.PricingInputPerK != nil {
		m.PricingInputPerK = *p.PricingInputPerK
	}
	if p.PricingOutputPerK != nil {
		m.PricingOutputPerK = *p.PricingOutputPerK
	}
	if p.IsActive != nil {
		m.IsActive = *p.IsActive
	}

	if err := validateBase(m.DisplayName, m.ProviderBaseURL, m.PricingInputPerK, m.PricingOutputPerK); err != nil {
		return nil, err
	}

	if err := s.repo.Models().Update(ctx, m); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, api.Conflict(fmt.Sprintf("model '%s' already exists", m.DisplayName))
		}
		return nil, api.Internal("failed to update model", err)
	}

	return m, nil
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func validateBase(displayName, baseURL string, priceIn, priceOut float64) error {
	if displayName == "" {
		return api.BadRequest("display name is required")
	}
	if priceIn < 0 || priceOut < 0 {
		return api.BadRequest("pricing must be non-negative")
	}

	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return api.BadRequest("provider base URL must be a valid http(s) URL")
	}

	return nil
}
