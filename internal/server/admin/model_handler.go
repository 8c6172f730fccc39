package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/internal/registry"
	"github.com/modelmarket/proxy-api/internal/server/validator"
	"github.com/modelmarket/proxy-api/pkg/api"
)

// ModelHandler manages the shadow-model catalog.
type ModelHandler struct {
	registry *registry.Service
}

func NewModelHandler(reg *registry.Service) *ModelHandler {
	return &ModelHandler{registry: reg}
}

type createModelRequest struct {
	DisplayName       string  `json:"display_name" binding:"required"`
	ProviderBaseURL   string  `json:"provider_base_url" binding:"required,url"`
	ProviderToken     string  `json:"provider_token" binding:"required"`
	ProviderModelID   string  `json:"provider_model_id" binding:"required"`
	PricingInputPerK  float64 `json:"pricing_input_per_k_tokens" binding:"gte=0"`
	PricingOutputPerK float64 `json:"pricing_output_per_k_tokens" binding:"gte=0"`
	IsActive          *bool   `json:"is_active"`
}

type updateModelRequest struct {
	DisplayName     string `json:"display_name"`
	ProviderBaseURL string `json:"provider_base_url"`
	ProviderToken   string `json:"provider_token"`
	ProviderModelID string `json:"provider_model_id"`
	// pricing is pointer-typed so an explicit zero can be told apart
	// from an omitted field
	PricingInputPerK  *float64 `json:"pricing_input_per_k_tokens" binding:"omitempty,gte=0"`
	PricingOutputPerK *float64 `json:"pricing_output_per_k_tokens" binding:"omitempty,gte=0"`
	IsActive          *bool    `json:"is_active"`
}

// Create handles POST /admin/v1/models.
func (h *ModelHandler) Create(c *gin.Context) {
	var req createModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.BadRequest(validator.ParseError(err)))
		return
	}

	m, err := h.registry.Create(c.Request.Context(), registry.Params{
		DisplayName:       req.DisplayName,
		ProviderBaseURL:   req.ProviderBaseURL,
		ProviderToken:     req.ProviderToken,
		ProviderModelID:   req.ProviderModelID,
		PricingInputPerK:  &req.PricingInputPerK,
		PricingOutputPerK: &req.PricingOutputPerK,
		IsActive:          req.IsActive,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, m)
}

// Update handles PUT /admin/v1/models/:id. Deactivation is the only
// delete.
func (h *ModelHandler) Update(c *gin.Context) {
	var req updateModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.BadRequest(validator.ParseError(err)))
		return
	}

	m, err := h.registry.Update(c.Request.Context(), c.Param("id"), registry.Params{
		DisplayName:       req.DisplayName,
		ProviderBaseURL:   req.ProviderBaseURL,
		ProviderToken:     req.ProviderToken,
		ProviderModelID:   req.ProviderModelID,
		PricingInputPerK:  req.PricingInputPerK,
		PricingOutputPerK: req.PricingOutputPerK,
		IsActive:          req.IsActive,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// List handles GET /admin/v1/models. Tokens appear masked.
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.registry.ListMasked(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": models})
}
