package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/internal/registry"
	"github.com/modelmarket/proxy-api/pkg/api"
)

// ModelHandler serves the public model catalog.
type ModelHandler struct {
	registry *registry.Service
}

func NewModelHandler(reg *registry.Service) *ModelHandler {
	return &ModelHandler{registry: reg}
}

// List handles GET /v1/models. Only active models appear, and provider
// connection details are never exposed.
func (h *ModelHandler) List(c *gin.Context) {
	models, err := h.registry.ListActive(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := api.CatalogResponse{Object: "list", Data: make([]api.CatalogModel, 0, len(models))}
	for _, m := range models {
		resp.Data = append(resp.Data, api.CatalogModel{
			ID:                m.DisplayName,
			Object:            "model",
			DisplayName:       m.DisplayName,
			PricingInputPerK:  m.PricingInputPerK,
			PricingOutputPerK: m.PricingOutputPerK,
		})
	}

	c.JSON(http.StatusOK, resp)
}
