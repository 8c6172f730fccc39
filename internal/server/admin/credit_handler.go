package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/internal/ledger"
	"github.com/modelmarket/proxy-api/internal/server/validator"
	"github.com/modelmarket/proxy-api/pkg/api"
)

// CreditHandler grants credits to user accounts.
type CreditHandler struct {
	ledger *ledger.Service
}

func NewCreditHandler(led *ledger.Service) *CreditHandler {
	return &CreditHandler{ledger: led}
}

type grantRequest struct {
	UserID      string  `json:"user_id" binding:"required"`
	Amount      float64 `json:"amount" binding:"required"`
	Description string  `json:"description"`
}

// Grant handles POST /admin/v1/credits/grant.
func (h *CreditHandler) Grant(c *gin.Context) {
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.BadRequest(validator.ParseError(err)))
		return
	}

	desc := req.Description
	if desc == "" {
		desc = "admin grant"
	}

	tx, err := h.ledger.Credit(c.Request.Context(), req.UserID, req.Amount, desc)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, tx)
}
