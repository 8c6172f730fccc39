package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/modelmarket/proxy-api/internal/store"
	"github.com/modelmarket/proxy-api/pkg/api"
)

// StatsHandler exposes daily usage aggregates.
type StatsHandler struct {
	repo store.Repository
}

func NewStatsHandler(repo store.Repository) *StatsHandler {
	return &StatsHandler{repo: repo}
}

// Daily handles GET /admin/v1/usage/stats?days=N.
func (h *StatsHandler) Daily(c *gin.Context) {
	days := 7
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 365 {
			_ = c.Error(api.BadRequest("days must be an integer between 1 and 365"))
			return
		}
		days = parsed
	}

	stats, err := h.repo.Requests().GetDailyStats(c.Request.Context(), days)
	if err != nil {
		_ = c.Error(api.Internal("failed to load usage stats", err))
		return
	}

	c.JSON(http.StatusOK, gin.H{"days": days, "data": stats})
}
