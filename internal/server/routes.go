package server

import (
	"github.com/modelmarket/proxy-api/internal/server/admin"
	"github.com/modelmarket/proxy-api/internal/server/middleware"
	v1 "github.com/modelmarket/proxy-api/internal/server/v1"
)

func (s *Server) setupRoutes() {
	healthHandler := v1.NewHealthHandler()
	s.router.GET("/health", healthHandler.Health)

	proxyHandler := v1.NewProxyHandler(s.deps.Proxy, s.logger)
	modelHandler := v1.NewModelHandler(s.deps.Registry)

	api := s.router.Group("/v1")
	api.Use(middleware.Auth(s.deps.Gate))
	{
		// Anthropic-style and OpenAI-style surfaces share the proxy
		api.POST("/messages", proxyHandler.Completion)
		api.POST("/chat/completions", proxyHandler.Completion)

		api.GET("/models", modelHandler.List)
	}

	adminModels := admin.NewModelHandler(s.deps.Registry)
	adminKeys := admin.NewKeyHandler(s.deps.Repo, s.deps.Gate, s.logger)
	adminCredits := admin.NewCreditHandler(s.deps.Ledger)
	adminStats := admin.NewStatsHandler(s.deps.Repo)

	adm := s.router.Group("/admin/v1")
	adm.Use(middleware.AdminAuth(s.config.Server.AdminKeys))
	{
		adm.POST("/models", adminModels.Create)
		adm.PUT("/models/:id", adminModels.Update)
		adm.GET("/models", adminModels.List)

		adm.POST("/keys", adminKeys.Create)
		adm.POST("/keys/:id/revoke", adminKeys.Revoke)

		adm.POST("/credits/grant", adminCredits.Grant)

		adm.GET("/usage/stats", adminStats.Daily)
	}
}
