package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/lotsentry/lotsentry-backend/internal/handlers"
	"github.com/lotsentry/lotsentry-backend/internal/middleware"
)

type RouterConfig struct {
	RequestLog         *middleware.RequestLogMiddleware
	LegislationHandler *handlers.LegislationHandler
	RuleHandler        *handlers.RuleHandler
	CollisionHandler   *handlers.CollisionHandler
	CheckHandler       *handlers.CheckHandler
	TemplateHandler    *handlers.TemplateHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("lotsentry-backend"))
	router.Use(middleware.AttachTraceContext())
	router.Use(cfg.RequestLog.Handle())

	// Cors
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{
			"http://localhost:80",
			"http://localhost:3000",
			"http://localhost:5174",
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	{
		// Legislation sources and digests
		api.POST("/sources", cfg.LegislationHandler.CreateSource)
		api.GET("/sources", cfg.LegislationHandler.ListSources)
		api.GET("/sources/:id", cfg.LegislationHandler.GetSource)
		api.DELETE("/sources/:id", cfg.LegislationHandler.DeleteSource)
		api.POST("/sources/:id/digests", cfg.LegislationHandler.CreateDigest)
		api.GET("/sources/:id/digests", cfg.LegislationHandler.ListDigests)
		api.GET("/sources/:id/digests/active", cfg.LegislationHandler.GetActiveDigest)
		api.POST("/digests/:digest_id/approve", cfg.LegislationHandler.ApproveDigest)

		// Rule lifecycle
		api.POST("/sources/:id/rules/generate", cfg.RuleHandler.GenerateRules)
		api.POST("/sources/:id/redigest", cfg.RuleHandler.Redigest)
		api.DELETE("/sources/:id/rules", cfg.RuleHandler.DeleteRulesForSource)
		api.GET("/rules", cfg.RuleHandler.ListRules)
		api.GET("/rules/:id", cfg.RuleHandler.GetRule)
		api.PATCH("/rules/:id", cfg.RuleHandler.EditRule)
		api.POST("/rules/:id/approve", cfg.RuleHandler.ApproveRule)

		// Collisions
		api.GET("/collisions", cfg.CollisionHandler.ListCollisions)
		api.POST("/collisions/:id/resolve", cfg.CollisionHandler.ResolveCollision)

		// Compliance checks
		api.POST("/checks", cfg.CheckHandler.RunCheck)
		api.GET("/checks", cfg.CheckHandler.ListChecks)
		api.GET("/checks/:id", cfg.CheckHandler.GetCheck)

		// Template decision cache
		api.GET("/templates/:template_id/decisions", cfg.TemplateHandler.ListCachedDecisions)
		api.PUT("/templates/:template_id/decisions", cfg.TemplateHandler.PutHumanDecision)
	}

	return router
}
