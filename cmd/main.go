package main

import (
	"context"
	"fmt"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lotsentry/lotsentry-backend/internal/db"
	"github.com/lotsentry/lotsentry-backend/internal/handlers"
	"github.com/lotsentry/lotsentry-backend/internal/logger"
	"github.com/lotsentry/lotsentry-backend/internal/middleware"
	"github.com/lotsentry/lotsentry-backend/internal/observability"
	"github.com/lotsentry/lotsentry-backend/internal/repos"
	"github.com/lotsentry/lotsentry-backend/internal/server"
	"github.com/lotsentry/lotsentry-backend/internal/services"
	"github.com/lotsentry/lotsentry-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Tracing
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "lotsentry-backend",
		Environment: utils.GetEnv("APP_ENV", "development", log),
		Version:     utils.GetEnv("APP_VERSION", "", log),
	})
	if otelShutdown != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := otelShutdown(shutdownCtx); err != nil {
				log.Warn("otel shutdown failed", "error", err)
			}
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()
	txRunner := repos.NewGormTxRunner(thePG)

	// Redis (optional cache mirror)
	var rdb *goredis.Client
	if redisAddr := utils.GetEnv("REDIS_ADDR", "", log); redisAddr != "" {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     redisAddr,
			Password: utils.GetEnv("REDIS_PASSWORD", "", log),
		})
	}

	// Repos
	log.Info("Setting up Repos from main...")
	sourceRepo := repos.NewLegislationSourceRepo(thePG, log)
	digestRepo := repos.NewLegislationDigestRepo(thePG, log)
	ruleRepo := repos.NewRuleRepo(thePG, log)
	collisionRepo := repos.NewRuleCollisionRepo(thePG, log)
	cacheRepo := repos.NewTemplateRuleCacheRepo(thePG, log)
	checkRepo := repos.NewComplianceCheckRepo(thePG, log)

	// Services
	log.Info("Setting up Services from main...")
	openaiClient, err := services.NewOpenAIClient(log)
	if err != nil {
		log.Error("Could not init OpenAIClient", "error", err)
		os.Exit(1)
	}
	bucketService, err := services.NewBucketService(log)
	if err != nil {
		log.Warn("Could not init BucketService", "error", err)
	}
	screenshotService, err := services.NewScreenshotService(log, bucketService)
	if err != nil {
		log.Warn("Could not init ScreenshotService", "error", err)
	}
	pageFetcher := services.NewHTTPPageFetcher(log)
	templateService := services.NewTemplateService(log)
	decisionCache := services.NewDecisionCache(log, cacheRepo, rdb)

	legislationService := services.NewLegislationService(txRunner, log, sourceRepo, ruleRepo)
	digestService := services.NewDigestService(txRunner, log, sourceRepo, digestRepo)
	ruleDeriver := services.NewLLMRuleDeriver(openaiClient, log)
	collisionService := services.NewCollisionService(txRunner, log, openaiClient, collisionRepo, ruleRepo)
	ruleService := services.NewRuleService(txRunner, log, ruleDeriver, collisionService, digestService, sourceRepo, digestRepo, ruleRepo)
	textJudge := services.NewLLMTextJudge(openaiClient, log)
	visualJudge := services.NewLLMVisualJudge(openaiClient, log)
	checkService := services.NewCheckService(txRunner, log, pageFetcher, templateService, textJudge, visualJudge, screenshotService, decisionCache, ruleRepo, checkRepo)

	// Handlers
	log.Info("Setting up handlers from main...")
	legislationHandler := handlers.NewLegislationHandler(log, legislationService, digestService)
	ruleHandler := handlers.NewRuleHandler(log, ruleService)
	collisionHandler := handlers.NewCollisionHandler(log, collisionService)
	checkHandler := handlers.NewCheckHandler(log, checkService)
	templateHandler := handlers.NewTemplateHandler(log, decisionCache)

	// Middleware
	requestLog := middleware.NewRequestLogMiddleware(log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		RequestLog:         requestLog,
		LegislationHandler: legislationHandler,
		RuleHandler:        ruleHandler,
		CollisionHandler:   collisionHandler,
		CheckHandler:       checkHandler,
		TemplateHandler:    templateHandler,
	})

	port := utils.GetEnv("PORT", "8080", log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := router.Run(":" + port); err != nil {
		log.Error("Server failed", "error", err)
	}
}
