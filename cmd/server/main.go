package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/fundops/capcall-api/internal/allotment"
	"github.com/fundops/capcall-api/internal/auth"
	"github.com/fundops/capcall-api/internal/database"
	"github.com/fundops/capcall-api/internal/documents"
	"github.com/fundops/capcall-api/internal/drawdown"
	"github.com/fundops/capcall-api/internal/fund"
	"github.com/fundops/capcall-api/internal/reconciliation"
	"github.com/fundops/capcall-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the capital-call API server with graceful
// shutdown support. It sets up all required services, database connections,
// and API routes.
func main() {
	// Initialize database
	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "capcall-secret-key"
	}

	docsDir := os.Getenv("DOCS_DIR")
	if docsDir == "" {
		docsDir = "documents"
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	if os.Getenv("ENV") != "production" {
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	}

	renderer := documents.NewLocalRenderer(docsDir)
	storage := documents.NewLocalStorage(docsDir)
	extractor := documents.NewLineExtractor()

	fundService := fund.NewService(db)
	fundHandlers := fund.NewGinHandlers(fundService)

	drawdownService := drawdown.NewService(db, renderer, storage)
	drawdownHandlers := drawdown.NewGinHandlers(drawdownService)

	reconciliationService := reconciliation.NewService(db, extractor, storage)
	reconciliationHandlers := reconciliation.NewGinHandlers(reconciliationService)

	allotmentService := allotment.NewService(db, renderer, storage)
	allotmentHandlers := allotment.NewGinHandlers(allotmentService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, []byte(jwtSecret), authHandlers, fundHandlers, drawdownHandlers, reconciliationHandlers, allotmentHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Routes are grouped by lifecycle stage; everything except token generation
// sits behind JWT authentication, with per-operation capabilities enforced in
// the services.
func setupRoutes(
	router *gin.Engine,
	jwtSecret []byte,
	authHandlers *auth.GinHandlers,
	fundHandlers *fund.GinHandlers,
	drawdownHandlers *drawdown.GinHandlers,
	reconciliationHandlers *reconciliation.GinHandlers,
	allotmentHandlers *allotment.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Fund and investor routes
		funds := v1.Group("/funds")
		funds.Use(middleware.JWTAuth(jwtSecret))
		{
			funds.POST("", fundHandlers.CreateFundHandler())
			funds.GET("", fundHandlers.ListFundsHandler())
			funds.GET("/:fund_id", fundHandlers.GetFundHandler())
			funds.GET("/:fund_id/investors", fundHandlers.ListInvestorsHandler())
		}

		investors := v1.Group("/investors")
		investors.Use(middleware.JWTAuth(jwtSecret))
		{
			investors.POST("", fundHandlers.CreateInvestorHandler())
			investors.PATCH("/:investor_id/commitment", fundHandlers.AmendCommitmentHandler())
		}

		// Drawdown lifecycle routes
		drawdowns := v1.Group("/drawdowns")
		drawdowns.Use(middleware.JWTAuth(jwtSecret))
		{
			drawdowns.POST("/issue", drawdownHandlers.IssueDrawdownsHandler())
			drawdowns.POST("/preview", drawdownHandlers.PreviewDrawdownsHandler())
			drawdowns.GET("", drawdownHandlers.ListDrawdownsHandler())
			drawdowns.GET("/:drawdown_id", drawdownHandlers.GetDrawdownHandler())
			drawdowns.POST("/:drawdown_id/cancel", drawdownHandlers.CancelDrawdownHandler())
			drawdowns.DELETE("/:drawdown_id", drawdownHandlers.DeleteDrawdownHandler())
		}

		// Payment and reconciliation routes
		payments := v1.Group("/payments")
		payments.Use(middleware.JWTAuth(jwtSecret))
		{
			payments.POST("/reconcile", reconciliationHandlers.ReconcileBatchHandler())
			payments.POST("/statements", reconciliationHandlers.IngestStatementHandler())
			payments.POST("", reconciliationHandlers.RecordManualPaymentHandler())
			payments.GET("", reconciliationHandlers.ListPaymentsHandler())
			payments.GET("/:payment_id", reconciliationHandlers.GetPaymentHandler())
			payments.PATCH("/:payment_id", reconciliationHandlers.UpdatePaymentHandler())
		}

		runs := v1.Group("/reconciliation-runs")
		runs.Use(middleware.JWTAuth(jwtSecret))
		{
			runs.GET("", reconciliationHandlers.ListRunsHandler())
			runs.GET("/:run_id", reconciliationHandlers.GetRunHandler())
			runs.DELETE("/:run_id", reconciliationHandlers.DeleteRunHandler())
		}

		// Allotment routes
		allotments := v1.Group("/allotments")
		allotments.Use(middleware.JWTAuth(jwtSecret))
		{
			allotments.POST("/generate", allotmentHandlers.GenerateAllotmentsHandler())
			allotments.GET("", allotmentHandlers.ListAllotmentsHandler())
		}
	}
}
