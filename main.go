package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"

	"github.com/greenharvest/harvest-api/internal/ai"
	"github.com/greenharvest/harvest-api/internal/api"
	"github.com/greenharvest/harvest-api/internal/auth"
	"github.com/greenharvest/harvest-api/internal/db"
	"github.com/greenharvest/harvest-api/internal/metrics"
	"github.com/greenharvest/harvest-api/internal/ratelimit"
	"github.com/greenharvest/harvest-api/internal/services"
	"github.com/greenharvest/harvest-api/internal/store"
	"github.com/greenharvest/harvest-api/internal/store/memory"
	"github.com/greenharvest/harvest-api/internal/tracing"
	"github.com/greenharvest/harvest-api/pkg/config"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()
	if cfg.UsesDefaultJWTSecret() {
		log.Printf("[CONFIG] Warning: JWT_SECRET not set, signing tokens with the development default")
	}

	// Initialize OpenTelemetry metrics
	ctx := context.Background()
	appMetrics, meterProvider, err := metrics.InitMetrics(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down meter provider: %v", err)
		}
	}()

	tracerProvider, err := tracing.Init(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	if tracerProvider != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
				log.Printf("Error shutting down tracer provider: %v", err)
			}
		}()
	}

	// Initialize storage
	st, err := openStore(ctx, cfg, appMetrics)
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer st.Close()

	// AI quota is shared through Redis when configured
	localLimiter := ratelimit.NewLocalLimiter(cfg.AIRateLimit, cfg.AIRateWindow)
	var limiter ratelimit.Limiter = localLimiter
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, "ratelimit:ai:", cfg.AIRateLimit, cfg.AIRateWindow, localLimiter)
		log.Printf("[AI] rate limit %d per %s shared via redis %s", cfg.AIRateLimit, cfg.AIRateWindow, cfg.RedisAddr)
	} else {
		log.Printf("[AI] rate limit %d per %s (in-process)", cfg.AIRateLimit, cfg.AIRateWindow)
	}

	aiClient := ai.NewClient(ai.Config{
		APIKey:    cfg.GeminiAPIKey,
		BaseURL:   cfg.GeminiBaseURL,
		Model:     cfg.GeminiModel,
		Timeout:   cfg.AITimeout,
		Transport: tracing.Transport(http.DefaultTransport),
	})
	if !aiClient.Enabled() {
		log.Println("Warning: GEMINI_API_KEY not set, AI endpoints will return 503")
	}

	// Initialize services
	productService := services.NewProductService(st, appMetrics)
	ledger := services.NewStockLedger(appMetrics)
	svc := api.Services{
		Products:  productService,
		Carts:     services.NewCartService(st, ledger, productService.Cache(), appMetrics),
		Trades:    services.NewTradeService(st, ledger, productService.Cache(), appMetrics),
		Expenses:  services.NewExpenseService(st),
		Users:     services.NewUserService(st, auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL), appMetrics),
		Assistant: services.NewAssistantService(st, aiClient, limiter, appMetrics),
	}

	// Initialize app
	app := api.NewApp(cfg, st, appMetrics, svc)

	// Setup router
	router := mux.NewRouter()
	app.SetupRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      tracing.Handler(router, cfg.OTELServiceName),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on port %s (storage=%s)", cfg.AppPort, cfg.StorageBackend)
		log.Printf("OTLP endpoint: %s", cfg.OTELExporterOTLPEndpoint)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config, m *metrics.AppMetrics) (store.Store, error) {
	switch cfg.StorageBackend {
	case "memory":
		log.Println("Using in-memory storage; data is lost on restart")
		return memory.New(), nil
	case "mysql":
		database, err := db.NewDB(cfg.GetDSN(), cfg.OTELServiceName)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.DBAutoMigrate {
			if err := database.Migrate(ctx); err != nil {
				database.Close()
				return nil, fmt.Errorf("failed to migrate schema: %w", err)
			}
		}
		return db.NewStore(database, m), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}
}
