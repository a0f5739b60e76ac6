package main

import (
	"encoding/json"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/cryptofolio/backend/src/config"
	"github.com/username/cryptofolio/backend/src/database"
	"github.com/username/cryptofolio/backend/src/handlers"
	"github.com/username/cryptofolio/backend/src/logger"
	"github.com/username/cryptofolio/backend/src/parsers"
	"github.com/username/cryptofolio/backend/src/security"
	"github.com/username/cryptofolio/backend/src/services"
	"golang.org/x/time/rate"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, If-None-Match")
			w.Header().Set("Access-Control-Expose-Headers", "ETag")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	serve := flag.Bool("serve", true, "start the HTTP API after the pipeline run")
	runPipeline := flag.Bool("run", true, "run the batch pipeline at startup")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Cryptofolio backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	store := database.NewStore(database.DB)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing report cache...")
	reportCache := cache.New(15*time.Minute, 30*time.Minute)
	logger.L.Info("Report cache initialized.")

	logger.L.Info("Initializing services and handlers...")
	var authService *security.AuthService
	if config.Cfg.APIAuthTokenSecret != "" {
		authService = security.NewAuthService(config.Cfg.APIAuthTokenSecret)
		logger.L.Info("API bearer auth enabled.")
	} else {
		logger.L.Warn("API_AUTH_TOKEN_SECRET not set, API runs without authentication.")
	}

	priceService := services.NewPriceService(store)

	var importers []parsers.Importer
	if config.Cfg.KrakenCSVPath != "" {
		importer, err := parsers.GetImporter("kraken", config.Cfg.KrakenCSVPath)
		if err != nil {
			logger.L.Error("Failed to create Kraken importer", "error", err)
			os.Exit(1)
		}
		importers = append(importers, importer)
	}

	pipelineService := services.NewPipelineService(
		importers,
		config.Cfg.CorrectionsPath,
		config.Cfg.SeedCSVPath,
		priceService,
		store,
		config.Cfg.ExemptionDays,
	)

	if *runPipeline {
		result, err := pipelineService.Run()
		if err != nil {
			logger.L.Error("Pipeline run failed", "error", err)
			os.Exit(1)
		}
		logger.L.Info("Pipeline run succeeded",
			"rawEvents", len(result.RawEvents),
			"effectiveEvents", len(result.EffectiveEvents),
			"lots", len(result.Inventory.Lots),
			"disposalLinks", len(result.Inventory.DisposalLinks),
			"taxEvents", len(result.TaxEvents))
	}

	if !*serve {
		logger.L.Info("Serve disabled, exiting after pipeline run.")
		return
	}

	ledgerHandler := handlers.NewLedgerHandler(store, reportCache)
	pipelineHandler := handlers.NewPipelineHandler(pipelineService, reportCache)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	withAuth := func(handler http.HandlerFunc) http.Handler {
		return handlers.AuthMiddleware(authService, handler)
	}

	apiRouter.Handle("GET /api/events/raw", withAuth(ledgerHandler.HandleGetRawEvents))
	apiRouter.Handle("GET /api/events/effective", withAuth(ledgerHandler.HandleGetEffectiveEvents))
	apiRouter.Handle("GET /api/corrections/audit", withAuth(ledgerHandler.HandleGetCorrectionAudit))
	apiRouter.Handle("GET /api/lots", withAuth(ledgerHandler.HandleGetAcquisitionLots))
	apiRouter.Handle("GET /api/disposals", withAuth(ledgerHandler.HandleGetDisposalLinks))
	apiRouter.Handle("GET /api/tax-events", withAuth(ledgerHandler.HandleGetTaxEvents))
	apiRouter.Handle("GET /api/balances", withAuth(ledgerHandler.HandleGetWalletBalances))
	apiRouter.Handle("POST /api/pipeline/run", withAuth(pipelineHandler.HandleRunPipeline))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "CRYPTOFOLIO Backend is running"})
		} else {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
				http.NotFound(w, r)
			}
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
