// Command server is cloakgate's composition root: it builds every
// component once at startup and wires them together by reference, per
// spec.md §9's "Singleton service instances with lazy init → composition
// root" design note. Grounded on the teacher's go-backend cmd/server/main.go
// (chi router + middleware stack, supervised background goroutines,
// signal-driven graceful shutdown), generalized from the site/proxy/agent
// surface to the cloaking decision pipeline.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veil-waf/cloakgate/internal/analyzer"
	"github.com/veil-waf/cloakgate/internal/blacklist"
	"github.com/veil-waf/cloakgate/internal/cache"
	"github.com/veil-waf/cloakgate/internal/campaign"
	"github.com/veil-waf/cloakgate/internal/compose"
	"github.com/veil-waf/cloakgate/internal/config"
	"github.com/veil-waf/cloakgate/internal/detect"
	"github.com/veil-waf/cloakgate/internal/geo"
	"github.com/veil-waf/cloakgate/internal/llmreview"
	"github.com/veil-waf/cloakgate/internal/pgstore"
	"github.com/veil-waf/cloakgate/internal/responder"
	"github.com/veil-waf/cloakgate/internal/server"
	"github.com/veil-waf/cloakgate/internal/sink"
	"github.com/veil-waf/cloakgate/internal/store"
	"github.com/veil-waf/cloakgate/internal/stream"
	"github.com/veil-waf/cloakgate/internal/threatintel"
	"github.com/veil-waf/cloakgate/internal/visitor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Configuration invalid at startup: process aborts before accepting
		// traffic, per spec.md §7.
		logger := server.SetupLogger("info")
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := server.SetupLogger(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pgstore.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to connect to persistent store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	kv := store.New(cfg.RedisAddr, cfg.RedisDB)
	if err := kv.Ping(ctx); err != nil {
		logger.Error("failed to connect to key-value store", "error", err)
		os.Exit(1)
	}
	defer kv.Close()

	geoLookuper, err := geo.Open(cfg.GeoIPDatabasePath)
	if err != nil {
		logger.Error("failed to open GeoIP database", "error", err)
		os.Exit(1)
	}
	defer geoLookuper.Close()

	extractor := visitor.NewExtractor(geoLookuper, cfg.TrustedProxyCIDRs)
	decisionCache := cache.New(kv, logger)
	blacklistChecker := blacklist.New(db, kv, logger)
	campaignResolver := campaign.New(db)
	streamSelector := stream.New(db, logger)
	composer := compose.New(cfg.BlockedRedirectURL, cfg.NotFoundRedirectURL)

	var providers []threatintel.Provider
	for name, key := range cfg.ProviderAPIKeys {
		providers = append(providers, threatintel.NewHTTPProvider(name, "https://"+name+".example/v1/lookup", key, 1.0, 3))
	}
	intel := threatintel.New(providers, kv, threatintel.FallbackPolicy(cfg.ThreatIntelFallback), 60, 10000, logger)

	networkAnalyzer := analyzer.NewNetworkAnalyzer(intel)
	engine := detect.New(analyzer.Bank(networkAnalyzer), cfg.AnalyzerWeights, cfg.BotThreshold, cfg.SuspiciousThreshold, logger)

	var metricWriter sink.MetricWriter
	if influxHost := os.Getenv("INFLUXDB_HOST"); influxHost != "" {
		writer, err := sink.NewInfluxMetricWriter(influxHost, os.Getenv("INFLUXDB_TOKEN"), os.Getenv("INFLUXDB_DATABASE"))
		if err != nil {
			logger.Warn("influxdb metric writer unavailable, metrics will only be logged", "error", err)
		} else {
			metricWriter = writer
			defer writer.Close()
		}
	}
	trafficSink := sink.New(cfg.SinkQueueCapacity, cfg.SinkWorkerCount, db, metricWriter, logger)

	handler := &responder.Handler{
		Extractor: extractor,
		Cache:     decisionCache,
		Blacklist: blacklistChecker,
		Engine:    engine,
		Campaigns: campaignResolver,
		Streams:   streamSelector,
		Composer:  composer,
		Sink:      trafficSink,
		Budget:    cfg.RequestBudget,
		Log:       logger,
	}
	if cfg.AsyncReviewEnabled {
		handler.Reviewer = llmreview.New(logger)
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := kv.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	handler.Routes(r)

	go server.RunWithRecovery(ctx, logger, "blacklist-checker", blacklistChecker.Start)
	go server.RunWithRecovery(ctx, logger, "decision-cache-invalidation", func(ctx context.Context) {
		decisionCache.WatchInvalidations(ctx, func(campaignID int64) {
			campaignResolver.InvalidateByID(campaignID)
			decisionCache.DeleteByCampaign(ctx, campaignID)
			logger.Info("decision cache: campaign invalidated", "campaign_id", campaignID)
		})
	})
	go server.RunWithRecovery(ctx, logger, "traffic-sink", trafficSink.Run)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("cloakgate starting", "addr", cfg.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("cloakgate stopped")
}
