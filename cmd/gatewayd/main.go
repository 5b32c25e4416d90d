package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schematichub/overview-gateway/internal/config"
	"github.com/schematichub/overview-gateway/internal/core"
	"github.com/schematichub/overview-gateway/internal/httpserver"
	"github.com/schematichub/overview-gateway/internal/logging"
	"github.com/schematichub/overview-gateway/internal/ratelimit"
	"github.com/schematichub/overview-gateway/internal/relay"
	"github.com/schematichub/overview-gateway/internal/version"
)

func main() {
	cfg, err := config.LoadGatewayConfig(".")
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.SetPrefix("[gatewayd] ")
	if target := strings.TrimSpace(cfg.LogFile); target != "" {
		rot, err := logging.NewRotatingWriter(target, logging.Options{MaxBytes: logging.DefaultMaxBytes, MaxBackups: 14})
		if err != nil {
			log.Fatalf("init rotating log: %v", err)
		}
		// Mirror to stdout as well for foreground runs
		log.SetOutput(io.MultiWriter(os.Stdout, rot))
		defer rot.Close()
	}
	log.Printf("starting overview gateway %s env=%s", version.FullInfo(), cfg.Environment)

	gw, err := core.Build(cfg, log.Default())
	if err != nil {
		log.Fatalf("assemble gateway: %v", err)
	}
	defer gw.Close()

	var limiter *ratelimit.Middleware
	if cfg.RateLimit.Enabled {
		l := ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimit.RPS,
			Burst:             float64(cfg.RateLimit.Burst),
			CleanupInterval:   5 * time.Minute,
		})
		defer l.Close()
		limiter = ratelimit.NewMiddleware(l, true, logging.New(log.Writer(), "gatewayd/ratelimit")).
			OnThrottle(func(*http.Request) { gw.Metrics.RecordThrottled() })
		log.Printf("inbound rate limit enabled rps=%.2f burst=%d", cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	}

	httpSrv, err := httpserver.New(httpserver.Config{
		Chat:         gw.Chat,
		Prompts:      gw.Prompts,
		ChatModel:    cfg.ChatModel,
		SummaryModel: cfg.SummaryModel,
		Relay: relay.Options{
			Buffer:    cfg.StreamBuffer,
			KeepAlive: cfg.StreamKeepAlive,
			Logger:    logging.New(log.Writer(), "relay"),
		},
		Batch:     gw.Orchestrator,
		History:   gw.History,
		Cache:     gw.History,
		Health:    gw.Health,
		Metrics:   gw.Metrics,
		RateLimit: limiter,
	})
	if err != nil {
		log.Fatalf("init http server: %v", err)
	}
	httpSrv.SetLogger(cfg.LogLevel, logging.New(log.Writer(), "gatewayd/http"))

	// No WriteTimeout: chat streams and batch hooks run for as long as the
	// provider takes, bounded by request_timeout on the upstream client.
	srv := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           httpSrv.Router(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("gateway server listening on %s", cfg.HTTPAddress)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server error: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)
	<-sigs

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
