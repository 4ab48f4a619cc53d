package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/patchroom/internal/adapters/http"
	sig "github.com/dkeye/patchroom/internal/adapters/signal"
	"github.com/dkeye/patchroom/internal/app"
	"github.com/dkeye/patchroom/internal/config"
	"github.com/dkeye/patchroom/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	config.InitLogger(os.Stderr)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	config.ApplyLogLevel(cfg.LogLevel)

	dir, closeDir, err := openDirectory(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("directory unavailable")
	}
	defer closeDir()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctrl := sig.NewSignalWSController(dir, sig.NewRegisterRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval), sig.NewMetrics(reg))
	ctrl.ReadLimit = cfg.ReadLimit
	ctrl.PingPeriod = cfg.PingPeriod

	r := router.SetupRouter(ctx, cfg, ctrl, dir, reg)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("rendezvous server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	if cfg.Discovery.Enabled {
		host, _ := os.Hostname()
		mdns, err := zeroconf.Register("patchroom-"+host, cfg.Discovery.Service, "local.", cfg.Port, []string{"path=/api/ws/signal"}, nil)
		if err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement failed")
		} else {
			log.Info().Str("service", cfg.Discovery.Service).Msg("mDNS service registered")
			defer mdns.Shutdown()
		}
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}

func openDirectory(ctx context.Context, cfg config.RedisConfig) (core.Directory, func(), error) {
	if cfg.Addr == "" {
		log.Info().Msg("using in-memory directory")
		return app.NewRegistry(), func() {}, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	dir, err := sig.NewRedisDirectory(ctx, rdb, cfg.Prefix, cfg.TTL)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, err
	}
	log.Info().Str("addr", cfg.Addr).Msg("using redis directory")
	return dir, func() {
		_ = dir.Close()
		_ = rdb.Close()
	}, nil
}
