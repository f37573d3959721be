package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"chatrelay/internal/config"
	"chatrelay/internal/metrics"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/relay"
	"chatrelay/internal/server"
	"chatrelay/internal/upstream"
	"chatrelay/internal/util"
)

func main() {
	configPath := flag.String("config", config.RelayConfigPath, "path to the relay config file")
	envPath := flag.String("env", ".env", "path to an optional .env file")
	flag.Parse()

	if err := config.LoadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadRelay(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := util.InitLogger(cfg.LogLevel, cfg.LogFile, os.Stdout)
	defer cleanup()

	var client upstream.Client
	credentialOptional := false
	switch cfg.Provider {
	case config.ProviderOllama:
		client = upstream.NewOllama(cfg.OllamaURL)
		credentialOptional = true
	default:
		client = upstream.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
	if cfg.OpenAIAPIKey == "" && !credentialOptional {
		logger.Warn("OPENAI_API_KEY is not set; chat requests will fail until it is configured")
	}
	rel := relay.New(relay.Config{
		APIKey:             cfg.OpenAIAPIKey,
		CredentialOptional: credentialOptional,
		Upstream:           client,
		Model:              cfg.Model,
		Temperature:        cfg.Temperature,
		MaxTokens:          cfg.MaxTokens,
	})

	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		util.Fatal("invalid trusted proxy cidrs", "err", err)
	}

	var limiter server.Limiter
	if cfg.ChatRateLimitPerMinute > 0 {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		fw, err := ratelimit.NewFixedWindow(redisClient, "chatrelay:ratelimit:chat", cfg.ChatRateLimitPerMinute, time.Minute)
		if err != nil {
			util.Fatal("failed to init rate limiter", "err", err)
		}
		limiter = fw
	}

	httpServer := server.New(server.Config{
		Relay:          rel,
		Metrics:        metrics.NewRelay(),
		Limiter:        limiter,
		TrustedProxies: proxies,
	})

	streamTimeout, _ := config.ParseStreamTimeout(cfg.StreamTimeout)
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           httpServer.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      streamTimeout,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("relay listening", "addr", addr, "provider", cfg.Provider, "model", rel.Model())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	logger.Info("relay stopped")
}
