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

	"github.com/joho/godotenv"

	"github.com/lxw15337674/memox-sub000/assistant"
	"github.com/lxw15337674/memox-sub000/cache"
	"github.com/lxw15337674/memox-sub000/config"
	"github.com/lxw15337674/memox-sub000/embedding"
	"github.com/lxw15337674/memox-sub000/llm"
	"github.com/lxw15337674/memox-sub000/monitor"
	"github.com/lxw15337674/memox-sub000/search"
	"github.com/lxw15337674/memox-sub000/server"
	"github.com/lxw15337674/memox-sub000/server/store"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	repair := flag.Bool("repair", false, "regenerate missing or invalid embeddings, then exit")
	workers := flag.Int("repair-workers", 4, "concurrent embedding requests during -repair")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *repair, *workers, logger); err != nil {
		logger.Error("memox-server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, repair bool, workers int, logger *slog.Logger) error {
	st, err := store.Open(cfg.DatabaseDSN, cfg.Embed.Dimensions)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	logger.Info("store ready", "dsn_kind", dsnKind(cfg.DatabaseDSN), "dimensions", cfg.Embed.Dimensions)

	metrics := monitor.New()

	embedClient, err := llm.NewEmbeddingClient(cfg.Embed.Provider, llm.ClientConfig{
		APIKey:     cfg.Embed.APIKey,
		BaseURL:    cfg.Embed.APIBase,
		Timeout:    llm.DefaultClientConfig().Timeout,
		Dimensions: cfg.Embed.Dimensions,
	})
	if err != nil {
		return err
	}
	gen := embedding.NewGenerator(embedClient, embedding.GeneratorConfig{
		Model:      cfg.Embed.Model,
		Dimensions: cfg.Embed.Dimensions,
		Logger:     logger,
		Metrics:    metrics,
	})

	if repair {
		report, err := embedding.NewRepairer(st, gen, cfg.Embed.Dimensions, workers).Run(ctx)
		if err != nil {
			return fmt.Errorf("repair: %w", err)
		}
		logger.Info("repair complete", "checked", report.Checked, "repaired", report.Repaired,
			"skipped", report.Skipped, "failed", report.Failed)
		return nil
	}

	queryEmbedder, err := embedding.NewMemoGenerator(gen, cfg.Embed.QueryCacheSize)
	if err != nil {
		return fmt.Errorf("query embedding cache: %w", err)
	}
	repo := embedding.NewRepository(st, gen, cfg.Embed.Dimensions,
		embedding.WithLogger(logger),
		embedding.WithMetrics(metrics),
		embedding.WithPersistTimeout(cfg.PersistTimeout),
	)
	defer repo.Wait()

	chatClient, err := llm.NewChatClient(cfg.Chat.Provider, llm.ClientConfig{
		APIKey:  cfg.Chat.APIKey,
		BaseURL: cfg.Chat.APIBase,
		Timeout: int(cfg.RequestTimeout / time.Second),
	})
	if err != nil {
		return err
	}

	respCache, err := newCache(ctx, cfg.Cache, logger, metrics)
	if err != nil {
		return err
	}
	defer respCache.Close()
	go respCache.Sweeper(ctx, cfg.Cache.SweepInterval)

	srv := server.New(server.Config{
		Embedder:   queryEmbedder,
		Embeddings: repo,
		Searcher:   search.NewEngine(st, search.WithLogger(logger), search.WithMetrics(metrics)),
		Formatter: search.NewFormatter(search.FormatterOptions{
			PreviewLength: cfg.PreviewLength,
			DateLayout:    cfg.DisplayDateLayout,
		}),
		Assistant: assistant.NewSynthesizer(chatClient, cfg.Chat.Model, assistant.SynthesizerOptions{
			MaxTokens:   cfg.Chat.MaxTokens,
			Temperature: &cfg.Chat.Temperature,
			Logger:      logger,
		}),
		Memos:          st,
		Cache:          respCache,
		Metrics:        metrics,
		Logger:         logger,
		Related:        server.Limits{TopK: cfg.Related.TopK, MaxDistance: cfg.Related.MaxDistance},
		Search:         server.Limits{TopK: cfg.Search.TopK, MaxDistance: cfg.Search.MaxDistance},
		CacheTTL:       cfg.Cache.TTL,
		RequestTimeout: cfg.RequestTimeout,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting memox server", "addr", cfg.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func newCache(ctx context.Context, cfg config.CacheConfig, logger *slog.Logger, metrics *monitor.Metrics) (*cache.Cache, error) {
	var backend cache.Backend = cache.NewMemoryBackend()
	if cfg.Backend == "redis" {
		rb, err := cache.NewRedisBackend(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		backend = rb
	}
	logger.Info("response cache ready", "backend", cfg.Backend, "ttl", cfg.TTL)
	return cache.New(backend, cache.WithLogger(logger), cache.WithMetrics(metrics)), nil
}

func dsnKind(dsn string) string {
	if store.IsPostgresDSN(dsn) {
		return "postgres"
	}
	return "sqlite"
}
