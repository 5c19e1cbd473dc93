package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"rlmcore/internal/config"
	"rlmcore/internal/objectstore"
	"rlmcore/internal/observability"
	"rlmcore/internal/rlm/candidates"
	"rlmcore/internal/rlm/executor"
	"rlmcore/internal/rlm/glimpsecache"
	"rlmcore/internal/rlm/httpapi"
	"rlmcore/internal/rlm/notify"
	"rlmcore/internal/rlm/orchestrator"
	"rlmcore/internal/rlm/retrieval"
	"rlmcore/internal/rlm/rootlm"
	"rlmcore/internal/rlm/runstore"
	"rlmcore/internal/rlm/sandbox"
	"rlmcore/internal/rlm/trace"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		log.Fatal().Err(err).Msg("failed to load config")
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx := context.Background()
	shutdown, err := observability.InitOTel(ctx, cfg.Obs())
	if err != nil {
		log.Warn().Err(err).Msg("otel init failed, continuing without observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	var objects objectstore.ObjectStore
	if cfg.S3.Bucket != "" {
		store, err := objectstore.NewS3Store(ctx, cfg.S3)
		if err != nil {
			log.Warn().Err(err).Msg("s3 object store init failed, large-content overflow disabled")
		} else {
			objects = store
		}
	}

	candidateOpts := []candidates.Option{}
	if objects != nil {
		candidateOpts = append(candidateOpts, candidates.WithObjectStore(objects, cfg.S3.InlineThresholdByte))
	}
	candidateStore := candidates.New(pool, candidateOpts...)
	retrievalSvc := retrieval.New(candidateStore)

	httpClient := observability.NewHTTPClient(nil)

	var mirror *trace.ClickHouseMirror
	if cfg.ClickHouse.DSN != "" {
		m, err := trace.NewClickHouseMirror(ctx, cfg.ClickHouse.DSN, "", "rlm_trace_events", 5)
		if err != nil {
			log.Warn().Err(err).Msg("clickhouse trace mirror init failed, continuing with file trace only")
		} else {
			mirror = m
		}
	}
	var traceMirror trace.Mirror
	if mirror != nil {
		traceMirror = mirror
	}
	tracer := trace.New(cfg.TraceDir, traceMirror)

	var glimpseCache *glimpsecache.Cache
	if cfg.RedisURL != "" {
		redisClient, err := glimpsecache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis client init failed, glimpse cache disabled")
		} else {
			glimpseCache = glimpsecache.New(redisClient, cfg.GlimpseTTLSeconds)
		}
	}

	runs := runstore.New(pool)
	exec := executor.New(candidateStore, sandbox.New(), glimpseCache)
	notifier := notify.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)

	orchCfg := orchestrator.Config{
		RootLMBackend:   cfg.RootLMBackend,
		VllmBaseURL:     cfg.Vllm.BaseURL,
		VllmAPIKey:      cfg.Vllm.APIKey,
		VllmModel:       cfg.Vllm.Model,
		VllmMaxTokens:   cfg.Vllm.MaxTokens,
		VllmTemperature: cfg.Vllm.Temperature,
		VllmDebug:       cfg.Vllm.Debug,
		AnthropicAPIKey: cfg.Anthropic.APIKey,
		AnthropicModel:  cfg.Anthropic.Model,
		PolicyDefaults:  rootlm.LoadPolicyDefaults(cfg.PolicyPath),
	}

	orch := orchestrator.New(retrievalSvc, runs, tracer, exec, httpClient, notifier, orchCfg)
	assembler := orchestrator.NewAssemblyService(retrievalSvc, runs, tracer, exec, orchCfg)

	app := httpapi.New(orch, assembler, tracer)

	addr := ":8080"
	if v := os.Getenv("RLMD_ADDR"); v != "" {
		addr = v
	}
	log.Info().Str("addr", addr).Msg("rlmd listening")
	if err := http.ListenAndServe(addr, app.Router()); err != nil {
		log.Fatal().Err(err).Msg("rlmd server exited")
	}
}
