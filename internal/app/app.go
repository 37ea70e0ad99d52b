// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/markdave123-py/Rehearsal/internal/config"
	"github.com/markdave123-py/Rehearsal/internal/core"
	"github.com/markdave123-py/Rehearsal/internal/core/background"
	db "github.com/markdave123-py/Rehearsal/internal/core/database"
	"github.com/markdave123-py/Rehearsal/internal/core/ingestion_engine"
	"github.com/markdave123-py/Rehearsal/internal/core/llm"
	"github.com/markdave123-py/Rehearsal/internal/core/logger"
	objectclient "github.com/markdave123-py/Rehearsal/internal/core/object-client"
	"github.com/markdave123-py/Rehearsal/internal/core/ratelimit"
	"github.com/markdave123-py/Rehearsal/internal/core/voice"
	"github.com/markdave123-py/Rehearsal/internal/services"
)

const backgroundTaskTimeout = 5 * time.Minute

type App struct {
	DBClient     *db.DatabaseClient
	ObjectClient *objectclient.S3Client
	Pool         *background.Pool
	Server       *Server

	log     *logger.Logger
	closers []func() error
}

// generators are the three LLM roles the services use.
type generators struct {
	grader, analyzer, roleplay core.LLMProvider
	graderModel, analysisModel string
	closer                     func() error
}

func NewApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{log: log}

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	a.closers = append(a.closers, dbClient.Close)
	log.Info("database initialized and ready", "driver", cfg.DatabaseDriver)

	objClient, err := objectclient.NewS3Client(appCtx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ObjectClient = objClient
	log.Info("object client initialized and ready", "bucket", cfg.BucketName)

	gens, err := newGenerators(appCtx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, gens.closer)

	pool, err := background.NewPool(cfg.BackgroundWorkers, backgroundTaskTimeout, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pool = pool

	limiter, closeLimiter := ratelimit.Open(appCtx, cfg.RedisURL, log)
	a.closers = append(a.closers, closeLimiter)

	// Retrieval needs pgvector and an embedding key; without them procedures
	// are stored but never indexed and grading runs without references.
	var embedder core.EmbeddingProvider
	var ingestor ingestion_engine.Ingestor
	if cfg.AIAPIKey != "" && cfg.DatabaseDriver == db.DriverPostgres {
		geminiEmbedder, err := llm.NewGeminiEmbedder(appCtx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
		}
		a.closers = append(a.closers, geminiEmbedder.Close)
		embedder = geminiEmbedder

		procIngestor := ingestion_engine.NewProcedureIngestor(dbClient, geminiEmbedder, ingestion_engine.DefaultIngestConfig(), log)
		procIngestor.Start(ctx, 2)
		ingestor = procIngestor
	} else {
		log.Warn("reference retrieval disabled", "driver", cfg.DatabaseDriver, "embedding_key_set", cfg.AIAPIKey != "")
	}

	var minter services.TokenMinter
	if m, err := voice.NewMinter(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.LiveKitURL, cfg.VoiceTokenTTL); err == nil {
		minter = m
	} else {
		log.Warn("voice practice disabled", "error", err)
	}

	svc := Services{
		Identity:    services.NewIdentityService(dbClient, cfg.InternalServiceSecret, cfg.PartnerAPIKeys, log),
		Users:       services.NewUserService(dbClient, log),
		Documents:   services.NewDocumentService(dbClient, objClient, ingestion_engine.NewDocconvExtractor(false), ingestor, log),
		Scenarios:   services.NewScenarioService(dbClient, gens.roleplay, log),
		Assignments: services.NewAssignmentService(dbClient, log),
		Sessions:    services.NewSessionService(dbClient, gens.roleplay, objClient, pool, log),
		Evaluations: services.NewEvaluationService(dbClient, gens.grader, gens.analyzer, embedder, limiter, pool,
			services.EvaluationConfig{
				GraderModel:   gens.graderModel,
				AnalysisModel: gens.analysisModel,
				PerHour:       cfg.EvaluationsPerHour,
			}, log),
		Flags: services.NewFlagService(dbClient, limiter, cfg.FeedbackPerHour, log),
		Voice: services.NewVoiceService(dbClient, minter),
	}

	a.Server = NewServer(cfg, svc, dbClient, log)
	return a, nil
}

func newGenerators(ctx context.Context, cfg *config.Config, log *logger.Logger) (*generators, error) {
	wrap := func(p core.LLMProvider) core.LLMProvider {
		return llm.NewResilient(p, cfg.LLMTimeout, cfg.LLMMaxAttempts, log)
	}

	switch cfg.LLMProvider {
	case "gemini":
		base, err := llm.NewGeminiLLM(ctx, cfg.AIAPIKey, cfg.GenModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the gemini llm, %w", err)
		}
		// GRADER_MODEL and ANALYSIS_MODEL name OpenAI models; gemini runs every role on GEN_MODEL.
		return &generators{
			grader:        wrap(base),
			analyzer:      wrap(base),
			roleplay:      wrap(base),
			graderModel:   cfg.GenModel,
			analysisModel: cfg.GenModel,
			closer:        base.Close,
		}, nil
	default:
		base, err := llm.NewOpenAILLM(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RoleplayModel)
		if err != nil {
			return nil, fmt.Errorf("couldn't initialize the openai llm, %w", err)
		}
		return &generators{
			grader:        wrap(base.WithModel(cfg.GraderModel)),
			analyzer:      wrap(base.WithModel(cfg.AnalysisModel)),
			roleplay:      wrap(base),
			graderModel:   cfg.GraderModel,
			analysisModel: cfg.AnalysisModel,
			closer:        func() error { return nil },
		}, nil
	}
}

// Close drains background work, then releases clients in reverse order.
func (a *App) Close() {
	if a.Pool != nil {
		if err := a.Pool.Release(30 * time.Second); err != nil {
			a.log.Warn("background pool did not drain", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}
