package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"bizpulse-backend/internal/analysis"
	"bizpulse-backend/internal/llm"
	openai "bizpulse-backend/internal/llm/openai"
	"bizpulse-backend/internal/notify"
	"bizpulse-backend/internal/queue"
	"bizpulse-backend/internal/review"
	"bizpulse-backend/internal/shared/config"
	"bizpulse-backend/internal/shared/server"
	"bizpulse-backend/internal/shared/storage/db"
)

// App holds shared dependencies.
type App struct {
	Config            config.Config
	Router            *gin.Engine
	DB                *sql.DB
	Queue             queue.Client
	Hub               *notify.Hub
	AnalysisRepo      analysis.Repo
	ReviewRepo        review.Repo
	AnalysisService   *analysis.Service
	AnalysisProcessor AnalysisProcessor
	ReviewService     *review.Service
	AnalysisHandler   *analysis.Handler
	AnalysisWS        *analysis.WSHandler
	ReviewHandler     *review.Handler
}

// AnalysisProcessor allows callers to override run processing for tests.
type AnalysisProcessor interface {
	ProcessRun(ctx context.Context, runID string) error
}

// Build prepares shared dependencies and wires routes.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Queue:  queueClient,
		Hub:    notify.NewHub(),
	}

	if err := buildServices(app); err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          app.Config,
		AnalysisHandler: app.AnalysisHandler,
		AnalysisWS:      app.AnalysisWS,
		ReviewHandler:   app.ReviewHandler,
	})

	return app, nil
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	opts := db.OptionsFromEnv(db.DefaultServerOptions())
	sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if cfg.QueueURL == "" {
		return nil, nil
	}
	return queue.NewSQSClient(ctx, cfg.QueueURL, cfg.AWSRegion)
}

func buildServices(app *App) error {
	var analysisRepo analysis.Repo
	var reviewRepo review.Repo
	if app.DB != nil {
		analysisRepo = &analysis.PGRepo{DB: app.DB}
		reviewRepo = &review.PGRepo{DB: app.DB}
	} else {
		analysisRepo = analysis.NewMemoryRepo()
		reviewRepo = review.NewMemoryRepo(review.DefaultQuestions())
	}

	var llmClient llm.Client
	if strings.TrimSpace(app.Config.OpenAIAPIKey) != "" {
		client, err := openai.NewClient(
			app.Config.OpenAIAPIKey,
			app.Config.OpenAIBaseURL,
			app.Config.OpenAIModel,
			app.Config.AIRequestTimeout,
		)
		if err != nil {
			return err
		}
		llmClient = client
	} else {
		log.Printf("bootstrap: OPENAI_API_KEY empty; analysis runs will fail until configured")
	}

	analysisSvc := &analysis.Service{
		Repo:        analysisRepo,
		LLM:         llmClient,
		Notifier:    app.Hub,
		Queue:       app.Queue,
		Temperature: app.Config.AITemperature,
		MaxTokens:   app.Config.AIMaxTokens,
	}
	reviewSvc := &review.Service{Repo: reviewRepo}

	// Cross-wire the two services: runs pull answers from completed
	// sessions, and finishing a session triggers a run.
	analysisSvc.Answers = reviewSvc
	reviewSvc.Analysis = analysisSvc

	app.AnalysisRepo = analysisRepo
	app.ReviewRepo = reviewRepo
	app.AnalysisService = analysisSvc
	app.AnalysisProcessor = analysisSvc
	app.ReviewService = reviewSvc
	app.AnalysisHandler = analysis.NewHandler(analysisSvc)
	app.AnalysisWS = analysis.NewWSHandler(analysisSvc, app.Hub)
	app.ReviewHandler = review.NewHandler(reviewSvc)
	return nil
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
