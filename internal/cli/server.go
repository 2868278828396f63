package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/domain"
	"live-quiz-service/internal/infra/memory"
	pgloader "live-quiz-service/internal/infra/postgres"
	redisinfra "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

// eventBus is what the server needs from a broadcaster: the engine publishes
// through it and the websocket transport subscribes to it.
type eventBus interface {
	Publish(ctx context.Context, channel string, envelope domain.EventEnvelope) error
	Subscribe(channel string) (<-chan domain.EventEnvelope, func(), error)
}

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestions())
	if pool != nil {
		loader = pgloader.NewQuestionLoader(pool)
	}

	questionTTL := config.Duration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionTTL)
	}

	var sessions app.SessionStore
	var answers app.AnswerStore
	var bus eventBus
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, redisTTL)
		answers = redisinfra.NewAnswerStore(redisClient, redisTTL)
		bus = redisinfra.NewBroadcaster(redisClient, logger)
	} else {
		sessions = memory.NewSessionStore()
		answers = memory.NewAnswerStore()
		bus = memory.NewBroadcaster()
	}

	engineCfg := app.DefaultConfig()
	engineCfg.StartDelay = config.Duration(cfg.Engine.StartDelay, engineCfg.StartDelay)
	engineCfg.AdvanceGrace = config.Duration(cfg.Engine.AdvanceGrace, engineCfg.AdvanceGrace)

	service := app.NewSessionService(sessions, answers, questions, bus, logger, engineCfg)
	wsHandler := transport.NewWSHandler(service, bus, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	mux.HandleFunc("/ws/admin", wsHandler.ServeAdminWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		logger.Info("starting quiz session service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuestions provides minimal demo content; a Postgres-backed loader
// replaces this in production.
func sampleQuestions() map[string]domain.Question {
	return map[string]domain.Question{
		"q1": {
			ID:               "q1",
			Text:             "What is 2 + 2?",
			Options:          []string{"3", "4", "5"},
			CorrectOption:    1,
			TimeLimitSeconds: 15,
		},
		"q2": {
			ID:               "q2",
			Text:             "Which planet is closest to the sun?",
			Options:          []string{"Venus", "Earth", "Mercury", "Mars"},
			CorrectOption:    2,
			TimeLimitSeconds: 20,
		},
	}
}
