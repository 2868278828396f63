package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/domain"
	pgloader "live-quiz-service/internal/infra/postgres"
	pgmigrations "live-quiz-service/internal/infra/postgres/migrations"
	infraredis "live-quiz-service/internal/infra/redis"
)

// Runs a full quiz against real Postgres and Redis: questions load from
// Postgres through the Redis cache, answers and sessions live in Redis,
// events flow over Redis pub/sub, and the final leaderboard comes out ranked.
func TestQuizEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedQuestions(t, ctx, pgURL, sampleQuestions())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}

	questions := infraredis.NewQuestionRepository(redisClient, pgloader.NewQuestionLoader(pool), 5*time.Minute)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	answers := infraredis.NewAnswerStore(redisClient, 5*time.Minute)
	bus := infraredis.NewBroadcaster(redisClient, nil)

	service := app.NewSessionService(sessions, answers, questions, bus, nil,
		app.Config{StartDelay: 0, AdvanceGrace: 10 * time.Millisecond, TickInterval: time.Hour})

	if _, err := service.CreateSession(ctx, "s1"); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := service.AddQuestions(ctx, "s1", []string{"q1", "q2"}); err != nil {
		t.Fatalf("add questions: %v", err)
	}
	if _, err := service.Join(ctx, "s1", "u1", "Alice"); err != nil {
		t.Fatalf("join u1: %v", err)
	}
	if _, err := service.Join(ctx, "s1", "u2", "Bob"); err != nil {
		t.Fatalf("join u2: %v", err)
	}

	events, cancel, err := bus.Subscribe(app.SessionChannel("s1"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if _, err := service.StartQuiz(ctx, "s1", domain.Settings{ParticipantBasedAutoAdvance: true}); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForEvent(t, events, domain.EventQuestionSent)

	// Alice answers correctly and fast, Bob wrong. Everyone answered, so the
	// session advances on its own.
	if _, err := service.SubmitAnswer(ctx, "s1", "u1", "q1", 1, 1000); err != nil {
		t.Fatalf("u1 answer q1: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, "s1", "u2", "q1", 0, 3000); err != nil {
		t.Fatalf("u2 answer q1: %v", err)
	}
	waitForEvent(t, events, domain.EventQuestionSent)

	if _, err := service.SubmitAnswer(ctx, "s1", "u1", "q2", 1, 2000); err != nil {
		t.Fatalf("u1 answer q2: %v", err)
	}
	if _, err := service.SubmitAnswer(ctx, "s1", "u2", "q2", 1, 4000); err != nil {
		t.Fatalf("u2 answer q2: %v", err)
	}
	waitForEvent(t, events, domain.EventLeaderboardReady)

	sess, err := service.Snapshot(ctx, "s1")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if sess.Status != domain.StatusFinished {
		t.Fatalf("expected finished session, got %s", sess.Status)
	}

	lb, err := service.Leaderboard(ctx, "s1")
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb) != 2 || lb[0].ParticipantID != "u1" || lb[1].ParticipantID != "u2" {
		t.Fatalf("expected alice leading, got %+v", lb)
	}
	if lb[0].CorrectAnswers != 2 || lb[1].CorrectAnswers != 1 {
		t.Fatalf("unexpected correct counts: %+v", lb)
	}
	if lb[0].Score <= lb[1].Score {
		t.Fatalf("expected alice's score above bob's, got %+v", lb)
	}
}

func waitForEvent(t *testing.T, events <-chan domain.EventEnvelope, want string) {
	t.Helper()
	deadline := time.After(15 * time.Second)
	for {
		select {
		case env, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed waiting for %s", want)
			}
			if env.Event == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func seedQuestions(t *testing.T, ctx context.Context, dsn string, questions []domain.Question) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	for _, q := range questions {
		data, err := json.Marshal(q)
		if err != nil {
			t.Fatalf("marshal question: %v", err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO questions (id, data) VALUES (?, ?::jsonb) ON CONFLICT (id) DO UPDATE SET data=EXCLUDED.data`, q.ID, string(data)); err != nil {
			t.Fatalf("insert question: %v", err)
		}
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{
			ID:               "q1",
			Text:             "What is 2 + 2?",
			Options:          []string{"3", "4", "5"},
			CorrectOption:    1,
			TimeLimitSeconds: 15,
		},
		{
			ID:               "q2",
			Text:             "Closest planet to the sun?",
			Options:          []string{"Venus", "Mercury"},
			CorrectOption:    1,
			TimeLimitSeconds: 20,
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
