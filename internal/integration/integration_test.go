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

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/domain"
	"interview-battle-service/internal/infra/memory"
	"interview-battle-service/internal/infra/postgres"
	pgmigrations "interview-battle-service/internal/infra/postgres/migrations"
	infraredis "interview-battle-service/internal/infra/redis"
)

func TestInterviewEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := openBun(pgURL)
	defer db.Close()
	migrateAndSeed(t, ctx, db, "s1", sampleQuestions())

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	exporter := postgres.NewResultsExporter(db)
	questions := infraredis.NewQuestionRepository(redisClient, postgres.NewQuestionLoader(pool), 5*time.Minute)
	store := infraredis.NewSessionStore(redisClient, memory.NewSessionStore(nil))
	service := app.NewInterviewService(store, app.NewGateway(16), app.Options{
		Questions: questions,
		Exporter:  exporter,
		Archive:   exporter,
	})

	if _, err := service.Join(ctx, app.JoinRequest{SessionID: "s1", UserID: "u1", DisplayName: "Alice", ConnectionID: "c1"}); err != nil {
		t.Fatalf("join host: %v", err)
	}
	if _, err := service.Join(ctx, app.JoinRequest{SessionID: "s1", UserID: "u2", DisplayName: "Bob", ConnectionID: "c2"}); err != nil {
		t.Fatalf("join guest: %v", err)
	}

	// No inline questions: the stored set is loaded through redis from postgres.
	if err := service.Start(ctx, app.StartRequest{SessionID: "s1", ConnectionID: "c1"}); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, sub := range []struct {
		conn, user string
		score      float64
	}{{"c1", "u1", 7}, {"c2", "u2", 9}} {
		score := sub.score
		if _, err := service.SubmitAnswer(ctx, app.SubmitRequest{
			SessionID: "s1", ConnectionID: sub.conn, UserID: sub.user,
			QuestionIndex: 0, Answer: "a thread with a small stack", Score: &score,
		}); err != nil {
			t.Fatalf("submit %s: %v", sub.user, err)
		}
	}

	if err := service.EndSession(ctx, "s1", "c1"); err != nil {
		t.Fatalf("end: %v", err)
	}

	drainCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := service.Drain(drainCtx); err != nil {
		t.Fatalf("drain: %v", err)
	}

	var reason string
	if err := db.NewSelect().Table("interview_results").Column("reason").Where("session_id = ?", "s1").Scan(ctx, &reason); err != nil {
		t.Fatalf("select results row: %v", err)
	}
	if reason != "ended-by-host" {
		t.Fatalf("expected ended-by-host, got %q", reason)
	}

	stored, err := exporter.LoadResults(ctx, "s1")
	if err != nil {
		t.Fatalf("load results: %v", err)
	}
	if stored.Scores["u1"].Score != 7 || stored.Scores["u2"].Score != 9 {
		t.Fatalf("unexpected stored scores %+v", stored.Scores)
	}

	store.Remove("s1")
	archived, err := service.Results(ctx, "s1")
	if err != nil {
		t.Fatalf("results after eviction: %v", err)
	}
	if archived.Reason != "ended-by-host" {
		t.Fatalf("expected archived results, got %+v", archived)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "interview", "POSTGRES_PASSWORD": "interviewpass", "POSTGRES_DB": "interviewdb"},
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
	dsn := fmt.Sprintf("postgres://interview:interviewpass@%s:%s/interviewdb?sslmode=disable", host, port.Port())
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
	return fmt.Sprintf("redis://%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func openBun(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func migrateAndSeed(t *testing.T, ctx context.Context, db *bun.DB, sessionID string, questions []domain.Question) {
	t.Helper()
	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	data, err := json.Marshal(questions)
	if err != nil {
		t.Fatalf("marshal questions: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO interview_question_sets (session_id, questions) VALUES (?, ?::jsonb)
		 ON CONFLICT (session_id) DO UPDATE SET questions = EXCLUDED.questions`,
		sessionID, string(data)); err != nil {
		t.Fatalf("insert question set: %v", err)
	}
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{ID: "q1", Text: "What is a goroutine?", CorrectAnswer: "a lightweight thread managed by the runtime", TimeLimit: 30, MaxScore: 10},
		{ID: "q2", Text: "What does a nil map read return?", CorrectAnswer: "the zero value", TimeLimit: 30, MaxScore: 10},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
