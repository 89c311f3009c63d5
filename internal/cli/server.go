package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"interview-battle-service/internal/app"
	"interview-battle-service/internal/config"
	"interview-battle-service/internal/domain"
	"interview-battle-service/internal/infra/memory"
	"interview-battle-service/internal/infra/natsbus"
	"interview-battle-service/internal/infra/postgres"
	redisinfra "interview-battle-service/internal/infra/redis"
	"interview-battle-service/internal/infra/scorer"
	transport "interview-battle-service/internal/transport/http"
)

const shutdownTimeout = 10 * time.Second

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the interview battle server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(parent context.Context, configPath, portFlag string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg.Postgres.URL); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}

	clock := clockwork.NewRealClock()
	retention := config.TTLDuration(cfg.Session.Retention, time.Hour)

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")
	}

	var pool *pgxpool.Pool
	var exporter *postgres.ResultsExporter
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()

		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		exporter = postgres.NewResultsExporter(db)
		log.Info().Msg("connected to postgres")
	}

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(sampleQuestionSets())
	if pool != nil {
		loader = postgres.NewQuestionLoader(pool)
	}

	questionsTTL := config.TTLDuration(cfg.Questions.TTL, 10*time.Minute)
	var questions app.QuestionRepository
	if redisClient != nil {
		questions = redisinfra.NewQuestionRepository(redisClient, loader, questionsTTL)
	} else {
		questions = memory.NewQuestionRepository(loader, questionsTTL)
	}

	var store app.SessionRepository = memory.NewSessionStore(clock)
	if redisClient != nil {
		store = redisinfra.NewSessionStore(redisClient, store)
	}

	var exporters app.MultiExporter
	var archive app.ResultsArchive
	if redisClient != nil {
		results := redisinfra.NewResultsStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
		exporters = append(exporters, results)
		archive = results
	}
	if exporter != nil {
		exporters = append(exporters, exporter)
		if archive == nil {
			archive = exporter
		}
	}
	if cfg.NATS.URL != "" {
		natsCfg := natsbus.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		if cfg.NATS.Subject != "" {
			natsCfg.Subject = cfg.NATS.Subject
		}
		publisher, err := natsbus.Connect(natsCfg)
		if err != nil {
			return err
		}
		defer publisher.Close()
		exporters = append(exporters, publisher)
		log.Info().Str("url", cfg.NATS.URL).Str("subject", natsCfg.Subject).Msg("connected to nats")
	}

	opts := app.Options{
		BreakDuration: config.TTLDuration(cfg.Session.BreakDuration, 3*time.Second),
		Retention:     retention,
		IdleTimeout:   config.TTLDuration(cfg.Session.IdleTimeout, time.Hour),
		ScoreTimeout:  config.TTLDuration(cfg.Session.ScoreTimeout, 30*time.Second),
		Clock:         clock,
		Questions:     questions,
		Archive:       archive,
	}
	if len(exporters) > 0 {
		opts.Exporter = exporters
	}
	if cfg.Scorer.URL != "" {
		client := scorer.NewClient(cfg.Scorer.URL, config.TTLDuration(cfg.Scorer.Timeout, 20*time.Second))
		if cfg.Scorer.Token != "" {
			client.SetHeader("Authorization", "Bearer "+cfg.Scorer.Token)
		}
		opts.Scorer = client
	}

	service := app.NewInterviewService(store, app.NewGateway(cfg.Session.SendBuffer), opts)

	connCfg := transport.DefaultConnectionConfig()
	if cfg.Session.SendBuffer > 0 {
		connCfg.SendBuffer = cfg.Session.SendBuffer
	}
	wsHandler := transport.NewWSHandler(service, connCfg)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(service, wsHandler, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", finalPort).Msg("starting interview battle service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
		if err := service.Drain(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("background work still running at shutdown")
		}
		return nil
	})
	return g.Wait()
}

// sampleQuestionSets seeds the static loader when no database is configured.
func sampleQuestionSets() map[string][]domain.Question {
	return map[string][]domain.Question{
		"demo": {
			{
				ID:            "q1",
				Text:          "Explain the difference between a goroutine and an OS thread.",
				CorrectAnswer: "Goroutines are scheduled by the Go runtime onto a small pool of OS threads and start with a small growable stack.",
				TimeLimit:     60,
				Difficulty:    2,
				Skills:        []string{"go", "concurrency"},
				MaxScore:      10,
			},
			{
				ID:            "q2",
				Text:          "What happens when you send on a closed channel?",
				CorrectAnswer: "The send panics.",
				TimeLimit:     30,
				Difficulty:    1,
				Skills:        []string{"go"},
				MaxScore:      10,
			},
		},
	}
}
