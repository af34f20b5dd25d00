package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"live-quiz-service/internal/app"
	"live-quiz-service/internal/config"
	"live-quiz-service/internal/infra/memory"
	"live-quiz-service/internal/infra/postgres"
	infraredis "live-quiz-service/internal/infra/redis"
	transport "live-quiz-service/internal/transport/http"
)

const hubBuffer = 64

func newStartCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			setupLogging(cfg, opts.verbose)
			return runServer(cmd.Context(), cfg)
		},
	}
}

// loadConfig reads the config file and applies flag overrides.
func loadConfig(opts *options) (config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return cfg, err
	}
	if opts.port != "" {
		cfg.Server.Port = opts.port
	}
	if opts.hostKey != "" {
		cfg.Host.Key = opts.hostKey
	}
	return cfg, nil
}

// backends holds the optional infrastructure clients so they can be closed together.
type backends struct {
	redis *redis.Client
	pool  *pgxpool.Pool
	db    *bun.DB
}

func (b *backends) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func openBackends(ctx context.Context, cfg config.Config) (*backends, error) {
	b := &backends{}
	if cfg.Redis.Addr != "" {
		b.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,

			// honor per-call deadlines such as the reservation release
			ContextTimeoutEnabled: true,
		})
		if err := b.redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}
	if cfg.Postgres.URL != "" {
		db, err := openBun(cfg)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.db = db
		if err := runMigrations(ctx, db); err != nil {
			b.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		b.pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
	}
	return b, nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := openBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	// Sources are tried in order: Postgres, YAML file, built-in sample.
	var loaders []memory.QuizLoader
	if b.pool != nil {
		loaders = append(loaders, postgres.NewQuizLoader(b.pool))
	}
	if cfg.Quiz.File != "" {
		loaders = append(loaders, memory.NewFileQuizLoader(cfg.Quiz.File))
	}
	loaders = append(loaders, memory.NewStaticQuizLoader(sampleQuizzes()))
	loader := memory.NewChainQuizLoader(loaders...)

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var rooms app.RoomRegistry
	if b.redis != nil {
		quizRepo = infraredis.NewQuizRepository(b.redis, loader, quizTTL)
		registry := infraredis.NewRoomRegistry(b.redis, instanceID(), config.TTLDuration(cfg.Redis.TTL, 6*time.Hour), cfg.Game.CodeLength)
		go registry.RunRefresher(ctx, config.TTLDuration(cfg.Redis.TTL, 6*time.Hour)/3, func(err error) {
			log.Warn().Err(err).Msg("room reservation refresh failed")
		})
		rooms = registry
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		rooms = memory.NewRoomRegistry(cfg.Game.CodeLength)
	}

	// Fail fast on a broken catalog instead of at the first createRoom.
	quiz, err := quizRepo.GetQuiz(ctx, cfg.Quiz.ID)
	if err != nil {
		return fmt.Errorf("load quiz %q: %w", cfg.Quiz.ID, err)
	}

	svcOpts := app.Options{
		QuizID:     cfg.Quiz.ID,
		NameMaxLen: cfg.Game.NameMaxLen,
	}
	var history app.ResultHistory
	if b.db != nil {
		recorder := postgres.NewResultsRecorder(b.db)
		svcOpts.Recorder = recorder
		history = recorder
	}

	hub := transport.NewHub(hubBuffer)
	service := app.NewGameService(rooms, quizRepo, hub, svcOpts)
	go service.RunReaper(ctx,
		config.TTLDuration(cfg.Game.ReapInterval, time.Minute),
		config.TTLDuration(cfg.Game.IdleTimeout, 2*time.Hour))

	router := transport.NewRouter(transport.RouterConfig{
		Service:   service,
		Hub:       hub,
		Auth:      transport.NewHostAuth(cfg.Host.Key),
		PublicURL: cfg.Server.PublicURL,
		Version:   releaseVersion,
		Results:   history,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("quiz", quiz.ID).
			Int("questions", len(quiz.Questions)).
			Bool("redis", b.redis != nil).
			Bool("postgres", b.pool != nil).
			Msg("starting live quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	case err := <-errs:
		return fmt.Errorf("serve: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func instanceID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
