package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"tutordesk/internal/app"
	"tutordesk/internal/config"
	"tutordesk/internal/infra/memory"
	"tutordesk/internal/infra/postgres"
	redisinfra "tutordesk/internal/infra/redis"
	transport "tutordesk/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
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

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
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
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)
	cacheTTL := config.TTLDuration(cfg.Quiz.CacheTTL, 10*time.Minute)

	// Store selection: postgres when configured, otherwise everything lives
	// in one in-memory store (demo mode).
	mem := memory.NewStore()
	var (
		defStore app.DefinitionStore = mem
		subStore app.SubmissionStore = mem
		dir      app.Directory       = mem
		source   app.QuizReader      = mem
	)
	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		defStore = postgres.NewDefinitionStore(db)
		subStore = postgres.NewSubmissionStore(db)
		dir = postgres.NewDirectory(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		source = postgres.NewSnapshotLoader(pool)
	}

	var (
		cache interface {
			app.QuizReader
			app.QuizInvalidator
		}
		feed app.RosterFeed
	)
	if redisClient != nil {
		cache = redisinfra.NewQuizCache(redisClient, source, cacheTTL)
		feed = redisinfra.NewRosterFeed(redisClient, redisTTL)
	} else {
		cache = memory.NewQuizCache(source, cacheTTL)
		feed = memory.NewRosterFeed()
	}

	defs := app.NewDefinitionService(defStore, subStore, dir,
		app.WithQuizCache(cache), app.WithDefinitionFeed(feed))
	subs := app.NewSubmissionService(cache, subStore, dir, app.WithFeed(feed))
	roster := app.NewRosterService(cache, subStore, dir)

	handler := transport.NewHandler(defs, subs, roster, feed, log.Default())

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting tutordesk on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
