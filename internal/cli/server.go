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

	"mathduel-service/internal/app"
	"mathduel-service/internal/config"
	"mathduel-service/internal/domain"
	"mathduel-service/internal/infra/memory"
	pgarchive "mathduel-service/internal/infra/postgres"
	redisstore "mathduel-service/internal/infra/redis"
	"mathduel-service/internal/leaderboard"
	"mathduel-service/internal/question"
	"mathduel-service/internal/settlement"
	transport "mathduel-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the math duel server",
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
	redisTTL := config.Duration(cfg.Redis.TTL, 10*time.Minute)

	var store app.LobbyRepository
	if redisClient != nil {
		store = redisstore.NewLobbyStore(redisClient, redisTTL)
	} else {
		store = memory.NewLobbyStore()
	}

	gen := question.NewGenerator(question.Config{
		OperandMax: cfg.Match.OperandMax,
		TimeLimit:  cfg.Match.TimeLimit,
		Operators:  parseOperators(cfg.Match.Operators),
	})

	matchCfg := app.MatchConfig{
		QuestionCount: cfg.Match.Questions,
		Deadline:      config.Duration(cfg.Match.Deadline, 90*time.Second),
		SyncInterval:  config.Duration(cfg.Match.SyncInterval, 2*time.Second),
		Retention:     config.Duration(cfg.Match.Retention, time.Minute),
	}

	var (
		sinks   []app.ResultSink
		wins    *leaderboard.Service
		archive *pgarchive.MatchArchive
	)
	if redisClient != nil {
		wins = leaderboard.NewService(redisClient)
		sinks = append(sinks, wins, settlement.NewNotifier(redisClient, cfg.Settlement.Channel))
	}
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		archive = pgarchive.NewMatchArchive(pool)
		sinks = append(sinks, archive)
	}

	service := app.NewMatchService(store, gen, matchCfg, sinks...)
	wsHandler := transport.NewWSHandler(service)
	apiHandler := transport.NewAPIHandler(service, wins, archive)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting math duel service on :%s", finalPort)
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

func parseOperators(raw []string) []domain.Operator {
	ops := make([]domain.Operator, 0, len(raw))
	for _, r := range raw {
		switch domain.Operator(r) {
		case domain.OpAdd, domain.OpSubtract, domain.OpMultiply, domain.OpDivide:
			ops = append(ops, domain.Operator(r))
		default:
			log.Printf("ignoring unknown operator %q", r)
		}
	}
	return ops
}
