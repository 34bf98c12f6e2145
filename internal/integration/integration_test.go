package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
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

	"mathduel-service/internal/app"
	"mathduel-service/internal/domain"
	pgarchive "mathduel-service/internal/infra/postgres"
	pgmigrations "mathduel-service/internal/infra/postgres/migrations"
	infraredis "mathduel-service/internal/infra/redis"
	"mathduel-service/internal/leaderboard"
	"mathduel-service/internal/question"
)

func TestMatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	runMigrations(t, ctx, pgURL)

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

	store := infraredis.NewLobbyStore(redisClient, 5*time.Minute)
	archive := pgarchive.NewMatchArchive(pool)
	wins := leaderboard.NewService(redisClient)
	service := app.NewMatchService(
		store,
		question.NewGenerator(question.Config{Seed: 1}),
		app.MatchConfig{QuestionCount: 3},
		wins, archive,
	)

	snap, err := service.CreateLobby("alice", nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if exists, _ := redisClient.Exists(ctx, "duel:lobby:"+snap.ID).Result(); exists != 1 {
		t.Fatalf("expected liveness marker in redis")
	}

	playing, err := service.JoinLobby(snap.ID, "bob")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if playing.Status != domain.StatusPlaying {
		t.Fatalf("match did not start: %s", playing.Status)
	}

	// Alice answers everything correctly, Bob misses the last question.
	for i, q := range playing.Questions {
		if _, _, err := service.SubmitAnswer(snap.ID, "alice", q.ID, strconv.Itoa(q.Answer)); err != nil {
			t.Fatalf("alice submit q%d: %v", i, err)
		}
		value := q.Answer
		if i == len(playing.Questions)-1 {
			value++
		}
		if _, _, err := service.SubmitAnswer(snap.ID, "bob", q.ID, strconv.Itoa(value)); err != nil {
			t.Fatalf("bob submit q%d: %v", i, err)
		}
	}

	final, err := service.GetLobby(snap.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != domain.StatusFinished || final.Result == nil || final.Result.Winner != "alice" {
		t.Fatalf("unexpected final state: %+v", final)
	}

	// Result sinks run asynchronously; poll until both land.
	deadline := time.Now().Add(10 * time.Second)
	for {
		archived, err := archive.ListRecent(ctx, 10)
		if err != nil {
			t.Fatalf("list archive: %v", err)
		}
		top, err := wins.Top(ctx, 10)
		if err != nil {
			t.Fatalf("leaderboard: %v", err)
		}
		if len(archived) == 1 && len(top) == 1 {
			if archived[0].LobbyID != snap.ID || archived[0].Winner != "alice" {
				t.Fatalf("unexpected archived result: %+v", archived[0])
			}
			if len(archived[0].Standings) != 2 || archived[0].Standings[0].Score != 3 {
				t.Fatalf("unexpected standings: %+v", archived[0].Standings)
			}
			if top[0].PlayerID != "alice" || top[0].Wins != 1 {
				t.Fatalf("unexpected leaderboard: %+v", top[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("sinks never delivered: archived=%d leaderboard=%d", len(archived), len(top))
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "duel", "POSTGRES_PASSWORD": "duelpass", "POSTGRES_DB": "dueldb"},
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
	dsn := fmt.Sprintf("postgres://duel:duelpass@%s:%s/dueldb?sslmode=disable", host, port.Port())
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

func runMigrations(t *testing.T, ctx context.Context, dsn string) {
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
