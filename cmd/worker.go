package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lexikon-ai/lexikon/db"
	"github.com/lexikon-ai/lexikon/internal/analyzer"
	"github.com/lexikon-ai/lexikon/internal/config"
	"github.com/lexikon-ai/lexikon/internal/document"
	"github.com/lexikon-ai/lexikon/internal/extractor"
	"github.com/lexikon-ai/lexikon/internal/indexing"
	"github.com/lexikon-ai/lexikon/internal/keyword"
	"github.com/lexikon-ai/lexikon/internal/lock"
	"github.com/lexikon-ai/lexikon/internal/log"
	"github.com/lexikon-ai/lexikon/internal/retrieval"
	"github.com/lexikon-ai/lexikon/internal/segment"
	"github.com/lexikon-ai/lexikon/internal/store"
	"github.com/lexikon-ai/lexikon/internal/task"
	"github.com/lexikon-ai/lexikon/internal/vectorstore"
)

const (
	taskWorkers    = 4
	taskBuffer     = 256
	drainTimeout   = 30 * time.Second
	redisPingGrace = 5 * time.Second
)

var workerJSONLogs bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the indexing worker",
	Long: `Starts the background worker: migrations, the task queue and every
engine around it. The worker runs until interrupted, then drains in-flight
tasks before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWorker(cmd.Context())
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerJSONLogs, "json-logs", false, "emit JSON logs")
	rootCmd.AddCommand(workerCmd)
}

// App is the composed set of services a running worker (or an embedding
// caller such as an HTTP layer) operates through.
type App struct {
	Store     *store.Store
	Documents *document.Service
	Segments  *segment.Service
	Retrieval *retrieval.Engine
	Queue     *task.Queue

	closeFns []func()
}

// Close releases the app's connections in reverse construction order.
func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
}

// NewApp builds the full object graph from configuration. All clients are
// constructed here and passed down; nothing holds a global.
func NewApp(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := db.Migrate(cfg.PostgresURL(), logger); err != nil {
		return nil, err
	}

	app := &App{}

	st, pool, err := store.Open(ctx, cfg.PostgresConnectionString(), logger.With("component", "store"))
	if err != nil {
		return nil, err
	}
	app.Store = st
	app.closeFns = append(app.closeFns, pool.Close)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, redisPingGrace)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		app.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}
	app.closeFns = append(app.closeFns, func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("failed to close redis client", "error", err)
		}
	})

	locker := lock.New(redisClient, cfg.Indexing.LockTTL(), logger.With("component", "lock"))

	embedder, err := newEmbedder(ctx, cfg)
	if err != nil {
		app.Close()
		return nil, err
	}

	vectors := vectorstore.New(pool, embedder, logger.With("component", "vectorstore"))
	keywords := keyword.New(st, locker, logger.With("component", "keyword"))

	ext := extractor.New()

	engine := indexing.New(
		st, vectors, keywords, ext,
		analyzer.CountTokens, analyzer.ExtractKeywords,
		cfg.Indexing, logger.With("component", "indexing"),
	)

	app.Queue = task.NewQueue(taskWorkers, taskBuffer, logger.With("component", "task"))

	app.Documents = document.New(st, engine, app.Queue, locker, ext,
		logger.With("component", "document"))
	app.Segments = segment.New(st, vectors, keywords, locker,
		analyzer.CountTokens, analyzer.ExtractKeywords,
		cfg.Indexing, logger.With("component", "segment"))
	app.Retrieval = retrieval.New(st, vectors, analyzer.ExtractKeywords,
		logger.With("component", "retrieval"))

	return app, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config) (ai.Embedder, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return nil, fmt.Errorf("initializing genkit")
	}
	return googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel), nil
}

func runWorker(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	level := slog.LevelInfo
	logger := log.New(log.Config{Level: level, JSON: workerJSONLogs})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("worker started",
		"postgres_host", cfg.PostgresHost, "redis_addr", cfg.RedisAddr,
		"embedder_model", cfg.EmbedderModel)

	<-ctx.Done()
	logger.Info("shutting down, draining task queue")

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := app.Queue.Shutdown(drainCtx); err != nil {
		logger.Warn("task queue drain incomplete", "error", err)
	}
	return nil
}
