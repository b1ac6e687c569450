package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"

	"ragline/features/deadletter"
	"ragline/features/document"
	"ragline/features/ingest"
	"ragline/features/mcp"
	"ragline/features/query"
	"ragline/features/stats"
	"ragline/internal/config"
	"ragline/internal/metrics"
	"ragline/internal/middleware"
	"ragline/internal/retrieval"
	"ragline/internal/retry"
	"ragline/internal/text"
	"ragline/internal/worker"
)

type App struct {
	Handler         http.Handler
	Engine          *retrieval.Engine
	IngestConsumer  *worker.IngestConsumer
	PersistConsumer *worker.PersistConsumer
	Metrics         *metrics.Metrics

	cfg *config.Config
}

// New wires repositories, services and handlers over deps. Nothing here
// dials out; deps carries every live client.
func New(cfg *config.Config, deps *Dependencies, pub Publisher, logger *slog.Logger) (*App, error) {
	m := metrics.New(prometheus.NewRegistry())

	deadLetterRepo := deadletter.NewPostgresRepo(deps.DB)
	deadLetterService := deadletter.NewService(deadLetterRepo, pub, logger)
	deadLetterHandler := deadletter.NewHandler(deadLetterService)

	documentRepo := document.NewPostgresRepo(deps.DB)
	documentHandler := document.NewHandler(documentRepo)

	statsHandler := stats.NewHandler(documentRepo, deadLetterService)

	ingestHandler := ingest.NewHandler(ingest.NewService(pub))

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	engine, err := retrieval.NewEngine(deps.Embedder, deps.VectorStore, deps.Chat, retrieval.Config{
		TopK:        cfg.SearchTopK,
		GlobalCap:   cfg.SearchGlobalCap,
		Timeout:     cfg.QueryTimeout(),
		Concurrency: cfg.SearchConcurrency,
	}, queryLogger, m)
	if err != nil {
		return nil, fmt.Errorf("retrieval engine: %w", err)
	}
	queryHandler := query.NewHandler(engine)
	mcpHandler := mcp.NewHandler(engine, documentRepo)

	splitter, err := text.NewSplitter(deps.Tokenizer, cfg.ChunkTokenBudget, cfg.ChunkTokenOverlap)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("splitter: %w", err)
	}
	pipeline := worker.NewPipeline(deps.Blobs, splitter, deps.Embedder, deps.VectorStore, pub, worker.PipelineConfig{
		FetchPolicy:      retry.Exponential(cfg.FetchAttempts, cfg.FetchBaseDelay()),
		UpsertPolicy:     retry.Exponential(cfg.UpsertAttempts, cfg.UpsertBaseDelay()),
		BatchTokenBudget: cfg.BatchTokenBudget,
		BatchMaxItems:    cfg.BatchMaxItems,
		Metrics:          m,
	})

	route := func(h http.HandlerFunc) http.Handler {
		var next http.Handler = h
		if cfg.JWTSecret != "" {
			next = middleware.Auth([]byte(cfg.JWTSecret))(next)
		}
		return middleware.CorrelationID(next)
	}

	mux := http.NewServeMux()

	mux.Handle("POST /ingest", route(ingestHandler.Enqueue))
	mux.Handle("POST /query", route(queryHandler.Ask))

	mux.Handle("GET /documents", route(documentHandler.List))
	mux.Handle("GET /documents/{key...}", route(documentHandler.Get))

	mux.Handle("GET /deadletters", route(deadLetterHandler.List))
	mux.Handle("GET /deadletters/{id}", route(deadLetterHandler.Get))
	mux.Handle("POST /deadletters/{id}/retry", route(deadLetterHandler.Retry))
	mux.Handle("DELETE /deadletters/{id}", route(deadLetterHandler.Delete))

	mux.Handle("GET /stats", route(statsHandler.GetStats))

	mux.Handle("POST /mcp", route(mcpHandler.ServeHTTP))
	mux.Handle("GET /mcp/sse", route(mcpHandler.HandleSSE))
	mux.Handle("POST /mcp/messages", route(mcpHandler.HandleMessage))

	mux.Handle("GET /metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return &App{
		Handler:         mux,
		Engine:          engine,
		IngestConsumer:  worker.NewIngestConsumer(pipeline, deadLetterRepo, cfg.IngestionMaxAttempts, cfg.IngestionJobTimeout(), m),
		PersistConsumer: worker.NewPersistConsumer(documentRepo),
		Metrics:         m,
		cfg:             cfg,
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// RunConsumers attaches the enabled workers to their topics and blocks until
// ctx ends, then drains in-flight messages.
func (a *App) RunConsumers(ctx context.Context) error {
	var consumers []*nsq.Consumer
	stopAll := func() {
		for _, c := range consumers {
			c.Stop()
		}
		for _, c := range consumers {
			<-c.StopChan
		}
	}

	if a.cfg.EnableIngestWorker {
		nsqCfg := nsq.NewConfig()
		nsqCfg.MaxAttempts = a.cfg.IngestionMaxAttempts
		nsqCfg.DefaultRequeueDelay = a.cfg.IngestionRequeueDelay()
		nsqCfg.MaxInFlight = a.cfg.IngestionConcurrency
		nsqCfg.MsgTimeout = a.cfg.IngestionJobTimeout()

		c, err := a.connect(config.TopicIngestDocument, config.ChannelIngestor, nsqCfg, a.IngestConsumer, a.cfg.IngestionConcurrency)
		if err != nil {
			stopAll()
			return err
		}
		consumers = append(consumers, c)
	}

	if a.cfg.EnablePersistWorker {
		c, err := a.connect(config.TopicPersistDocument, config.ChannelRecorder, nsq.NewConfig(), a.PersistConsumer, 1)
		if err != nil {
			stopAll()
			return err
		}
		consumers = append(consumers, c)
	}

	if len(consumers) == 0 {
		return nil
	}

	<-ctx.Done()
	slog.Info("stopping consumers...")
	stopAll()
	return nil
}

func (a *App) connect(topic, channel string, nsqCfg *nsq.Config, h nsq.Handler, concurrency int) (*nsq.Consumer, error) {
	c, err := nsq.NewConsumer(topic, channel, nsqCfg)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer %s: %w", topic, err)
	}
	c.SetLogger(nsqLogger{}, nsq.LogLevelWarning)
	c.AddConcurrentHandlers(h, concurrency)
	if err := c.ConnectToNSQLookupd(a.cfg.NSQLookupd); err != nil {
		c.Stop()
		return nil, fmt.Errorf("connect %s consumer to lookupd: %w", topic, err)
	}
	slog.Info("NSQ consumer connected", "topic", topic, "channel", channel, "concurrency", concurrency)
	return c, nil
}

// Close releases resources New acquired.
func (a *App) Close() {
	a.Engine.Close()
}

// nsqLogger routes go-nsq's internal log lines through slog.
type nsqLogger struct{}

func (nsqLogger) Output(calldepth int, s string) error {
	slog.Warn("nsq", "message", s)
	return nil
}

