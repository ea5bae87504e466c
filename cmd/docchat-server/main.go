// docchat-server is the document-chat service: it issues upload
// credentials, ingests uploaded documents into the vector index, fans out
// status changes over pub/sub, and answers chat questions with streamed
// fragments.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bull/doc-chat-server/internal/answer"
	"github.com/bull/doc-chat-server/internal/config"
	"github.com/bull/doc-chat-server/internal/embedding"
	"github.com/bull/doc-chat-server/internal/fanout"
	"github.com/bull/doc-chat-server/internal/gateway"
	"github.com/bull/doc-chat-server/internal/httpapi"
	"github.com/bull/doc-chat-server/internal/index"
	"github.com/bull/doc-chat-server/internal/objectstore"
	"github.com/bull/doc-chat-server/internal/pubsub"
	"github.com/bull/doc-chat-server/internal/statusstore"
	"github.com/bull/doc-chat-server/internal/workflow"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg := config.Load()

	objects, err := objectstore.NewStore(objectstore.Config{
		Endpoint:     cfg.MinioEndpoint,
		AccessKey:    cfg.MinioAccessKey,
		SecretKey:    cfg.MinioSecretKey,
		UseSSL:       cfg.MinioUseSSL,
		Bucket:       cfg.Bucket,
		UploadExpiry: cfg.UploadExpiry,
	}, logger)
	if err != nil {
		return err
	}

	status, err := statusstore.NewPostgres(cfg.PostgresDSN, logger)
	if err != nil {
		return err
	}
	defer status.Close()

	vectors, err := index.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
	if err != nil {
		return err
	}
	defer vectors.Close()

	embedder, err := embedding.NewEmbedder(0)
	if err != nil {
		return err
	}

	generator, err := answer.NewGenerator()
	if err != nil {
		return err
	}

	pub := pubsub.NewRedisPublisher(cfg.RedisAddr, "", 0)
	defer pub.Close()

	// All bootstrap steps are idempotent; docchat-admin runs the same ones
	// explicitly.
	if err := objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if err := status.RunMigrations(ctx); err != nil {
		return err
	}
	if err := vectors.EnsureCollection(ctx); err != nil {
		return err
	}

	engine := index.NewEngine(objects, vectors, embedder, cfg.Bucket, logger)
	ingestion := workflow.NewIngestion(objects, status, engine,
		cfg.IngestPollInterval, cfg.IngestTimeout, logger)
	deletion := workflow.NewDeletion(objects, status, engine, logger)
	trigger := workflow.NewTrigger(objects, ingestion, logger)

	stream := statusstore.NewChangeStream(cfg.PostgresDSN, logger)
	pipe := fanout.NewPipe(stream, pub, logger)

	gw := gateway.NewGateway(engine, generator, pub, cfg.RetrieveLimit, logger)

	checks := []httpapi.HealthCheck{
		{Name: "postgres", Probe: status.Ping},
		{Name: "redis", Probe: pub.Ping},
		{Name: "qdrant", Probe: vectors.Health},
	}
	server := httpapi.NewServer(cfg.HTTPAddr, objects, status, deletion, gw, checks, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return pipe.Run(gctx) })
	g.Go(func() error { return trigger.Run(gctx) })

	logger.Info("docchat-server started", "addr", cfg.HTTPAddr, "bucket", cfg.Bucket)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("docchat-server stopped")
	return nil
}
