// docchat-admin runs operational tasks for the document-chat service:
// schema migrations and infrastructure bootstrap.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/doc-chat-server/internal/config"
	"github.com/bull/doc-chat-server/internal/index"
	"github.com/bull/doc-chat-server/internal/objectstore"
	"github.com/bull/doc-chat-server/internal/statusstore"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:           "docchat-admin",
		Short:         "Operational tasks for the document-chat service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(migrateCmd(logger), initCmd(logger))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func migrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply status store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			status, err := statusstore.NewPostgres(cfg.PostgresDSN, logger)
			if err != nil {
				return err
			}
			defer status.Close()

			if err := status.RunMigrations(cmd.Context()); err != nil {
				return err
			}
			logger.Info("migrations applied")
			return nil
		},
	}
}

func initCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the documents bucket, vector collection, and schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			ctx := cmd.Context()

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
			if err := objects.EnsureBucket(ctx); err != nil {
				return fmt.Errorf("ensure bucket: %w", err)
			}
			logger.Info("bucket ready", "bucket", cfg.Bucket)

			vectors, err := index.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, cfg.QdrantCollection)
			if err != nil {
				return err
			}
			defer vectors.Close()
			if err := vectors.EnsureCollection(ctx); err != nil {
				return err
			}
			logger.Info("collection ready", "collection", cfg.QdrantCollection)

			status, err := statusstore.NewPostgres(cfg.PostgresDSN, logger)
			if err != nil {
				return err
			}
			defer status.Close()
			if err := status.RunMigrations(ctx); err != nil {
				return err
			}
			logger.Info("schema ready")
			return nil
		},
	}
}
