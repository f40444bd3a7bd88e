package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/haivivi/picseek/cmd/picseek/internal/config"
	"github.com/haivivi/picseek/pkg/embed"
	"github.com/haivivi/picseek/pkg/index"
	"github.com/haivivi/picseek/pkg/kv"
	"github.com/haivivi/picseek/pkg/server"
	"github.com/haivivi/picseek/pkg/storage"
	"github.com/haivivi/picseek/pkg/vecstore"
)

var flagConfig string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reverse image search HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if IsVerbose() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}

	embedder, closeCache, err := buildEmbedder(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	files, err := buildStorage(cfg)
	if err != nil {
		return err
	}

	vec, err := vecstore.NewQdrant(vecstore.QdrantOptions{
		URL:        cfg.Qdrant.URL,
		APIKey:     cfg.Qdrant.APIKey,
		Collection: cfg.Qdrant.Collection,
		Dimension:  embedder.Dimension(),
	})
	if err != nil {
		return err
	}
	defer vec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A dimension mismatch against an existing collection is fatal: the
	// collection was built with a different embedder and every search
	// against it would be garbage.
	if err := vec.Ensure(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	logger.Info("collection ready",
		"url", cfg.Qdrant.URL, "collection", cfg.Qdrant.Collection,
		"dimension", embedder.Dimension())

	mgr := index.New(index.Config{
		Embedder: embedder,
		Vec:      vec,
		Files:    files,
		Logger:   logger,
	})

	httpServer := &http.Server{
		Addr: cfg.Listen,
		Handler: server.New(server.Config{
			Manager: mgr,
			APIKey:  cfg.APIKey,
			Logger:  logger,
		}),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// buildEmbedder constructs the configured embedder, optionally wrapped in
// the badger-backed cache. The returned closer releases the cache store.
func buildEmbedder(cfg *config.Config, logger *slog.Logger) (embed.Embedder, func(), error) {
	var embedder embed.Embedder
	switch cfg.Embedder.Kind {
	case "grid":
		embedder = embed.NewGrid()
	case "remote":
		var opts []embed.Option
		if cfg.Embedder.BaseURL != "" {
			opts = append(opts, embed.WithBaseURL(cfg.Embedder.BaseURL))
		}
		if cfg.Embedder.Model != "" {
			opts = append(opts, embed.WithModel(cfg.Embedder.Model))
		}
		if cfg.Embedder.Dimension > 0 {
			opts = append(opts, embed.WithDimension(cfg.Embedder.Dimension))
		}
		embedder = embed.NewRemote(cfg.Embedder.APIKey, opts...)
	default:
		return nil, nil, fmt.Errorf("unknown embedder kind %q", cfg.Embedder.Kind)
	}

	if cfg.CacheDir == "" {
		return embedder, func() {}, nil
	}

	store, err := kv.NewBadger(kv.BadgerOptions{Dir: cfg.CacheDir})
	if err != nil {
		return nil, nil, fmt.Errorf("open embedding cache: %w", err)
	}
	closeCache := func() {
		if err := store.Close(); err != nil {
			logger.Warn("close embedding cache", "error", err)
		}
	}
	return embed.NewCached(embedder, store, logger), closeCache, nil
}

// buildStorage constructs the configured blob store backend.
func buildStorage(cfg *config.Config) (storage.FileStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return storage.NewLocal(cfg.Storage.Dir)
	case "s3":
		opts := s3.Options{Region: cfg.Storage.Region}
		if opts.Region == "" {
			opts.Region = "us-east-1"
		}
		if cfg.Storage.Endpoint != "" {
			opts.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			opts.UsePathStyle = true
		}
		if cfg.Storage.AccessKey != "" {
			access, secret := cfg.Storage.AccessKey, cfg.Storage.SecretKey
			opts.Credentials = aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: access, SecretAccessKey: secret}, nil
			})
		} else {
			opts.Credentials = aws.AnonymousCredentials{}
		}
		return storage.NewS3(s3.New(opts), cfg.Storage.Bucket, cfg.Storage.Prefix), nil
	default:
		return nil, errors.New("unknown storage backend")
	}
}
