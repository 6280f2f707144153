package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"facilitywatch/internal/api"
	"facilitywatch/internal/artifact"
	"facilitywatch/internal/classifier"
	"facilitywatch/internal/config"
	"facilitywatch/internal/database"
	"facilitywatch/internal/logging"
	"facilitywatch/internal/server"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run returns instead of exiting so deferred cleanup always runs
func run() error {
	// .env is optional
	_ = godotenv.Load()

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "./config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	defer logger.Sync()

	src, closeSource, err := openSource(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to open artifact source", zap.String("source", cfg.Models.Source), zap.Error(err))
		return err
	}
	defer closeSource()

	loadCtx, cancel := context.WithTimeout(context.Background(), cfg.Models.LoadTimeout)
	set, err := classifier.LoadAll(loadCtx, src, cfg.Artifacts(), logger)
	cancel()
	if err != nil {
		logger.Error("failed to load classifiers", zap.Error(err))
		return err
	}

	srv, err := server.NewServer(cfg.Server, set, logger)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return err
		}
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

// openSource builds the artifact source named by models.source. The returned
// func releases any connection the source holds.
func openSource(ctx context.Context, cfg *config.Config) (artifact.Source, func(), error) {
	noop := func() {}

	switch cfg.Models.Source {
	case config.SourceFile:
		return artifact.NewFileSource(cfg.Models.Dir), noop, nil

	case config.SourceHTTP:
		return api.NewRegistryClient(cfg.Models.BaseURL, cfg.Models.Token, cfg.Models.Version), noop, nil

	case config.SourceMySQL:
		db, err := database.NewDB(config.GetDatabaseDSN())
		if err != nil {
			return nil, noop, err
		}
		return db, func() { db.Close() }, nil

	case config.SourceRedis:
		client := redis.NewClient(cfg.Redis.Options())
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return artifact.NewRedisSource(client, cfg.Redis.KeyPrefix), func() { client.Close() }, nil

	case config.SourceS3:
		src, err := artifact.NewS3Source(ctx, cfg.S3.Bucket, cfg.S3.Prefix, cfg.S3.Region, cfg.S3.Endpoint)
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil
	}

	return nil, noop, fmt.Errorf("unknown model source %q", cfg.Models.Source)
}
