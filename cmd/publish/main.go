package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"facilitywatch/internal/artifact"
	"facilitywatch/internal/config"
	"facilitywatch/internal/database"
	"facilitywatch/internal/logging"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

var errPublishFailed = errors.New("some artifacts were not published")

// publish uploads classifier artifacts to a registry the service can load
// from. With no file arguments it publishes the artifacts configured under
// models.artifacts, read from models.dir. With -list it prints the versions
// the mysql registry holds instead.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	target := flag.String("target", config.SourceMySQL, "registry to publish to: mysql or redis")
	version := flag.String("version", time.Now().UTC().Format("20060102T150405Z"), "version label for mysql uploads")
	list := flag.Bool("list", false, "list published versions instead of uploading (mysql only)")
	limit := flag.Int("limit", 10, "versions per artifact shown by -list")
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

	paths := flag.Args()
	if len(paths) == 0 {
		paths = configuredPaths(cfg.Models.Dir, cfg.Artifacts())
	}

	ctx := context.Background()

	if *list {
		if *target != config.SourceMySQL {
			return fmt.Errorf("-list needs target %s, got %s", config.SourceMySQL, *target)
		}
		db, err := database.NewDB(config.GetDatabaseDSN())
		if err != nil {
			return err
		}
		defer db.Close()
		names := lo.Map(paths, func(p string, _ int) string { return filepath.Base(p) })
		return listVersions(ctx, db, names, *limit, os.Stdout)
	}

	var store artifactStore
	switch *target {
	case config.SourceMySQL:
		db, err := database.NewDB(config.GetDatabaseDSN())
		if err != nil {
			logger.Error("failed to initialize database", zap.Error(err))
			return err
		}
		defer db.Close()
		store = &mysqlStore{db: db, version: *version, logger: logger}

	case config.SourceRedis:
		client := redis.NewClient(cfg.Redis.Options())
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("failed to connect to redis", zap.Error(err))
			return err
		}
		store = artifact.NewRedisSource(client, cfg.Redis.KeyPrefix)

	default:
		return fmt.Errorf("unsupported publish target %q", *target)
	}

	logger.Info("publishing artifacts", zap.String("target", *target), zap.Int("files", len(paths)))
	res := publish(ctx, store, paths, logger)
	logger.Info("publish complete", zap.String("result", describe(res)))

	if res.Failed > 0 {
		return errPublishFailed
	}
	return nil
}
