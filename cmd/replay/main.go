package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"facilitywatch/internal/artifact"
	"facilitywatch/internal/classifier"
	"facilitywatch/internal/config"
	"facilitywatch/internal/detector"
	"facilitywatch/internal/logging"
	"facilitywatch/internal/models"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// replay scores a CSV of historical readings against one subsystem's
// classifier, offline, and prints the anomalous rows
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "./config.yaml", "path to the YAML config file")
	subsystemName := flag.String("subsystem", string(models.AHU), "subsystem to score against: ahu, chiller or lift")
	csvPath := flag.String("csv", "readings.csv", "CSV file with timestamp and usage columns")
	modelDir := flag.String("models", "", "artifact directory, defaults to models.dir")
	numWorkers := flag.Int("workers", 8, "number of scoring workers")
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

	sub, err := models.ParseSubsystem(*subsystemName)
	if err != nil {
		return err
	}

	dir := cfg.Models.Dir
	if *modelDir != "" {
		dir = *modelDir
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Models.LoadTimeout)
	defer cancel()

	name := cfg.Artifacts()[sub]
	data, err := artifact.NewFileSource(dir).Fetch(ctx, name)
	if err != nil {
		logger.Error("failed to read artifact", zap.String("artifact", name), zap.Error(err))
		return err
	}
	forest, err := classifier.Decode(data)
	if err != nil {
		logger.Error("failed to decode artifact", zap.String("artifact", name), zap.Error(err))
		return err
	}

	file, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	readings, skipped, err := readReadings(file)
	if err != nil {
		return fmt.Errorf("failed to parse CSV file: %w", err)
	}
	logger.Info("replaying readings",
		zap.String("subsystem", string(sub)),
		zap.Int("readings", len(readings)),
		zap.Int("skipped", skipped),
		zap.Int("workers", *numWorkers),
	)

	start := time.Now()
	results := replay(detector.NewAnomalyDetector(sub, forest), readings, *numWorkers)
	s := summarize(results, skipped)
	logger.Info("replay complete", zap.Duration("elapsed", time.Since(start)))

	printReport(os.Stdout, string(sub), results, s)
	return nil
}
