package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"facilitywatch/internal/classifier"
	"facilitywatch/internal/database"
	"facilitywatch/internal/models"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// artifactStore is a registry artifacts can be published to
type artifactStore interface {
	Store(ctx context.Context, name string, data []byte) error
}

// mysqlStore pins every upload to one version label
type mysqlStore struct {
	db      *database.DB
	version string
	logger  *zap.Logger
}

func (s *mysqlStore) Store(ctx context.Context, name string, data []byte) error {
	checksum, err := s.db.StoreArtifact(ctx, name, s.version, data)
	if err != nil {
		return err
	}
	s.logger.Debug("stored artifact version",
		zap.String("artifact", name),
		zap.String("version", s.version),
		zap.String("checksum", checksum),
	)
	return nil
}

type publishResult struct {
	Published int
	Failed    int
}

// publish validates each file as a classifier artifact and uploads it under
// its base name. Invalid or unreadable files are skipped and counted.
func publish(ctx context.Context, store artifactStore, paths []string, logger *zap.Logger) publishResult {
	var res publishResult

	for _, path := range paths {
		name := filepath.Base(path)

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("failed to read artifact", zap.String("path", path), zap.Error(err))
			res.Failed++
			continue
		}

		forest, err := classifier.Decode(data)
		if err != nil {
			logger.Error("rejected invalid artifact", zap.String("path", path), zap.Error(err))
			res.Failed++
			continue
		}

		if err := store.Store(ctx, name, data); err != nil {
			logger.Error("failed to publish artifact", zap.String("artifact", name), zap.Error(err))
			res.Failed++
			continue
		}

		logger.Info("published artifact",
			zap.String("artifact", name),
			zap.Int("trees", forest.Trees()),
			zap.Int("bytes", len(data)),
		)
		res.Published++
	}

	return res
}

// configuredPaths lists the artifact files the service config points at,
// in subsystem order
func configuredPaths(dir string, artifacts map[models.Subsystem]string) []string {
	paths := make([]string, 0, len(artifacts))
	for _, sub := range models.Subsystems {
		if name, ok := artifacts[sub]; ok {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths
}

// versionLister reports the versions a registry holds for an artifact
type versionLister interface {
	ListArtifacts(ctx context.Context, name string, limit int) ([]database.ArtifactVersion, error)
}

// listVersions prints the newest versions of each named artifact, one table
// for all of them
func listVersions(ctx context.Context, lister versionLister, names []string, limit int, w io.Writer) error {
	var rows [][]string
	for _, name := range names {
		versions, err := lister.ListArtifacts(ctx, name, limit)
		if err != nil {
			return err
		}
		rows = append(rows, lo.Map(versions, func(v database.ArtifactVersion, _ int) []string {
			return []string{
				v.Name,
				v.Version,
				shortChecksum(v.Checksum),
				strconv.FormatInt(v.Size, 10),
				v.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
			}
		})...)
	}

	if len(rows) == 0 {
		fmt.Fprintln(w, "no published versions")
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Name", "Version", "Checksum", "Size", "Created"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	table.AppendBulk(rows)
	table.Render()
	return nil
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func describe(res publishResult) string {
	return fmt.Sprintf("%d published, %d failed", res.Published, res.Failed)
}
