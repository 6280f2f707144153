package classifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"facilitywatch/internal/artifact"
	"facilitywatch/internal/metrics"
	"facilitywatch/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Set holds exactly one loaded classifier per subsystem. It is built once at
// startup and never changes afterwards.
type Set struct {
	handles map[models.Subsystem]Classifier
	info    map[models.Subsystem]models.ClassifierInfo
}

// NewSet wraps already built classifiers, e.g. in tests
func NewSet(handles map[models.Subsystem]Classifier) *Set {
	s := &Set{
		handles: make(map[models.Subsystem]Classifier, len(handles)),
		info:    make(map[models.Subsystem]models.ClassifierInfo, len(handles)),
	}
	for sub, c := range handles {
		s.handles[sub] = c
		s.info[sub] = models.ClassifierInfo{Subsystem: sub, Kind: fmt.Sprintf("%T", c)}
	}
	return s
}

// Get returns the handle for a subsystem
func (s *Set) Get(sub models.Subsystem) (Classifier, bool) {
	c, ok := s.handles[sub]
	return c, ok
}

// Describe lists loaded classifiers in subsystem order
func (s *Set) Describe() []models.ClassifierInfo {
	out := make([]models.ClassifierInfo, 0, len(s.info))
	for _, sub := range models.Subsystems {
		if info, ok := s.info[sub]; ok {
			out = append(out, info)
		}
	}
	return out
}

// LoadAll fetches and decodes one artifact per subsystem from src. Artifacts
// are loaded concurrently; the first failure cancels the rest.
func LoadAll(ctx context.Context, src artifact.Source, artifacts map[models.Subsystem]string, logger *zap.Logger) (*Set, error) {
	for _, sub := range models.Subsystems {
		if artifacts[sub] == "" {
			return nil, fmt.Errorf("no artifact configured for subsystem %s", sub)
		}
	}

	set := &Set{
		handles: make(map[models.Subsystem]Classifier, len(models.Subsystems)),
		info:    make(map[models.Subsystem]models.ClassifierInfo, len(models.Subsystems)),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, sub := range models.Subsystems {
		sub := sub
		name := artifacts[sub]
		g.Go(func() error {
			start := time.Now()

			data, err := src.Fetch(gctx, name)
			if err != nil {
				return fmt.Errorf("load %s classifier from %s: %w", sub, src.Name(), err)
			}
			forest, err := Decode(data)
			if err != nil {
				return fmt.Errorf("load %s classifier %s: %w", sub, name, err)
			}

			elapsed := time.Since(start)
			metrics.RecordClassifierLoad(string(sub), KindIsolationForest, src.Name(), elapsed)
			logger.Info("classifier loaded",
				zap.String("subsystem", string(sub)),
				zap.String("artifact", name),
				zap.String("source", src.Name()),
				zap.Int("trees", forest.Trees()),
				zap.Duration("elapsed", elapsed),
			)

			mu.Lock()
			defer mu.Unlock()
			set.handles[sub] = forest
			set.info[sub] = models.ClassifierInfo{
				Subsystem:    sub,
				Kind:         KindIsolationForest,
				Artifact:     name,
				Source:       src.Name(),
				Trees:        forest.Trees(),
				MaxSamples:   forest.MaxSamples(),
				FeatureNames: forest.FeatureNames(),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return set, nil
}
