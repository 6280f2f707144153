// Package classifier holds the subsystem classifiers: the narrow port the
// request pipeline scores against, the isolation forest artifact format
// behind it, and the startup loader that builds one handle per subsystem.
package classifier

import (
	"errors"

	"facilitywatch/internal/features"
)

// ErrInference is wrapped by every failure raised while labelling a vector
var ErrInference = errors.New("inference error")

// Classifier labels a feature vector. -1 means anomalous; any other value
// means normal. Implementations are immutable once loaded and must be safe
// for concurrent use.
type Classifier interface {
	Label(vec features.FeatureVector) (float64, error)
}

// Func adapts a plain function to Classifier
type Func func(vec features.FeatureVector) (float64, error)

func (f Func) Label(vec features.FeatureVector) (float64, error) {
	return f(vec)
}
