package detector

import (
	"fmt"

	"facilitywatch/internal/classifier"
	"facilitywatch/internal/features"
	"facilitywatch/internal/models"
)

// AnomalyLabel is the only classifier label that means anomalous
const AnomalyLabel = -1

// AnomalyDetector scores readings for one subsystem against its classifier
type AnomalyDetector struct {
	subsystem  models.Subsystem
	classifier classifier.Classifier
}

// NewAnomalyDetector binds a subsystem to its classifier handle
func NewAnomalyDetector(subsystem models.Subsystem, c classifier.Classifier) *AnomalyDetector {
	return &AnomalyDetector{
		subsystem:  subsystem,
		classifier: c,
	}
}

func (ad *AnomalyDetector) Subsystem() models.Subsystem {
	return ad.subsystem
}

// Detect derives temporal features from timestamp, scores [usage, hour,
// weekday] and reports whether the reading is anomalous. Timestamp errors
// are returned unwrapped so their text can go to the client as is.
func (ad *AnomalyDetector) Detect(timestamp string, usage float64) (bool, error) {
	tf, err := features.Parse(timestamp)
	if err != nil {
		return false, err
	}

	label, err := ad.classifier.Label(features.Build(usage, tf))
	if err != nil {
		return false, fmt.Errorf("%s classifier: %w", ad.subsystem, err)
	}

	return Interpret(label), nil
}

// Interpret maps a raw classifier label to a verdict. Only -1 is anomalous;
// every other value, expected or not, is normal.
func Interpret(label float64) bool {
	return label == AnomalyLabel
}
