// Package features turns a reading's timestamp and usage into the numeric
// vector the subsystem classifiers were trained on.
package features

import (
	"errors"
	"regexp"
	"time"
)

// TimestampLayout is the only accepted timestamp layout (YYYY-MM-DD HH:MM:SS)
const TimestampLayout = "2006-01-02 15:04:05"

// VectorLen is the number of features every classifier expects
const VectorLen = 3

// ErrInvalidTimestamp is returned for any timestamp that is not a real
// calendar date/time in TimestampLayout. Its text is returned to clients as is.
var ErrInvalidTimestamp = errors.New("Invalid timestamp format. 'YYYY-MM-DD HH:MM:SS'.")

// time.Parse accepts single digit hours for "15", so the shape is checked first
var timestampShape = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)

// TemporalFeatures are the calendar fields derived from a timestamp
type TemporalFeatures struct {
	Hour    int // 0-23
	Weekday int // Monday = 0 ... Sunday = 6
}

// FeatureVector is [usage, hour, weekday], in that order
type FeatureVector []float64

// Parse extracts hour of day and ISO weekday from a timestamp
func Parse(timestamp string) (TemporalFeatures, error) {
	if !timestampShape.MatchString(timestamp) {
		return TemporalFeatures{}, ErrInvalidTimestamp
	}

	t, err := time.Parse(TimestampLayout, timestamp)
	// year 0 parses in Go but is not a calendar year
	if err != nil || t.Year() < 1 {
		return TemporalFeatures{}, ErrInvalidTimestamp
	}

	return TemporalFeatures{
		Hour:    t.Hour(),
		Weekday: isoWeekday(t.Weekday()),
	}, nil
}

// isoWeekday shifts Go's Sunday-first numbering to Monday = 0
func isoWeekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// Build assembles the classifier input. usage is passed through unscaled.
func Build(usage float64, tf TemporalFeatures) FeatureVector {
	return FeatureVector{usage, float64(tf.Hour), float64(tf.Weekday)}
}
