package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Subsystem identifies one monitored equipment category
type Subsystem string

const (
	AHU     Subsystem = "ahu"
	Chiller Subsystem = "chiller"
	Lift    Subsystem = "lift"
)

// Subsystems lists every subsystem served, in route order
var Subsystems = []Subsystem{AHU, Chiller, Lift}

// ParseSubsystem maps a name like "AHU" or "chiller" to a Subsystem
func ParseSubsystem(name string) (Subsystem, error) {
	s := Subsystem(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range Subsystems {
		if s == known {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown subsystem %q", name)
}

// Route returns the predict path for the subsystem, e.g. /predict_ahu
func (s Subsystem) Route() string {
	return "/predict_" + string(s)
}

// Reading is the request payload for a predict call. Fields stay raw so the
// handler can tell absent, null and mistyped values apart.
type Reading struct {
	Timestamp json.RawMessage `json:"timestamp"`
	Usage     json.RawMessage `json:"usage"`
}

// Prediction is the success body of a predict call
type Prediction struct {
	Anomaly bool `json:"anomaly"`
}

// ErrorResponse is the body of every failed call
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClassifierInfo describes a loaded classifier handle
type ClassifierInfo struct {
	Subsystem    Subsystem `json:"subsystem"`
	Kind         string    `json:"kind"`
	Artifact     string    `json:"artifact"`
	Source       string    `json:"source"`
	Trees        int       `json:"trees"`
	MaxSamples   int       `json:"max_samples"`
	FeatureNames []string  `json:"feature_names"`
}
