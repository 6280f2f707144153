package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"facilitywatch/internal/classifier"
	"facilitywatch/internal/detector"
	"facilitywatch/internal/features"
	"facilitywatch/internal/metrics"
	"facilitywatch/internal/models"

	"go.uber.org/zap"
)

const maxPayloadBytes = 1 << 20

// Client-facing error messages
const (
	msgNoInput        = "No input data provided"
	msgMissingFields  = "Missing required fields: 'timestamp' and 'usage'"
	msgUsageNotNumber = "Field 'usage' must be numeric"
	msgInternal       = "Internal server error"
)

// prediction outcomes, used as a metric label
const (
	outcomeNormal           = "normal"
	outcomeAnomaly          = "anomaly"
	outcomeMissingPayload   = "missing_payload"
	outcomeMissingField     = "missing_field"
	outcomeInvalidUsage     = "invalid_usage"
	outcomeInvalidTimestamp = "invalid_timestamp"
	outcomeInferenceError   = "inference_error"
	outcomeInternalError    = "internal_error"
)

// PredictHandler serves the predict endpoint of a single subsystem. The three
// subsystem endpoints share this type and differ only in the bound detector.
type PredictHandler struct {
	detector *detector.AnomalyDetector
	logger   *zap.Logger
}

func NewPredictHandler(ad *detector.AnomalyDetector, logger *zap.Logger) *PredictHandler {
	return &PredictHandler{
		detector: ad,
		logger:   logger.With(zap.String("subsystem", string(ad.Subsystem()))),
	}
}

// Handle runs one payload through validation and scoring and returns the
// response body with its status code. It never panics.
func (h *PredictHandler) Handle(payload []byte) (body interface{}, status int) {
	start := time.Now()
	outcome := outcomeInternalError

	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("predict panicked", zap.Any("panic", r), zap.Stack("stack"))
			body, status, outcome = models.ErrorResponse{Error: msgInternal}, http.StatusInternalServerError, outcomeInternalError
		}
		metrics.RecordPrediction(string(h.detector.Subsystem()), outcome, time.Since(start))
	}()

	reading, ok := decodeReading(payload)
	if !ok {
		outcome = outcomeMissingPayload
		return models.ErrorResponse{Error: msgNoInput}, http.StatusBadRequest
	}

	if isNull(reading.Timestamp) || isNull(reading.Usage) {
		outcome = outcomeMissingField
		return models.ErrorResponse{Error: msgMissingFields}, http.StatusBadRequest
	}

	var usage float64
	if err := json.Unmarshal(reading.Usage, &usage); err != nil {
		outcome = outcomeInvalidUsage
		return models.ErrorResponse{Error: msgUsageNotNumber}, http.StatusBadRequest
	}

	// a non-string timestamp can't match the layout either
	var timestamp string
	if err := json.Unmarshal(reading.Timestamp, &timestamp); err != nil {
		outcome = outcomeInvalidTimestamp
		return models.ErrorResponse{Error: features.ErrInvalidTimestamp.Error()}, http.StatusInternalServerError
	}

	anomaly, err := h.detector.Detect(timestamp, usage)
	if err != nil {
		// timestamp errors keep status 500, matching the service's
		// established contract
		switch {
		case errors.Is(err, features.ErrInvalidTimestamp):
			outcome = outcomeInvalidTimestamp
		case errors.Is(err, classifier.ErrInference):
			outcome = outcomeInferenceError
			h.logger.Warn("inference failed", zap.Error(err))
		default:
			h.logger.Error("predict failed", zap.Error(err))
		}
		return models.ErrorResponse{Error: err.Error()}, http.StatusInternalServerError
	}

	outcome = outcomeNormal
	if anomaly {
		outcome = outcomeAnomaly
	}
	return models.Prediction{Anomaly: anomaly}, http.StatusOK
}

// ServeHTTP adapts Handle to net/http
func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.logger.Warn("failed to read request body", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: msgNoInput})
		return
	}

	body, status := h.Handle(payload)
	writeJSON(w, status, body)
}

// decodeReading accepts only a non-empty JSON object
func decodeReading(payload []byte) (models.Reading, bool) {
	if len(bytes.TrimSpace(payload)) == 0 {
		return models.Reading{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || len(fields) == 0 {
		return models.Reading{}, false
	}

	return models.Reading{
		Timestamp: fields["timestamp"],
		Usage:     fields["usage"],
	}, true
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
