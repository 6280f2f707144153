package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"facilitywatch/internal/classifier"
	"facilitywatch/internal/config"
	"facilitywatch/internal/detector"
	"facilitywatch/internal/features"
	"facilitywatch/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeClassifier flags usage above a threshold and records every call
type fakeClassifier struct {
	mu        sync.Mutex
	threshold float64
	err       error
	panics    bool
	calls     []features.FeatureVector
}

func (f *fakeClassifier) Label(vec features.FeatureVector) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append(features.FeatureVector(nil), vec...))

	if f.panics {
		panic("boom")
	}
	if f.err != nil {
		return 0, f.err
	}
	if vec[0] > f.threshold {
		return -1, nil
	}
	return 1, nil
}

func (f *fakeClassifier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixture struct {
	server      *Server
	classifiers map[models.Subsystem]*fakeClassifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	fakes := map[models.Subsystem]*fakeClassifier{
		models.AHU:     {threshold: 100},
		models.Chiller: {threshold: 100},
		models.Lift:    {threshold: 100},
	}
	handles := make(map[models.Subsystem]classifier.Classifier, len(fakes))
	for sub, f := range fakes {
		handles[sub] = f
	}

	s, err := NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, classifier.NewSet(handles), zap.NewNop())
	require.NoError(t, err)
	return &fixture{server: s, classifiers: fakes}
}

func (fx *fixture) post(t *testing.T, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return body
}

func TestNewServer_MissingClassifier(t *testing.T) {
	set := classifier.NewSet(map[models.Subsystem]classifier.Classifier{
		models.AHU:     &fakeClassifier{},
		models.Chiller: &fakeClassifier{},
	})

	_, err := NewServer(config.ServerConfig{Addr: "127.0.0.1:0"}, set, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lift")
}

func TestPredict_Verdicts(t *testing.T) {
	fx := newFixture(t)

	for _, sub := range models.Subsystems {
		t.Run(string(sub), func(t *testing.T) {
			w := fx.post(t, sub.Route(), `{"timestamp":"2024-03-04 13:45:00","usage":42.5}`)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, map[string]interface{}{"anomaly": false}, decodeBody(t, w))

			w = fx.post(t, sub.Route(), `{"timestamp":"2024-03-04 13:45:00","usage":500}`)
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, map[string]interface{}{"anomaly": true}, decodeBody(t, w))
		})
	}
}

func TestPredict_FeatureVector(t *testing.T) {
	fx := newFixture(t)

	// 2024-03-04 is a Monday, 2024-03-10 a Sunday
	fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-04 13:45:00","usage":42.5}`)
	fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-10 00:00:00","usage":0}`)
	fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-09 23:59:59","usage":-3}`)

	assert.Equal(t, []features.FeatureVector{
		{42.5, 13, 0},
		{0, 0, 6},
		{-3, 23, 5},
	}, fx.classifiers[models.AHU].calls)
}

func TestPredict_SubsystemIsolation(t *testing.T) {
	fx := newFixture(t)

	w := fx.post(t, "/predict_chiller", `{"timestamp":"2024-03-04 13:45:00","usage":42.5}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, 0, fx.classifiers[models.AHU].callCount())
	assert.Equal(t, 1, fx.classifiers[models.Chiller].callCount())
	assert.Equal(t, 0, fx.classifiers[models.Lift].callCount())
}

func TestPredict_Idempotent(t *testing.T) {
	fx := newFixture(t)
	payload := `{"timestamp":"2024-03-04 13:45:00","usage":500}`

	first := fx.post(t, "/predict_lift", payload)
	second := fx.post(t, "/predict_lift", payload)

	assert.Equal(t, first.Code, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
}

func TestPredict_RejectedPayloads(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"empty body", ``, http.StatusBadRequest, msgNoInput},
		{"whitespace body", "  \n", http.StatusBadRequest, msgNoInput},
		{"not json", `usage=5`, http.StatusBadRequest, msgNoInput},
		{"json null", `null`, http.StatusBadRequest, msgNoInput},
		{"json array", `[1,2]`, http.StatusBadRequest, msgNoInput},
		{"json string", `"hello"`, http.StatusBadRequest, msgNoInput},
		{"empty object", `{}`, http.StatusBadRequest, msgNoInput},
		{"oversized body", `{"timestamp":"2024-03-04 13:45:00","usage":5,"pad":"` + strings.Repeat("x", maxPayloadBytes) + `"}`, http.StatusBadRequest, msgNoInput},
		{"missing usage", `{"timestamp":"2024-03-04 13:45:00"}`, http.StatusBadRequest, msgMissingFields},
		{"missing timestamp", `{"usage":5}`, http.StatusBadRequest, msgMissingFields},
		{"null usage", `{"timestamp":"2024-03-04 13:45:00","usage":null}`, http.StatusBadRequest, msgMissingFields},
		{"null timestamp", `{"timestamp":null,"usage":5}`, http.StatusBadRequest, msgMissingFields},
		{"unrelated fields", `{"ts":"2024-03-04 13:45:00","value":5}`, http.StatusBadRequest, msgMissingFields},
		{"string usage", `{"timestamp":"2024-03-04 13:45:00","usage":"5"}`, http.StatusBadRequest, msgUsageNotNumber},
		{"bool usage", `{"timestamp":"2024-03-04 13:45:00","usage":true}`, http.StatusBadRequest, msgUsageNotNumber},
		{"overflowing usage", `{"timestamp":"2024-03-04 13:45:00","usage":1e400}`, http.StatusBadRequest, msgUsageNotNumber},
		{"numeric timestamp", `{"timestamp":1709559900,"usage":5}`, http.StatusInternalServerError, features.ErrInvalidTimestamp.Error()},
		{"iso timestamp", `{"timestamp":"2024-03-04T13:45:00","usage":5}`, http.StatusInternalServerError, features.ErrInvalidTimestamp.Error()},
		{"date only", `{"timestamp":"2024-03-04","usage":5}`, http.StatusInternalServerError, features.ErrInvalidTimestamp.Error()},
		{"impossible date", `{"timestamp":"2024-02-30 10:00:00","usage":5}`, http.StatusInternalServerError, features.ErrInvalidTimestamp.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t)

			w := fx.post(t, "/predict_ahu", tt.body)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, map[string]interface{}{"error": tt.wantError}, decodeBody(t, w))
			assert.Zero(t, fx.classifiers[models.AHU].callCount(), "classifier must not run")
		})
	}
}

func TestPredict_InferenceError(t *testing.T) {
	fx := newFixture(t)
	fx.classifiers[models.Lift].err = fmt.Errorf("%w: vector has 2 features", classifier.ErrInference)

	w := fx.post(t, "/predict_lift", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	body := decodeBody(t, w)
	assert.Contains(t, body["error"], "inference error")
	assert.NotContains(t, body, "anomaly")
}

func TestPredict_UnexpectedClassifierError(t *testing.T) {
	fx := newFixture(t)
	fx.classifiers[models.Chiller].err = errors.New("handle closed")

	w := fx.post(t, "/predict_chiller", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "handle closed")
}

func TestPredict_PanicBecomesInternalError(t *testing.T) {
	fx := newFixture(t)
	fx.classifiers[models.AHU].panics = true

	w := fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, map[string]interface{}{"error": msgInternal}, decodeBody(t, w))

	// the service keeps answering afterwards
	fx.classifiers[models.AHU].panics = false
	w = fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPredict_MethodNotAllowed(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/predict_ahu", nil)
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Zero(t, fx.classifiers[models.AHU].callCount())
}

func TestUnknownRoute(t *testing.T) {
	fx := newFixture(t)

	w := fx.post(t, "/predict_boiler", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPredict_Concurrent(t *testing.T) {
	fx := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := models.Subsystems[i%len(models.Subsystems)]
			w := fx.post(t, sub.Route(), `{"timestamp":"2024-03-04 13:45:00","usage":500}`)
			assert.Equal(t, http.StatusOK, w.Code)
		}(i)
	}
	wg.Wait()

	for _, sub := range models.Subsystems {
		assert.Equal(t, 10, fx.classifiers[sub].callCount(), string(sub))
	}
}

func TestRequestID(t *testing.T) {
	fx := newFixture(t)

	w := fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodPost, "/predict_ahu", bytes.NewBufferString(`{}`))
	req.Header.Set(requestIDHeader, "req-123")
	w = httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestHandleHealth(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["time"])
	assert.Equal(t, []interface{}{"ahu", "chiller", "lift"}, body["subsystems"])
}

func TestHandleModels(t *testing.T) {
	fx := newFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/models", nil)
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.EqualValues(t, 3, body["count"])
	assert.Len(t, body["classifiers"], 3)
}

func TestHandleMetrics(t *testing.T) {
	fx := newFixture(t)
	fx.post(t, "/predict_ahu", `{"timestamp":"2024-03-04 13:45:00","usage":5}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "predictions_total{outcome=\"normal\",subsystem=\"ahu\"}")
}

func TestPredictHandler_Handle(t *testing.T) {
	fx := newFixture(t)
	c, _ := fx.server.classifiers.Get(models.Lift)

	h := NewPredictHandler(detector.NewAnomalyDetector(models.Lift, c), zap.NewNop())
	body, status := h.Handle([]byte(`{"timestamp":"2024-03-04 13:45:00","usage":500,"extra":"ignored"}`))

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.Prediction{Anomaly: true}, body)
}

func TestServer_ShutdownRightAfterStart(t *testing.T) {
	fx := newFixture(t)

	done := make(chan error, 1)
	go func() {
		done <- fx.server.Start()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, fx.server.Shutdown(ctx))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start() still serving after Shutdown() returned")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	fx := newFixture(t)

	require.NoError(t, fx.server.Shutdown(context.Background()))
	assert.NoError(t, fx.server.Start())
}
