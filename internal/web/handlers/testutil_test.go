package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/database/memory"
	"github.com/kozaktomas/face-attendance/internal/extractor"
	"github.com/kozaktomas/face-attendance/internal/facematch"
	"github.com/kozaktomas/face-attendance/internal/logging"
	"github.com/kozaktomas/face-attendance/internal/service"
)

const testDim = 8

// testService creates a service over an empty in-memory backend with the
// simulated extractor.
func testService(t *testing.T) *service.Service {
	t.Helper()
	cfg := config.Defaults()
	cfg.Matcher.Dim = testDim
	cfg.Extractor.Backend = extractor.BackendSimulated

	svc, err := service.New(cfg, memory.New().Backend(), extractor.NewSimulated(testDim), service.Options{})
	require.NoError(t, err)
	return svc
}

// axis returns the unit vector along dimension i.
func axis(i int) facematch.Vector {
	v := make(facematch.Vector, testDim)
	v[i] = 1
	return v
}

// tilted returns a unit vector mostly along axis i, leaning towards axis j.
func tilted(i, j int, lean float64) facematch.Vector {
	v := make(facematch.Vector, testDim)
	v[i] = float32(math.Sqrt(1 - lean*lean))
	v[j] = float32(lean)
	return v
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// requestWithChiParams attaches route parameters the way chi's router would.
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), target), "body: %s", recorder.Body.String())
}

func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	assert.Equal(t, expected, recorder.Code, "body: %s", recorder.Body.String())
}

func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	assert.Equal(t, expected, recorder.Header().Get("Content-Type"))
}

// assertErrorCode checks the {"error","code"} body written by respondDomainError.
func assertErrorCode(t *testing.T, recorder *httptest.ResponseRecorder, expectedCode string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	parseJSONResponse(t, recorder, &body)
	assert.Equal(t, expectedCode, body.Code, "error: %s", body.Error)
	assert.NotEmpty(t, body.Error)
}

var discardLogger = logging.Discard()
