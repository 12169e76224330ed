package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareCountsByStatus(t *testing.T) {
	m := New("test")
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/predict/image" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/health", "/predict/image", "/predict/image", "/nope/123"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/health", "200")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/predict/image", "400")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "other", "200")))
	require.Equal(t, 0.0, testutil.ToFloat64(m.requestInFlight))
}

func TestRecordInference(t *testing.T) {
	m := New("test")
	m.RecordPrediction("Healthy", 20*time.Millisecond)
	m.RecordPrediction("Healthy", 30*time.Millisecond)
	m.RecordInferenceError("decode")
	m.RecordInferenceError("")
	m.SetModelLoaded(true)

	require.Equal(t, 2.0, testutil.ToFloat64(m.predictionsTotal.WithLabelValues("Healthy")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.inferenceErrors.WithLabelValues("decode")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.inferenceErrors.WithLabelValues("unknown")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.modelLoaded))
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New("test")
	m.RecordPrediction("Salmonella", time.Millisecond)

	res := httptest.NewRecorder()
	m.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, res.Code)

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(body), `certan_inference_predictions_total{label="Salmonella",service="test"} 1`))
}
