package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Brownie44l1/certan-api/internal/domain"
	"github.com/Brownie44l1/certan-api/internal/metrics"
	"github.com/Brownie44l1/certan-api/internal/model"
)

// ClassifierProvider hands out the loaded classifier.
type ClassifierProvider interface {
	Classifier(ctx context.Context) (*model.Classifier, error)
	Ready() bool
	Current() *model.Classifier
}

type Handler struct {
	provider       ClassifierProvider
	metrics        *metrics.Metrics
	maxUploadBytes int64
}

func NewHandler(provider ClassifierProvider, m *metrics.Metrics, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{
		provider:       provider,
		metrics:        m,
		maxUploadBytes: maxUploadBytes,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ready := h.provider.Ready()
	h.metrics.SetModelLoaded(ready)

	resp := map[string]any{"status": "healthy", "model_loaded": ready}
	if c := h.provider.Current(); c != nil && c.LabelsVersion() != "" {
		resp["labels_version"] = c.LabelsVersion()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Predict classifies a preprocessed tensor sent as JSON.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var req model.PredictionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	h.classify(w, r, func(ctx context.Context, c *model.Classifier) (model.Prediction, error) {
		return c.ClassifyTensor(ctx, req.Image)
	})
}

// PredictFromImage classifies an uploaded photo from the "image" form field.
func (h *Handler) PredictFromImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "image is too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to parse form")
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no image file provided, use 'image' as the form field name")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}

	slog.Debug("image_received",
		"request_id", requestIDFromContext(r.Context()),
		"filename", header.Filename,
		"bytes", len(data),
	)

	h.classify(w, r, func(ctx context.Context, c *model.Classifier) (model.Prediction, error) {
		return c.ClassifyBytes(ctx, data)
	})
}

func (h *Handler) classify(w http.ResponseWriter, r *http.Request, run func(context.Context, *model.Classifier) (model.Prediction, error)) {
	ctx := r.Context()

	c, err := h.provider.Classifier(ctx)
	h.metrics.SetModelLoaded(err == nil)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	start := time.Now()
	pred, err := run(ctx, c)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.RecordPrediction(pred.Label.String(), time.Since(start))

	writeJSON(w, http.StatusOK, pred.Response())
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := mapErrorToHTTPStatus(err)
	h.metrics.RecordInferenceError(domain.KindName(err))

	attrs := []any{
		"request_id", requestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"kind", domain.KindName(err),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		slog.Error("classification_failed", attrs...)
	} else {
		slog.Warn("classification_failed", attrs...)
	}

	if domain.IsKind(err, domain.ErrOverloaded) {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, status, userMessage(err))
}

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrDecode), domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrModelUnavailable), domain.IsKind(err, domain.ErrOverloaded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// userMessage is the short diagnostic shown to the caller. Details stay in the log.
func userMessage(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrDecode):
		return "invalid image, supported formats: JPEG, PNG, GIF"
	case domain.IsKind(err, domain.ErrInvalidInput):
		return err.Error()
	case domain.IsKind(err, domain.ErrLabelMapping):
		return "model class metadata does not match the label table"
	case domain.IsKind(err, domain.ErrModelUnavailable):
		return "model unavailable"
	case domain.IsKind(err, domain.ErrOverloaded):
		return "server busy, try again"
	default:
		return "prediction failed"
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
