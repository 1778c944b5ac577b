// Package router configures HTTP routes for the forecaster's HTTP API.
//
// The forecaster exposes an HTTP server on port 8081 (configurable) that
// serves stage predictions, area schedules, training triggers, health checks
// and Prometheus metrics.
//
// Routes configured:
//   - GET  /healthz              - Health check (pings the model store when it can)
//   - GET  /metrics              - Prometheus metrics endpoint
//   - GET  /status               - National status and the last training cycle
//   - GET  /area/{id}            - Area schedule, statistics and next-day prediction
//   - POST /predict              - {"area_id", "days_ahead"} → {"prediction": …|null}
//   - POST /train                - Run a training cycle now
//   - POST /train/area/{id}      - Retrain one area model now
//
// Every handled request increments shedcast_requests_total{endpoint}.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/shedcast/cmd/forecaster/metrics"
	"github.com/HatiCode/shedcast/pkg/adapters"
	"github.com/HatiCode/shedcast/pkg/analysis"
	"github.com/HatiCode/shedcast/pkg/events"
	"github.com/HatiCode/shedcast/pkg/features"
	"github.com/HatiCode/shedcast/pkg/forecast"
	"github.com/HatiCode/shedcast/pkg/httpx"
	"github.com/HatiCode/shedcast/pkg/storage"
)

const (
	// sourceTimeout bounds upstream calls made while serving a request.
	sourceTimeout = 10 * time.Second

	// maxBodyBytes caps JSON request bodies.
	maxBodyBytes = 1 << 20
)

// Predictor serves stage predictions.
type Predictor interface {
	PredictDaysAhead(ctx context.Context, areaID string, days int) (forecast.Prediction, bool, error)
}

// Trainer runs training cycles on demand.
type Trainer interface {
	Tick(ctx context.Context) (forecast.CycleSummary, error)
	TrainArea(ctx context.Context, areaID string) (forecast.TrainResult, error)
	LastCycle() (forecast.CycleSummary, bool)
}

// Deps holds what the routes serve from.
type Deps struct {
	Source    adapters.Source
	Predictor Predictor
	Trainer   Trainer
	Metrics   *metrics.Metrics
	Logger    *slog.Logger

	// HealthCheck backs /healthz when set.
	HealthCheck func(ctx context.Context) error

	// MetricsHandler overrides the default Prometheus handler.
	MetricsHandler http.Handler
}

// PredictRequest is the body of POST /predict. DaysAhead defaults to 1.
type PredictRequest struct {
	AreaID    string `json:"area_id"`
	DaysAhead *int   `json:"days_ahead"`
}

// PredictResponse carries a null prediction when no model is trained.
type PredictResponse struct {
	Prediction *forecast.Prediction `json:"prediction"`
}

// AreaResponse is the body of GET /area/{id}.
type AreaResponse struct {
	AreaID     string                  `json:"area_id"`
	Name       string                  `json:"name,omitempty"`
	Events     []eventView             `json:"events"`
	Stats      *analysis.ScheduleStats `json:"stats"`
	Prediction *forecast.Prediction    `json:"prediction"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Source      string                   `json:"source"`
	National    *adapters.NationalStatus `json:"national,omitempty"`
	SourceError string                   `json:"source_error,omitempty"`
	LastCycle   *forecast.CycleSummary   `json:"last_cycle,omitempty"`
}

type eventView struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Stage int    `json:"stage"`
	Day   string `json:"day,omitempty"`
}

// SetupRoutes configures HTTP endpoints for the forecaster.
func SetupRoutes(d Deps) *http.ServeMux {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{Deps: d}

	mux := http.NewServeMux()

	// Health check endpoint
	if d.HealthCheck != nil {
		mux.Handle("GET /healthz", httpx.HealthHandlerWithCheck(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return d.HealthCheck(ctx)
		}))
	} else {
		mux.Handle("GET /healthz", httpx.HealthHandler())
	}

	// Prometheus metrics endpoint
	metricsHandler := d.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	mux.Handle("GET /metrics", metricsHandler)

	mux.HandleFunc("GET /status", h.counted("status", h.status))
	mux.HandleFunc("GET /area/{id}", h.counted("area", h.area))
	mux.HandleFunc("POST /predict", h.counted("predict", h.predict))
	mux.HandleFunc("POST /train", h.counted("train", h.train))
	mux.HandleFunc("POST /train/area/{id}", h.counted("train_area", h.trainArea))

	return mux
}

type handlers struct {
	Deps
}

// counted records one usage hit for endpoint before serving.
func (h *handlers) counted(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.Metrics != nil {
			h.Metrics.RecordRequest(endpoint)
		}
		next(w, r)
	}
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Source: h.Source.Name()}

	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	national, err := h.Source.Status(ctx)
	if err != nil {
		h.Logger.Warn("failed to fetch national status", "error", err, "request_id", httpx.RequestID(r.Context()))
		h.recordError("source", "status_failed")
		resp.SourceError = err.Error()
	} else {
		resp.National = &national
	}

	if h.Trainer != nil {
		if last, ok := h.Trainer.LastCycle(); ok {
			resp.LastCycle = &last
		}
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) area(w http.ResponseWriter, r *http.Request) {
	areaID := r.PathValue("id")
	if err := storage.ValidateScope(areaID); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid area id")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sourceTimeout)
	defer cancel()

	schedule, err := h.Source.Schedule(ctx, areaID)
	if err != nil {
		if errors.Is(err, adapters.ErrAreaNotFound) {
			httpx.WriteErrorMessage(w, http.StatusNotFound, fmt.Sprintf("area %q not found", areaID))
			return
		}
		h.Logger.Error("failed to fetch schedule", "area_id", areaID, "error", err)
		h.recordError("source", "fetch_failed")
		httpx.WriteErrorMessage(w, http.StatusBadGateway, "upstream unavailable")
		return
	}

	stats, err := analysis.Analyze(schedule.Events)
	if err != nil {
		h.recordError("analysis", "malformed_event")
		httpx.WriteError(w, http.StatusUnprocessableEntity, err)
		return
	}

	resp := AreaResponse{
		AreaID: schedule.AreaID,
		Name:   schedule.Name,
		Events: viewEvents(schedule),
		Stats:  stats,
	}

	pred, found, err := h.Predictor.PredictDaysAhead(r.Context(), areaID, 1)
	h.recordPrediction(areaID, pred, found, err)
	if err != nil {
		h.Logger.Error("prediction failed", "area_id", areaID, "error", err)
	} else if found {
		resp.Prediction = &pred
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	days := 1
	if req.DaysAhead != nil {
		days = *req.DaysAhead
	}
	if days < 0 {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "days_ahead must be >= 0")
		return
	}
	if req.AreaID != "" {
		if err := storage.ValidateScope(req.AreaID); err != nil {
			httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid area id")
			return
		}
	}

	pred, found, err := h.Predictor.PredictDaysAhead(r.Context(), req.AreaID, days)
	h.recordPrediction(req.AreaID, pred, found, err)
	if err != nil {
		h.Logger.Error("prediction failed", "area_id", req.AreaID, "error", err, "request_id", httpx.RequestID(r.Context()))
		httpx.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := PredictResponse{}
	if found {
		resp.Prediction = &pred
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) train(w http.ResponseWriter, r *http.Request) {
	if h.Trainer == nil {
		httpx.WriteErrorMessage(w, http.StatusServiceUnavailable, "training disabled")
		return
	}

	summary, err := h.Trainer.Tick(r.Context())
	if err != nil {
		h.writeTrainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, summary)
}

func (h *handlers) trainArea(w http.ResponseWriter, r *http.Request) {
	if h.Trainer == nil {
		httpx.WriteErrorMessage(w, http.StatusServiceUnavailable, "training disabled")
		return
	}

	areaID := r.PathValue("id")
	if err := storage.ValidateScope(areaID); err != nil {
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "invalid area id")
		return
	}

	result, err := h.Trainer.TrainArea(r.Context(), areaID)
	if err != nil {
		h.writeTrainError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *handlers) writeTrainError(w http.ResponseWriter, r *http.Request, err error) {
	var malformed *features.MalformedEventError
	switch {
	case errors.Is(err, adapters.ErrAreaNotFound):
		httpx.WriteError(w, http.StatusNotFound, err)
	case errors.Is(err, forecast.ErrInsufficientData), errors.As(err, &malformed):
		httpx.WriteError(w, http.StatusUnprocessableEntity, err)
	default:
		h.Logger.Error("training failed", "error", err, "request_id", httpx.RequestID(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, err)
	}
}

func (h *handlers) recordPrediction(areaID string, pred forecast.Prediction, found bool, err error) {
	if h.Metrics == nil {
		return
	}

	kind := metrics.ScopeNational
	if areaID != "" {
		kind = metrics.ScopeArea
	}

	switch {
	case err != nil:
		h.Metrics.RecordPrediction(kind, metrics.OutcomeError)
	case !found:
		h.Metrics.RecordPrediction(kind, metrics.OutcomeNoModel)
	case pred.Fallback:
		h.Metrics.RecordPrediction(kind, metrics.OutcomeFallback)
	default:
		h.Metrics.RecordPrediction(kind, metrics.OutcomeHit)
	}
}

func (h *handlers) recordError(component, reason string) {
	if h.Metrics != nil {
		h.Metrics.RecordError(component, reason)
	}
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	if err := httpx.WriteJSON(w, status, v); err != nil {
		h.Logger.Error("failed to write JSON response", "error", err)
	}
}

// viewEvents adds the weekday name to events whose start parses.
func viewEvents(schedule events.AreaSchedule) []eventView {
	out := make([]eventView, 0, len(schedule.Events))
	for _, e := range schedule.Events {
		v := eventView{Start: e.Start, End: e.End, Stage: e.Stage}
		if start, err := features.ParseTimestamp(e.Start); err == nil {
			v.Day = features.WeekdayOf(start).String()
		}
		out = append(out, v)
	}
	return out
}
