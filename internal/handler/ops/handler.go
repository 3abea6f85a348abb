// Package ops exposes health, readiness and operator endpoints over Echo.
package ops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/labstack/echo/v4"

	"SpinCast/internal/domain/models"
	domrepo "SpinCast/internal/domain/repository"
	mid "SpinCast/internal/middleware"
	xhttp "SpinCast/pkg/http"
	"SpinCast/pkg/logger"
	"SpinCast/pkg/util"
)

// Driver is the part of the cycle the handler reads from.
type Driver interface {
	Running() bool
	LatestPrediction() (*models.Prediction, bool)
}

// Pipeline accepts raw outcomes.
type Pipeline interface {
	Process(ctx context.Context, raw domrepo.RawOutcome) (models.IngestResult, error)
}

// JobPublisher queues background jobs.
type JobPublisher interface {
	PublishMessage(ctx context.Context, msgType string, payload interface{}) error
}

type queueDepth interface {
	Depth(ctx context.Context) (waiting, retrying, dead int64, err error)
}

// Handler serves the operator API.
type Handler struct {
	store    domrepo.HotStore
	models   domrepo.ModelStore
	driver   Driver
	pipe     Pipeline
	jobs     JobPublisher // nil disables POST /api/train
	trainJob string
	log      *logger.Logger
}

func NewHandler(store domrepo.HotStore, modelStore domrepo.ModelStore, driver Driver, pipe Pipeline,
	jobs JobPublisher, trainJob string, log *logger.Logger) *Handler {
	return &Handler{store: store, models: modelStore, driver: driver, pipe: pipe, jobs: jobs, trainJob: trainJob, log: log}
}

var _ xhttp.Handler = (*Handler)(nil)

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	e.GET("/readyz", h.Ready)

	g := e.Group("/api")
	g.GET("/predictions/latest", h.LatestPrediction)
	g.GET("/stats", h.Stats)
	g.GET("/trends", h.Trends)
	g.GET("/model", h.Model)
	g.POST("/outcomes", h.SubmitOutcome)
	g.GET("/outcomes/stream", h.StreamOutcomes)
	g.POST("/train", h.RequestTraining)
	g.GET("/jobs", h.Jobs)
}

// Health pings the hot store.
func (h *Handler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("hot store unreachable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]string{"redis": "ok"})
}

// Ready reports whether the driver loop is running.
func (h *Handler) Ready(c echo.Context) error {
	if !h.driver.Running() {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("driver not running"))
	}
	return xhttp.SuccessResponse(c, map[string]bool{"driver": true})
}

func (h *Handler) LatestPrediction(c echo.Context) error {
	p, ok := h.driver.LatestPrediction()
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no prediction yet"))
	}
	return xhttp.SuccessResponse(c, p)
}

func (h *Handler) Stats(c echo.Context) error {
	st, err := h.store.Stats(c.Request().Context())
	if err != nil {
		h.log.Error("stats read failed", logger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("stats unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, st)
}

// TrendsRequest is the query of GET /api/trends.
type TrendsRequest struct {
	Window int `query:"window" default:"100" validate:"gte=1,lte=5000"`
}

// Trends reports hot and cold numbers over the newest window outcomes
// alongside the lifetime counters and hit rates.
func (h *Handler) Trends(c echo.Context) error {
	req := &TrendsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tr, err := h.store.Trends(c.Request().Context(), req.Window)
	if err != nil {
		h.log.Error("trends read failed", logger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("trends unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, tr)
}

func (h *Handler) Model(c echo.Context) error {
	meta, err := h.models.Metadata(c.Request().Context())
	if errors.Is(err, models.ErrModelNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("no trained model"))
	}
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("model metadata unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, meta)
}

// OutcomeRequest is the body of POST /api/outcomes.
type OutcomeRequest struct {
	Number    *int   `json:"number" validate:"required,gte=0,lte=36"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source" default:"http"`
}

func (h *Handler) SubmitOutcome(c echo.Context) error {
	req := &OutcomeRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	raw := domrepo.RawOutcome{Source: req.Source, Value: *req.Number}
	if req.Timestamp != "" {
		raw.At = util.ParseTimeDefault(req.Timestamp, time.Time{})
	}

	res, err := h.pipe.Process(c.Request().Context(), raw)
	switch {
	case errors.Is(err, mid.ErrThrottled):
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("source throttled"))
	case errors.Is(err, models.ErrStoreUnavailable):
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("store unavailable, retry later").WithError(err))
	case err != nil:
		h.log.Error("outcome submit failed", logger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("outcome not processed"))
	}
	if res.Status == models.IngestBuffered {
		return xhttp.AcceptedResponse(c, res)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *Handler) RequestTraining(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue disabled"))
	}
	if err := h.jobs.PublishMessage(c.Request().Context(), h.trainJob, map[string]string{"reason": "api"}); err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue unavailable").WithError(err))
	}
	return xhttp.AcceptedResponse(c, map[string]string{"job": h.trainJob})
}

// Jobs reports the job queue backlog.
func (h *Handler) Jobs(c echo.Context) error {
	q, ok := h.jobs.(queueDepth)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue disabled"))
	}
	waiting, retrying, dead, err := q.Depth(c.Request().Context())
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("job queue unavailable").WithError(err))
	}
	return xhttp.SuccessResponse(c, map[string]int64{"waiting": waiting, "retrying": retrying, "dead": dead})
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamOutcomes relays accepted outcomes as server-sent events until the
// client disconnects. Every open stream is its own subscriber.
func (h *Handler) StreamOutcomes(c echo.Context) error {
	ctx := c.Request().Context()
	events, closeSub := h.store.SubscribeNewOutcomes(ctx)
	defer func() { _ = closeSub() }()

	w := c.Response()
	// streams outlive the server write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	for ev := range events {
		b, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "event: outcome\nid: %d\ndata: %s\n\n", ev.SpinID, b); err != nil {
			return nil
		}
		w.Flush()
	}
	return nil
}
