package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	models "StockRisk/internal/domain/models"
	"StockRisk/internal/usecase"
	xhttp "StockRisk/pkg/http"
	xlogger "StockRisk/pkg/logger"
	"StockRisk/pkg/queue"
)

// RiskEchoHandler serves the prediction API.
type RiskEchoHandler struct {
	logger    *xlogger.Logger
	predictor *usecase.RiskPredictor
	jobs      queue.Publisher
	maxBatch  int
}

// NewRiskEchoHandler builds the handler. jobs may be nil, which disables
// POST /admin/retrain.
func NewRiskEchoHandler(logger *xlogger.Logger, predictor *usecase.RiskPredictor, jobs queue.Publisher, maxBatch int) *RiskEchoHandler {
	if maxBatch <= 0 {
		maxBatch = 100
	}
	return &RiskEchoHandler{logger: logger, predictor: predictor, jobs: jobs, maxBatch: maxBatch}
}

func (h *RiskEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/ready", h.Ready)
	e.POST("/predict", h.Predict)
	e.POST("/predict/batch", h.PredictBatch)
	e.POST("/admin/retrain", h.Retrain)
}

// Health is liveness only and never touches the model.
func (h *RiskEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, models.HealthResponse{Status: "ok", Ready: h.predictor.Ready()})
}

func (h *RiskEchoHandler) Ready(c echo.Context) error {
	version, loadedAt, ok := h.predictor.ModelInfo()
	if !ok {
		return xhttp.DataResponse(c, http.StatusServiceUnavailable, models.ReadyResponse{Status: "loading"})
	}
	return xhttp.SuccessResponse(c, models.ReadyResponse{
		Status:       "ready",
		Ready:        true,
		ModelVersion: version,
		LoadedAt:     &loadedAt,
	})
}

func (h *RiskEchoHandler) Predict(c echo.Context) error {
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.AppErrorResponse(c, verr)
	}

	res, err := h.predictor.Predict(c.Request().Context(), req.Observation())
	if err != nil {
		return xhttp.AppErrorResponse(c, h.mapError(err))
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *RiskEchoHandler) PredictBatch(c echo.Context) error {
	req := &models.BatchPredictRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.AppErrorResponse(c, verr)
	}
	if len(req.Stocks) > h.maxBatch {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_BATCH_TOO_LARGE", "stocks",
			fmt.Sprintf("stocks must contain at most %d entries", h.maxBatch), http.StatusBadRequest))
	}

	// whole-batch conditions are retryable, so they fail the request
	// instead of every entry
	ctx := c.Request().Context()
	if !h.predictor.Ready() {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(models.CodeModelUnavailable, "model is still loading"))
	}
	if ctx.Err() != nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError(models.CodeTimeout, "request deadline exceeded"))
	}

	entries := make([]usecase.BatchInput, len(req.Stocks))
	for i, raw := range req.Stocks {
		entries[i] = decodeBatchEntry(ctx, raw)
	}
	return xhttp.SuccessResponse(c, h.predictor.PredictBatch(ctx, entries))
}

// decodeBatchEntry decodes and validates one batch entry. Failures are kept
// on the entry. The symbol survives a type error elsewhere in the entry.
func decodeBatchEntry(ctx context.Context, raw json.RawMessage) usecase.BatchInput {
	var s models.BatchStock
	if err := json.Unmarshal(raw, &s); err != nil {
		in := usecase.BatchInput{Invalid: bodyError(err)}
		if in.Invalid.Field != "symbol" {
			in.Symbol = s.Symbol
		}
		return in
	}

	in := usecase.BatchInput{Symbol: s.Symbol, Observation: s.Observation()}
	if errs := xhttp.ValidateStruct(ctx, &s); len(errs) > 0 {
		first := errs[0]
		in.Invalid = &models.ValidationError{Field: first.Field, Code: first.Code, Message: first.Message}
	}
	return in
}

func bodyError(err error) *models.ValidationError {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		field := te.Field
		if i := strings.LastIndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		return &models.ValidationError{
			Field:   field,
			Code:    models.CodeInvalidBody,
			Message: fmt.Sprintf("%s must be a %s, got %s", field, te.Type, te.Value),
		}
	}
	return &models.ValidationError{Code: models.CodeInvalidBody, Message: "entry must be a JSON object"}
}

func (h *RiskEchoHandler) Retrain(c echo.Context) error {
	if h.jobs == nil {
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("ERR_RETRAIN_DISABLED", "retrain queue is not configured"))
	}
	req := &models.RetrainRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.AppErrorResponse(c, verr)
	}

	requestID := c.Response().Header().Get(echo.HeaderXRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	id, err := h.jobs.Enqueue(c.Request().Context(), usecase.RetrainJobType, usecase.RetrainPayload{
		Source:      req.Source,
		RequestedAt: time.Now().UTC(),
		RequestID:   requestID,
	})
	if err != nil {
		h.logger.Error("enqueue retrain", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.ServiceUnavailableError("ERR_QUEUE", "could not enqueue retrain job"))
	}
	h.logger.Info("retrain queued", xlogger.String("job_id", id), xlogger.String("source", req.Source))
	return xhttp.AcceptedResponse(c, models.RetrainResponse{JobID: id, Status: "queued"})
}

func (h *RiskEchoHandler) mapError(err error) error {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		return xhttp.NewAppError(ve.Code, ve.Field, ve.Message, http.StatusBadRequest)
	case errors.Is(err, models.ErrModelUnavailable):
		return xhttp.ServiceUnavailableError(models.CodeModelUnavailable, "model is still loading")
	case errors.Is(err, models.ErrRequestTimeout):
		return xhttp.ServiceUnavailableError(models.CodeTimeout, "request deadline exceeded")
	default:
		h.logger.Error("predict usecase error", xlogger.Error(err))
		return xhttp.InternalError("prediction failed").WithError(err)
	}
}
