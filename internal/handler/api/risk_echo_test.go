package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "StockRisk/internal/domain/models"
	"StockRisk/internal/repository"
	"StockRisk/internal/services/ml"
	"StockRisk/internal/usecase"
	xlogger "StockRisk/pkg/logger"
)

var (
	modelOnce sync.Once
	model     *ml.Artifacts
)

func trainedModel(t *testing.T) *ml.Artifacts {
	t.Helper()
	modelOnce.Do(func() {
		p := ml.DefaultForestParams()
		p.Trees = 8
		store := repository.NewFSModelStore(t.TempDir(), nil)
		tr := usecase.NewTrainer(usecase.TrainerConfig{Forest: p, TestFraction: 0.2, SplitSeed: 42},
			repository.NewSyntheticSource(300, 42), store, nil, nil, nil)
		report, err := tr.Run(context.Background())
		if err != nil {
			panic(err)
		}
		if model, err = store.Load(context.Background(), report.Version); err != nil {
			panic(err)
		}
	})
	return model
}

type fakeJobs struct {
	msgType string
	payload any
	err     error
}

func (f *fakeJobs) Enqueue(_ context.Context, msgType string, payload any) (string, error) {
	f.msgType, f.payload = msgType, payload
	return "job-1", f.err
}

func newTestServer(t *testing.T, ready bool, jobs *fakeJobs) *echo.Echo {
	t.Helper()
	p := usecase.NewRiskPredictor(usecase.PredictorConfig{BatchWorkers: 4}, nil, nil, nil, nil)
	if ready {
		require.NoError(t, p.Install(trainedModel(t)))
	}
	var h *RiskEchoHandler
	if jobs != nil {
		h = NewRiskEchoHandler(xlogger.NewNop(), p, jobs, 3)
	} else {
		h = NewRiskEchoHandler(xlogger.NewNop(), p, nil, 3)
	}
	e := echo.New()
	h.RegisterRoutes(e)
	return e
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const workedExample = `{"day_change_percent":2.5,"volume":1000000,"market_cap":5000000000,"current_price":150.50,"previous_close":147.25}`

func TestHealthWhileLoading(t *testing.T) {
	e := newTestServer(t, false, nil)

	rec := do(e, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","ready":false}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = do(e, http.MethodPost, "/predict", workedExample)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, models.CodeModelUnavailable, decode[errorBody](t, rec).Error.Code)

	rec = do(e, http.MethodPost, "/predict/batch", `{"stocks":[{"symbol":"AAPL","day_change_percent":1,"current_price":5}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, models.CodeModelUnavailable, decode[errorBody](t, rec).Error.Code)
}

func TestHealthWhenReady(t *testing.T) {
	e := newTestServer(t, true, nil)

	rec := do(e, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"ok","ready":true}`, rec.Body.String())

	rec = do(e, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[models.ReadyResponse](t, rec)
	assert.Equal(t, trainedModel(t).Version, ready.ModelVersion)
}

func TestPredictWorkedExample(t *testing.T) {
	e := newTestServer(t, true, nil)

	rec := do(e, http.MethodPost, "/predict", workedExample)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "risk_score")
	assert.Contains(t, raw, "risk_level")
	assert.Contains(t, raw, "features_used")

	res := decode[models.PredictionResult](t, rec)
	assert.GreaterOrEqual(t, res.RiskScore, 0.0)
	assert.LessOrEqual(t, res.RiskScore, 100.0)
	assert.Equal(t, models.RiskLevelFromScore(res.RiskScore), res.RiskLevel)
}

func TestPredictValidation(t *testing.T) {
	e := newTestServer(t, true, nil)
	tests := []struct {
		name  string
		body  string
		code  string
		field string
	}{
		{"zero price", `{"day_change_percent":1,"current_price":0}`, "ERR_GT", "current_price"},
		{"negative price", `{"day_change_percent":1,"current_price":-3}`, "ERR_GT", "current_price"},
		{"missing price", `{"day_change_percent":1}`, "ERR_REQUIRED", "current_price"},
		{"no day change nor previous close", `{"current_price":10}`, "ERR_REQUIRED_WITHOUT", "day_change_percent"},
		{"negative volume", `{"day_change_percent":1,"current_price":10,"volume":-1}`, "ERR_GTE", "volume"},
		{"fractional volume", `{"day_change_percent":1,"current_price":10,"volume":10.5}`, "ERR_INTEGER", "volume"},
		{"malformed json", `{"current_price":`, "ERR_INVALID_BODY", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/predict", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.field, body.Error.Field)
		})
	}
}

func TestPredictDefaultsMissingOptionalInputs(t *testing.T) {
	e := newTestServer(t, true, nil)

	rec := do(e, http.MethodPost, "/predict", `{"current_price":10,"previous_close":8}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[models.PredictionResult](t, rec)
	assert.Equal(t, 0.0, res.FeaturesUsed["volume"])
	assert.Equal(t, 0.0, res.FeaturesUsed["market_cap"])
	assert.InDelta(t, 25.0, res.FeaturesUsed["day_change_percent"], 1e-9)
	assert.InDelta(t, 0.25, res.FeaturesUsed["price_change_ratio"], 1e-9)
}

func TestPredictBatch(t *testing.T) {
	e := newTestServer(t, true, nil)

	body := `{"stocks":[
		{"symbol":"AAPL","day_change_percent":2.5,"volume":1000000,"market_cap":5000000000,"current_price":150.50,"previous_close":147.25},
		{"symbol":"BAD","day_change_percent":1,"current_price":0},
		{"day_change_percent":1,"current_price":5}
	]}`
	rec := do(e, http.MethodPost, "/predict/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[map[string]json.RawMessage](t, rec)
	require.Len(t, out, 3)

	var ok models.PredictionResult
	require.NoError(t, json.Unmarshal(out["AAPL"], &ok))
	single := decode[models.PredictionResult](t, do(e, http.MethodPost, "/predict", workedExample))
	assert.Equal(t, single, ok)

	var bad errorBody
	require.NoError(t, json.Unmarshal(out["BAD"], &bad))
	assert.Equal(t, "ERR_GT", bad.Error.Code)
	assert.Equal(t, "current_price", bad.Error.Field)

	var unknown errorBody
	require.NoError(t, json.Unmarshal(out["UNKNOWN_2"], &unknown))
	assert.Equal(t, "ERR_REQUIRED", unknown.Error.Code)
}

func TestPredictBatchMistypedEntry(t *testing.T) {
	e := newTestServer(t, true, nil)

	body := `{"stocks":[
		{"symbol":"AAPL","day_change_percent":2.5,"volume":1000000,"market_cap":5000000000,"current_price":150.50,"previous_close":147.25},
		{"symbol":"BAD","current_price":"abc"},
		{"symbol":7,"day_change_percent":1,"current_price":5}
	]}`
	rec := do(e, http.MethodPost, "/predict/batch", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode[map[string]json.RawMessage](t, rec)
	require.Len(t, out, 3)

	var ok models.PredictionResult
	require.NoError(t, json.Unmarshal(out["AAPL"], &ok))
	assert.Equal(t, models.RiskLevelFromScore(ok.RiskScore), ok.RiskLevel)

	var bad errorBody
	require.NoError(t, json.Unmarshal(out["BAD"], &bad))
	assert.Equal(t, models.CodeInvalidBody, bad.Error.Code)
	assert.Equal(t, "current_price", bad.Error.Field)

	var unknown errorBody
	require.NoError(t, json.Unmarshal(out["UNKNOWN_2"], &unknown))
	assert.Equal(t, models.CodeInvalidBody, unknown.Error.Code)
	assert.Equal(t, "symbol", unknown.Error.Field)
}

func TestPredictBatchExpiredRequest(t *testing.T) {
	e := newTestServer(t, true, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/predict/batch",
		strings.NewReader(`{"stocks":[{"symbol":"AAPL","day_change_percent":1,"current_price":5}]}`)).WithContext(ctx)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, models.CodeTimeout, decode[errorBody](t, rec).Error.Code)
}

func TestPredictBatchRequestErrors(t *testing.T) {
	e := newTestServer(t, true, nil)

	for name, body := range map[string]string{
		"empty":     `{"stocks":[]}`,
		"missing":   `{}`,
		"too large": `{"stocks":[{"symbol":"A"},{"symbol":"B"},{"symbol":"C"},{"symbol":"D"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := do(e, http.MethodPost, "/predict/batch", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestRetrain(t *testing.T) {
	rec := do(newTestServer(t, true, nil), http.MethodPost, "/admin/retrain", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	jobs := &fakeJobs{}
	e := newTestServer(t, true, jobs)
	rec = do(e, http.MethodPost, "/admin/retrain", `{"source":"csv"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"job_id":"job-1","status":"queued"}`, rec.Body.String())
	assert.Equal(t, usecase.RetrainJobType, jobs.msgType)
	assert.Equal(t, "csv", jobs.payload.(usecase.RetrainPayload).Source)

	rec = do(e, http.MethodPost, "/admin/retrain", `{"source":"yahoo"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	jobs.err = errors.New("redis down")
	rec = do(e, http.MethodPost, "/admin/retrain", `{}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
