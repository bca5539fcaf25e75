package repository

import (
	"context"
	"fmt"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
	pkgch "StockRisk/pkg/clickhouse"
)

// CHAuditStore writes prediction records to a MergeTree table.
type CHAuditStore struct {
	ch    *pkgch.Client
	table string
}

var _ repository.AuditStore = (*CHAuditStore)(nil)

func NewCHAuditStore(ch *pkgch.Client, table string) *CHAuditStore {
	if table == "" {
		table = "prediction_log"
	}
	return &CHAuditStore{ch: ch, table: table}
}

func (s *CHAuditStore) Init(ctx context.Context) error {
	return s.ch.InitSchema(ctx, []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s (
            id            UUID,
            created_at    DateTime64(3, 'UTC'),
            symbol        LowCardinality(String),
            source        LowCardinality(String),
            model_version LowCardinality(String),
            features      Array(Float64),
            risk_score    Float64,
            risk_level    LowCardinality(String),
            error_code    LowCardinality(String),
            error_message String,
            latency_us    Int64
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMM(created_at)
        ORDER BY (symbol, created_at)`, s.table)})
}

func (s *CHAuditStore) StoreBatch(ctx context.Context, recs []*models.PredictionRecord) error {
	if len(recs) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(recs))
	for _, r := range recs {
		if r == nil {
			continue
		}
		features := r.Features
		if features == nil {
			features = []float64{}
		}
		rows = append(rows, []any{
			r.ID, r.CreatedAt, r.Symbol, r.Source, r.ModelVersion, features,
			r.RiskScore, r.RiskLevel, r.ErrorCode, r.ErrorMessage, r.LatencyUS,
		})
	}
	q := fmt.Sprintf(`INSERT INTO %s (id, created_at, symbol, source, model_version, features,
        risk_score, risk_level, error_code, error_message, latency_us)`, s.table)
	if err := s.ch.InsertBatch(ctx, q, rows); err != nil {
		return fmt.Errorf("store audit batch: %w", err)
	}
	return nil
}

func (s *CHAuditStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHAuditStore) Close() error {
	return nil // client is owned by the caller
}
