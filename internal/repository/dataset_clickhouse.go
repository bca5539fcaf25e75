package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
	pkgch "StockRisk/pkg/clickhouse"
	applogger "StockRisk/pkg/logger"
)

// CHDatasetSource reads labelled observations from a ClickHouse table with
// the CSV column set. Nullable columns map to absent optional inputs.
type CHDatasetSource struct {
	db    *sql.DB
	table string
	limit int
	l     *applogger.Logger
}

var _ repository.DatasetSource = (*CHDatasetSource)(nil)

func NewCHDatasetSource(ch *pkgch.Client, table string, limit int, lgr *applogger.Logger) *CHDatasetSource {
	if lgr == nil {
		lgr = applogger.NewNop()
	}
	return &CHDatasetSource{db: ch.DB(), table: table, limit: limit, l: lgr}
}

func (s *CHDatasetSource) Name() string { return "clickhouse" }

func (s *CHDatasetSource) Load(ctx context.Context) ([]models.LabeledObservation, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT day_change_percent, volume, market_cap, current_price, previous_close, risk_score
        FROM %s
        ORDER BY observed_at DESC`, s.table)
	args := []any{}
	if s.limit > 0 {
		q += " LIMIT ?"
		args = append(args, s.limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.l.Error("clickhouse dataset query error", applogger.String("table", s.table), applogger.Error(err))
		return nil, fmt.Errorf("query dataset: %w", err)
	}
	defer rows.Close()

	out := make([]models.LabeledObservation, 0, 1024)
	for rows.Next() {
		var (
			row       models.LabeledObservation
			dcp, prev sql.NullFloat64
		)
		if err := rows.Scan(&dcp, &row.Observation.Volume, &row.Observation.MarketCap,
			&row.Observation.CurrentPrice, &prev, &row.RiskScore); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		if dcp.Valid {
			row.Observation.DayChangePercent = models.Float(dcp.Float64)
		}
		if prev.Valid {
			row.Observation.PreviousClose = models.Float(prev.Float64)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dataset: %w", err)
	}

	s.l.Info("clickhouse dataset loaded",
		applogger.String("table", s.table),
		applogger.Int("rows", len(out)),
		applogger.Duration("took", time.Since(start)),
	)
	return out, nil
}
