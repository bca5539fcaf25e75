package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
)

// SQLiteRecorder keeps the audit trail in a local SQLite file.
type SQLiteRecorder struct {
	db *sql.DB
}

var _ repository.PredictionRecorder = (*SQLiteRecorder)(nil)

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(path string) (*SQLiteRecorder, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS predictions (
			id            TEXT PRIMARY KEY,
			created_at    INTEGER NOT NULL,
			symbol        TEXT,
			source        TEXT NOT NULL,
			model_version TEXT,
			features      TEXT,
			risk_score    REAL,
			risk_level    TEXT,
			error_code    TEXT,
			error_message TEXT,
			latency_us    INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_created ON predictions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_predictions_symbol ON predictions(symbol)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLiteRecorder) Record(ctx context.Context, rec *models.PredictionRecord) error {
	var features []byte
	if len(rec.Features) > 0 {
		features, _ = json.Marshal(rec.Features)
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO predictions (id, created_at, symbol, source, model_version, features,
			risk_score, risk_level, error_code, error_message, latency_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.CreatedAt.UnixMilli(), rec.Symbol, rec.Source, rec.ModelVersion, string(features),
		rec.RiskScore, rec.RiskLevel, rec.ErrorCode, rec.ErrorMessage, rec.LatencyUS,
	)
	if err != nil {
		return fmt.Errorf("insert prediction: %w", err)
	}
	return nil
}

// Recent returns the newest records, newest first.
func (r *SQLiteRecorder) Recent(ctx context.Context, limit int) ([]*models.PredictionRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at, symbol, source, model_version, features,
			risk_score, risk_level, error_code, error_message, latency_us
		FROM predictions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query predictions: %w", err)
	}
	defer rows.Close()

	var out []*models.PredictionRecord
	for rows.Next() {
		var (
			rec      models.PredictionRecord
			id       string
			created  int64
			features string
		)
		if err := rows.Scan(&id, &created, &rec.Symbol, &rec.Source, &rec.ModelVersion, &features,
			&rec.RiskScore, &rec.RiskLevel, &rec.ErrorCode, &rec.ErrorMessage, &rec.LatencyUS); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if err := rec.ID.UnmarshalText([]byte(id)); err != nil {
			return nil, fmt.Errorf("parse id: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created).UTC()
		if features != "" {
			_ = json.Unmarshal([]byte(features), &rec.Features)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
