package repository

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"StockRisk/internal/domain/models"
	"StockRisk/internal/domain/repository"
)

var csvColumns = []string{"day_change_percent", "volume", "market_cap", "current_price", "previous_close", "risk_score"}

// CSVSource reads labelled observations from a file with a header row.
// day_change_percent and previous_close may be empty.
type CSVSource struct {
	Path string
}

var _ repository.DatasetSource = (*CSVSource)(nil)

func NewCSVSource(path string) *CSVSource { return &CSVSource{Path: path} }

func (s *CSVSource) Name() string { return "csv" }

func (s *CSVSource) Load(ctx context.Context) ([]models.LabeledObservation, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	defer f.Close()
	return ReadCSV(ctx, f)
}

// ReadCSV parses the dataset format. Column order is taken from the header.
func ReadCSV(ctx context.Context, r io.Reader) ([]models.LabeledObservation, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range csvColumns {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("dataset header is missing column %q", c)
		}
	}

	var out []models.LabeledObservation
	for line := 2; ; line++ {
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(name string) string { return strings.TrimSpace(rec[pos[name]]) }
		required := func(name string) (float64, error) {
			v, err := strconv.ParseFloat(field(name), 64)
			if err != nil {
				return 0, fmt.Errorf("line %d: %s: %w", line, name, err)
			}
			return v, nil
		}
		optional := func(name string) (*float64, error) {
			if field(name) == "" {
				return nil, nil
			}
			v, err := required(name)
			return &v, err
		}

		var row models.LabeledObservation
		if row.Observation.DayChangePercent, err = optional("day_change_percent"); err != nil {
			return nil, err
		}
		if row.Observation.Volume, err = required("volume"); err != nil {
			return nil, err
		}
		if row.Observation.MarketCap, err = required("market_cap"); err != nil {
			return nil, err
		}
		if row.Observation.CurrentPrice, err = required("current_price"); err != nil {
			return nil, err
		}
		if row.Observation.PreviousClose, err = optional("previous_close"); err != nil {
			return nil, err
		}
		if row.RiskScore, err = required("risk_score"); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}
