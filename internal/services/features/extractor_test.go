package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"StockRisk/internal/domain/models"
)

func TestDeriveWorkedExample(t *testing.T) {
	e := NewEngineer(2_000_000)
	v := e.Derive(models.RawStockObservation{
		DayChangePercent: models.Float(2.5),
		Volume:           1_000_000,
		MarketCap:        5e9,
		CurrentPrice:     150.50,
		PreviousClose:    models.Float(147.25),
	})

	assert.Equal(t, 2.5, v[models.FeatDayChangePercent])
	assert.Equal(t, 1e6, v[models.FeatVolume])
	assert.Equal(t, 5e9, v[models.FeatMarketCap])
	assert.Equal(t, 150.50, v[models.FeatCurrentPrice])
	assert.Equal(t, 2.5, v[models.FeatPriceVolatility])
	assert.InDelta(t, 0.5, v[models.FeatVolumeRatio], 1e-12)
	assert.InDelta(t, (150.50-147.25)/147.25, v[models.FeatPriceChangeRatio], 1e-12)
}

func TestDeriveDefaults(t *testing.T) {
	tests := []struct {
		name string
		obs  models.RawStockObservation
		want models.FeatureVector
	}{
		{
			name: "no previous close",
			obs:  models.RawStockObservation{DayChangePercent: models.Float(-4), Volume: 10, CurrentPrice: 5},
			want: models.FeatureVector{-4, 10, 0, 5, 4, 0, 0},
		},
		{
			name: "day change derived from previous close",
			obs:  models.RawStockObservation{CurrentPrice: 110, PreviousClose: models.Float(100)},
			want: models.FeatureVector{10, 0, 0, 110, 10, 0, 0.1},
		},
		{
			name: "zero previous close",
			obs:  models.RawStockObservation{DayChangePercent: models.Float(1), CurrentPrice: 3, PreviousClose: models.Float(0)},
			want: models.FeatureVector{1, 0, 0, 3, 1, 0, 0},
		},
		{
			name: "non-finite inputs",
			obs: models.RawStockObservation{
				DayChangePercent: models.Float(math.NaN()),
				Volume:           math.Inf(1),
				MarketCap:        math.Inf(-1),
				CurrentPrice:     2,
			},
			want: models.FeatureVector{0, 0, 0, 2, 0, 0, 0},
		},
		{
			name: "empty",
			want: models.FeatureVector{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewEngineer(0).Derive(tt.obs)
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-9, models.FeatureNames[i])
				assert.False(t, math.IsNaN(got[i]) || math.IsInf(got[i], 0))
			}
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	e := NewEngineer(123.4)
	obs := models.RawStockObservation{DayChangePercent: models.Float(-1.25), Volume: 42, MarketCap: 7, CurrentPrice: 9.5}
	assert.Equal(t, e.Derive(obs), e.Derive(obs))
}

func TestReferenceVolume(t *testing.T) {
	obs := []models.RawStockObservation{{Volume: 10}, {Volume: 30}, {Volume: 0}, {Volume: math.NaN()}}
	assert.Equal(t, 20.0, ReferenceVolume(obs))
	assert.Equal(t, 0.0, ReferenceVolume(nil))
}
