package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockRisk/internal/usecase"
	"StockRisk/pkg/config"
	"StockRisk/pkg/logger"
)

func TestTrainerRuntimeRunOnceUsesFactory(t *testing.T) {
	var asked []string
	factory := usecase.TrainerFactory(func(source string) (*usecase.Trainer, error) {
		asked = append(asked, source)
		return nil, errors.New("no such source")
	})
	rt := NewTrainerRuntime(&config.Config{}, logger.NewNop(), factory, nil, nil)

	_, err := rt.RunOnce(context.Background(), "csv")
	assert.EqualError(t, err, "no such source")
	assert.Equal(t, []string{"csv"}, asked)
}

func TestTrainerRuntimeWorkerNeedsQueue(t *testing.T) {
	rt := NewTrainerRuntime(&config.Config{}, logger.NewNop(), nil, nil, nil)
	assert.ErrorContains(t, rt.RunWorker(), "queue.enabled")
}

func TestTrainerRuntimeClosesInReverse(t *testing.T) {
	rt := NewTrainerRuntime(&config.Config{}, logger.NewNop(), nil, nil, nil)
	var order []string
	rt.AddCloser("producer", func() error { order = append(order, "producer"); return nil })
	rt.AddCloser("cache", func() error { order = append(order, "cache"); return errors.New("boom") })

	err := rt.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close cache: boom")
	assert.Equal(t, []string{"cache", "producer"}, order)

	// closers run once
	require.NoError(t, rt.Close())
}
