package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"StockRisk/internal/di"
	"StockRisk/internal/domain/models"
	"StockRisk/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	source := flag.String("source", "", "dataset source: synthetic, csv or clickhouse (default from config)")
	schedule := flag.String("schedule", "", "cron spec with seconds; train repeatedly instead of once")
	worker := flag.Bool("worker", false, "serve retrain requests from the job queue")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *schedule == "" {
		*schedule = cfg.Training.Schedule
	}

	rt, err := di.InitializeTrainer(cfg)
	if err != nil {
		log.Fatalf("trainer initialization failed: %v", err)
	}

	switch {
	case *worker:
		err = rt.RunWorker()
	case *schedule != "":
		err = rt.RunScheduled(*schedule)
	default:
		err = runOnce(rt, *source)
	}
	if err != nil {
		var fatal *models.FatalTrainingError
		if errors.As(err, &fatal) {
			log.Printf("training failed at %s: %v", fatal.Stage, fatal.Err)
		} else {
			log.Printf("trainer error: %v", err)
		}
		os.Exit(1)
	}
}

type runner interface {
	RunOnce(ctx context.Context, source string) (*models.TrainingReport, error)
	Close() error
}

func runOnce(rt runner, source string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := rt.RunOnce(ctx, source)
	if cerr := rt.Close(); cerr != nil {
		log.Printf("close: %v", cerr)
	}
	if err != nil {
		return err
	}

	m := report.Metrics
	fmt.Printf("version=%s source=%s samples=%d train=%d test=%d mse=%.6f rmse=%.6f r2=%.6f published=%t took=%s\n",
		report.Version, report.Source, report.Samples, m.TrainSize, m.TestSize,
		m.MSE, m.RMSE, m.R2, report.Published, report.Duration)
	return nil
}
