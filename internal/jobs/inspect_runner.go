package jobs

import (
	"context"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"tagscope/internal/config"
	"tagscope/internal/containers"
	"tagscope/internal/inspections"
	"tagscope/internal/pkg/async"
)

// InspectRunnerJob re-audits containers whose inventory has gone stale,
// fanning the fetch-and-decode work across a worker pool.
type InspectRunnerJob struct {
	db      *gorm.DB
	logger  *slog.Logger
	cfg     *config.Config
	fetcher inspections.Fetcher
}

func NewInspectRunnerJob(db *gorm.DB, logger *slog.Logger, cfg *config.Config, fetcher inspections.Fetcher) *InspectRunnerJob {
	return &InspectRunnerJob{
		db:      db,
		logger:  logger,
		cfg:     cfg,
		fetcher: fetcher,
	}
}

// Run inspects every container not audited within the configured interval.
// Individual container failures are logged and counted; they never abort the
// batch.
func (j *InspectRunnerJob) Run() error {
	cutoff := time.Now().UTC().Add(-time.Duration(j.cfg.InspectIntervalHours) * time.Hour)

	stale, err := containers.GetStaleContainers(j.db, cutoff)
	if err != nil {
		j.logger.Error("Failed to list stale containers", slog.Any("error", err))
		return err
	}

	if len(stale) == 0 {
		j.logger.Debug("No stale containers to inspect")
		return nil
	}

	j.logger.Info("Starting scheduled inspections",
		slog.Int("containers", len(stale)),
		slog.Int("workers", j.cfg.InspectWorkers))

	tasks := make([]async.Task, 0, len(stale))
	for _, container := range stale {
		publicID := container.PublicID
		tasks = append(tasks, async.Task{
			Name: publicID,
			Execute: func() (any, error) {
				ctx, cancel := context.WithTimeout(context.Background(),
					time.Duration(j.cfg.FetchTimeoutSeconds)*time.Second)
				defer cancel()
				return inspections.Inspect(ctx, j.db, j.logger, j.fetcher, publicID)
			},
		})
	}

	results := async.NewPool(j.cfg.InspectWorkers).Execute(context.Background(), tasks)

	succeeded, failed := 0, 0
	for name, result := range results {
		if result.Err != nil {
			failed++
			j.logger.Warn("Scheduled inspection failed",
				slog.String("container_id", name),
				slog.Any("error", result.Err))
			continue
		}
		succeeded++
	}

	j.logger.Info("Scheduled inspections completed",
		slog.Int("succeeded", succeeded),
		slog.Int("failed", failed))

	return nil
}
