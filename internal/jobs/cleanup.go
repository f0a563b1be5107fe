package jobs

import (
	"log/slog"
	"time"

	"tagscope/internal/config"
	"tagscope/internal/database"
	"tagscope/internal/inspections"
)

// CleanupJob prunes old inspection run history
type CleanupJob struct {
	dbManager *database.DBManager
	logger    *slog.Logger
	cfg       *config.Config
}

func NewCleanupJob(dbManager *database.DBManager, logger *slog.Logger, cfg *config.Config) *CleanupJob {
	return &CleanupJob{
		dbManager: dbManager,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run removes run rows older than the retention period. Inventory rows are
// kept; they always mirror the latest inspection.
func (j *CleanupJob) Run() error {
	retentionDays := j.cfg.RunHistoryRetentionDays
	db := j.dbManager.GetConnection()
	cutoffDate := time.Now().UTC().AddDate(0, 0, -retentionDays)

	j.logger.Info("Starting cleanup of old inspection runs",
		slog.Int("retention_days", retentionDays),
		slog.Time("cutoff_date", cutoffDate))

	deleted, err := inspections.PruneRunsBefore(j.logger, db, cutoffDate)
	if err != nil {
		j.logger.Error("Failed to prune old inspection runs", slog.Any("error", err))
		return err
	}

	if deleted == 0 {
		j.logger.Debug("No old inspection runs to clean up")
		return nil
	}

	j.logger.Info("Cleaned up old inspection runs",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", retentionDays))

	return nil
}
