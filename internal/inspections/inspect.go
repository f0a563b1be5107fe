package inspections

import (
	"context"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"tagscope/internal/containers"
	"tagscope/internal/gtm"
	"tagscope/internal/models"
	"tagscope/internal/pkg/signatures"
)

// Fetcher retrieves the compiled container script. Satisfied by
// fetch.Client; tests substitute a stub.
type Fetcher interface {
	FetchContainer(ctx context.Context, containerID string) (string, error)
}

// Summary is the outcome of one inspection.
type Summary struct {
	ContainerID   string `json:"container_id"`
	RunID         uint   `json:"run_id"`
	Located       bool   `json:"located"`
	TagCount      int    `json:"tag_count"`
	TriggerCount  int    `json:"trigger_count"`
	VariableCount int    `json:"variable_count"`
	VendorCount   int    `json:"vendor_count"`
	DurationMs    int64  `json:"duration_ms"`
}

// Inspect fetches a registered container's script, reverse-parses its data
// model, scans for vendor signatures, and replaces the stored inventory.
//
// A transport failure persists a failed run and returns the error. A script
// that downloads but yields no recognizable data model is not an error: the
// run succeeds with zero inventory counts and Located=false, and the vendor
// scan still runs over the raw source.
func Inspect(ctx context.Context, db *gorm.DB, logger *slog.Logger, fetcher Fetcher, publicID string) (*Summary, error) {
	container, err := containers.GetContainerOrNotFound(db, publicID)
	if err != nil {
		return nil, err
	}
	publicID = container.PublicID

	started := time.Now()

	source, err := fetcher.FetchContainer(ctx, publicID)
	if err != nil {
		logger.Error("Container fetch failed",
			slog.String("container_id", publicID),
			slog.Any("error", err))
		recordRun(logger, db, &Run{
			ContainerID: publicID,
			Status:      StatusFailed,
			Error:       err.Error(),
			DurationMs:  time.Since(started).Milliseconds(),
		}, 0)
		return nil, err
	}

	raw := gtm.NewLocator(logger).Locate(source, publicID)
	located := !raw.IsEmpty()

	inv := &gtm.Inventory{}
	if located {
		inv = gtm.NewDecoder(logger).Decode(raw)
	} else {
		logger.Warn("No container data model located in fetched script",
			slog.String("container_id", publicID),
			slog.Int("source_bytes", len(source)))
	}

	hits := filterSelfReference(signatures.Scan(source), publicID)

	if err := ReplaceInventory(logger, db, publicID, inv, hits); err != nil {
		logger.Error("Failed to persist inventory",
			slog.String("container_id", publicID),
			slog.Any("error", err))
		return nil, err
	}

	run := &Run{
		ContainerID:   publicID,
		Status:        StatusSuccess,
		Located:       located,
		TagCount:      len(inv.Tags),
		TriggerCount:  len(inv.Triggers),
		VariableCount: len(inv.Variables),
		VendorCount:   len(hits),
		DurationMs:    time.Since(started).Milliseconds(),
	}
	if err := recordRun(logger, db, run, container.ID); err != nil {
		return nil, err
	}

	logger.Info("Inspection completed",
		slog.String("container_id", publicID),
		slog.Bool("located", located),
		slog.Int("tags", run.TagCount),
		slog.Int("triggers", run.TriggerCount),
		slog.Int("variables", run.VariableCount),
		slog.Int("vendors", run.VendorCount))

	return &Summary{
		ContainerID:   publicID,
		RunID:         run.ID,
		Located:       located,
		TagCount:      run.TagCount,
		TriggerCount:  run.TriggerCount,
		VariableCount: run.VariableCount,
		VendorCount:   run.VendorCount,
		DurationMs:    run.DurationMs,
	}, nil
}

// recordRun persists a run row and, on success, stamps the container's
// last-inspected time in the same transaction.
func recordRun(logger *slog.Logger, db *gorm.DB, run *Run, containerRowID uint) error {
	run.CreatedAt = time.Now().UTC()
	return models.PerformWrite(logger, db, func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if run.Status == StatusSuccess && containerRowID != 0 {
			return containers.TouchLastInspected(tx, containerRowID, run.CreatedAt)
		}
		return nil
	})
}

// filterSelfReference drops the Google Tag Manager hit that merely names the
// audited container; every gtm.js script embeds its own ID.
func filterSelfReference(hits []signatures.Hit, publicID string) []signatures.Hit {
	out := hits[:0]
	for _, hit := range hits {
		if hit.Vendor == "Google Tag Manager" && hit.IDValue == publicID {
			continue
		}
		out = append(out, hit)
	}
	return out
}
