package http

import (
	"context"
	"time"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tagscope/internal/config"
	"tagscope/internal/containers"
	"tagscope/internal/fetch"
	"tagscope/internal/inspections"
)

// InspectionCreateAction runs an inspection for a container synchronously
// and returns the summary.
func InspectionCreateAction(ctx *cartridge.Context) error {
	cfg := config.GetConfig()
	db := ctx.DB()

	var opts []fetch.Option
	if cfg.FetchUserAgent != "" {
		opts = append(opts, fetch.WithUserAgent(cfg.FetchUserAgent))
	}
	fetcher := fetch.NewClient(time.Duration(cfg.FetchTimeoutSeconds)*time.Second, opts...)

	fetchCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.FetchTimeoutSeconds)*time.Second)
	defer cancel()

	summary, err := inspections.Inspect(fetchCtx, db, ctx.Logger, fetcher, ctx.Params("publicID"))
	if err != nil {
		if _, ok := err.(*containers.ContainerNotFoundError); ok {
			return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Container not found",
			})
		}
		ctx.Logger.Error("Inspection failed",
			slog.String("public_id", ctx.Params("publicID")),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Inspection failed: " + err.Error(),
		})
	}

	return ctx.Status(fiber.StatusCreated).JSON(summary)
}

// InspectionRunsAction returns run history for a container, newest first
func InspectionRunsAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	container, err := containers.GetContainerOrNotFound(db, ctx.Params("publicID"))
	if err != nil {
		return containerNotFound(ctx, err)
	}

	runs, err := inspections.GetRuns(db, container.PublicID, parseLimit(ctx, 50))
	if err != nil {
		ctx.Logger.Error("Failed to load runs", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load runs",
		})
	}

	return ctx.JSON(fiber.Map{"runs": runs})
}

// InventoryTagsAction returns the decoded tag inventory of a container
func InventoryTagsAction(ctx *cartridge.Context) error {
	return inventoryAction(ctx, "tags", func(db *cartridge.Context, publicID string) (any, error) {
		return inspections.GetTagRows(db.DB(), publicID)
	})
}

// InventoryTriggersAction returns the synthesized trigger inventory of a container
func InventoryTriggersAction(ctx *cartridge.Context) error {
	return inventoryAction(ctx, "triggers", func(db *cartridge.Context, publicID string) (any, error) {
		return inspections.GetTriggerRows(db.DB(), publicID)
	})
}

// InventoryVariablesAction returns the decoded variable inventory of a container
func InventoryVariablesAction(ctx *cartridge.Context) error {
	return inventoryAction(ctx, "variables", func(db *cartridge.Context, publicID string) (any, error) {
		return inspections.GetVariableRows(db.DB(), publicID)
	})
}

// InventoryVendorsAction returns the vendor signature hits of a container
func InventoryVendorsAction(ctx *cartridge.Context) error {
	return inventoryAction(ctx, "vendors", func(db *cartridge.Context, publicID string) (any, error) {
		return inspections.GetVendorRows(db.DB(), publicID)
	})
}

func inventoryAction(ctx *cartridge.Context, key string, load func(*cartridge.Context, string) (any, error)) error {
	container, err := containers.GetContainerOrNotFound(ctx.DB(), ctx.Params("publicID"))
	if err != nil {
		return containerNotFound(ctx, err)
	}

	rows, err := load(ctx, container.PublicID)
	if err != nil {
		ctx.Logger.Error("Failed to load inventory",
			slog.String("kind", key),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load inventory",
		})
	}

	return ctx.JSON(fiber.Map{key: rows})
}
