package http

import (
	"strconv"

	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"tagscope/internal/containers"
	"tagscope/internal/fetch"
	"tagscope/internal/inspections"
)

// ContainersIndexAction lists all registered containers with inventory counts
func ContainersIndexAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	withCounts, err := containers.GetContainersWithCounts(db)
	if err != nil {
		ctx.Logger.Error("Failed to list containers", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list containers",
		})
	}

	return ctx.JSON(fiber.Map{"containers": withCounts})
}

// ContainerCreateAction registers a new container for auditing
func ContainerCreateAction(ctx *cartridge.Context) error {
	var body struct {
		PublicID string `json:"public_id"`
		Label    string `json:"label"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	publicID := containers.NormalizePublicID(body.PublicID)
	if !fetch.ValidContainerID(publicID) {
		return ctx.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "Invalid container ID, expected the GTM-XXXXXXX form",
		})
	}

	container := containers.Container{PublicID: publicID, Label: body.Label}
	if err := containers.CreateContainer(ctx.DB(), &container); err != nil {
		ctx.Logger.Error("Failed to create container",
			slog.String("public_id", publicID),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Container already registered or could not be created",
		})
	}

	ctx.Logger.Info("Container registered", slog.String("public_id", publicID))
	return ctx.Status(fiber.StatusCreated).JSON(container)
}

// ContainerShowAction returns one container with its latest run
func ContainerShowAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	container, err := containers.GetContainerOrNotFound(db, ctx.Params("publicID"))
	if err != nil {
		return containerNotFound(ctx, err)
	}

	run, err := inspections.GetLatestRun(db, container.PublicID)
	if err != nil {
		ctx.Logger.Error("Failed to load latest run", slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load latest run",
		})
	}

	return ctx.JSON(fiber.Map{
		"container":  container,
		"latest_run": run,
	})
}

// ContainerDeleteAction removes a container and its inventory
func ContainerDeleteAction(ctx *cartridge.Context) error {
	db := ctx.DB()

	container, err := containers.GetContainerOrNotFound(db, ctx.Params("publicID"))
	if err != nil {
		return containerNotFound(ctx, err)
	}

	if err := containers.DeleteContainer(db, container.ID); err != nil {
		ctx.Logger.Error("Failed to delete container",
			slog.String("public_id", container.PublicID),
			slog.Any("error", err))
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete container",
		})
	}

	ctx.Logger.Info("Container deleted", slog.String("public_id", container.PublicID))
	return ctx.SendStatus(fiber.StatusNoContent)
}

// containerNotFound maps lookup errors to a response
func containerNotFound(ctx *cartridge.Context, err error) error {
	if _, ok := err.(*containers.ContainerNotFoundError); ok {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Container not found",
		})
	}
	ctx.Logger.Error("Container lookup failed", slog.Any("error", err))
	return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Container lookup failed",
	})
}

// parseLimit reads an optional ?limit= query parameter
func parseLimit(ctx *cartridge.Context, fallback int) int {
	raw := ctx.Query("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return fallback
	}
	return limit
}
