// Package inspections runs container audits and persists the resulting
// inventories as tabular rows, one table per record kind.
package inspections

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"gorm.io/gorm"

	"tagscope/internal/gtm"
	"tagscope/internal/models"
	"tagscope/internal/pkg/signatures"
)

// Run statuses
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Run records one inspection attempt for a container. Transport failures
// persist as failed runs; a fetched container that yields no parseable data
// model is still a successful run with zero counts and Located=false.
type Run struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ContainerID   string    `gorm:"index;not null" json:"container_id"`
	Status        string    `gorm:"not null" json:"status"`
	Error         string    `json:"error,omitempty"`
	Located       bool      `json:"located"`
	TagCount      int       `json:"tag_count"`
	TriggerCount  int       `json:"trigger_count"`
	VariableCount int       `json:"variable_count"`
	VendorCount   int       `json:"vendor_count"`
	DurationMs    int64     `json:"duration_ms"`
	CreatedAt     time.Time `gorm:"not null" json:"created_at"`
}

// TagRow is one decoded tag in the latest inventory of a container.
type TagRow struct {
	ID           uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	ContainerID  string      `gorm:"index;not null" json:"container_id"`
	TagID        string      `gorm:"not null" json:"id"`
	Name         string      `json:"name"`
	Type         string      `json:"type"`
	Vendor       string      `json:"vendor"`
	Priority     int         `json:"priority"`
	Triggers     string      `json:"triggers"` // comma-separated trigger ids
	Consent      string      `json:"consent"`  // comma-separated consent tokens
	FiringOption string      `json:"firing_option"`
	SetupTags    string      `json:"setup_tags"` // comma-separated tag ids
	Raw          models.JSON `json:"raw"`
}

// TriggerRow is one synthesized trigger in the latest inventory of a container.
type TriggerRow struct {
	ID                uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	ContainerID       string      `gorm:"index;not null" json:"container_id"`
	TriggerID         string      `gorm:"not null" json:"id"`
	Name              string      `json:"name"`
	Type              string      `json:"type"`
	EventName         string      `json:"event_name"`
	ConditionsSummary string      `json:"conditions_summary"`
	Exceptions        string      `json:"exceptions"`
	Raw               models.JSON `json:"raw"`
}

// VariableRow is one decoded variable in the latest inventory of a container.
type VariableRow struct {
	ID             uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	ContainerID    string      `gorm:"index;not null" json:"container_id"`
	VariableID     string      `gorm:"not null" json:"id"`
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	DefaultValue   string      `json:"default_value"`
	DataLayerPath  string      `json:"data_layer_path"`
	DetailsSummary string      `json:"details_summary"`
	Raw            models.JSON `json:"raw"`
}

// VendorRow is one vendor signature hit found in the container source.
type VendorRow struct {
	ID          uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	ContainerID string `gorm:"index;not null" json:"container_id"`
	Vendor      string `gorm:"not null" json:"vendor"`
	Type        string `json:"type"` // id type, e.g. "Measurement ID"
	IDValue     string `gorm:"column:id_value" json:"id"`
	Extra       string `json:"extra"`
}

// ReplaceInventory atomically replaces a container's inventory rows with the
// given decode output. A re-inspection never leaves a mix of old and new rows.
func ReplaceInventory(logger *slog.Logger, dbConn *gorm.DB, containerID string, inv *gtm.Inventory, hits []signatures.Hit) error {
	return models.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		for _, model := range []any{&TagRow{}, &TriggerRow{}, &VariableRow{}, &VendorRow{}} {
			if err := tx.Where("container_id = ?", containerID).Delete(model).Error; err != nil {
				return fmt.Errorf("failed to clear previous inventory: %w", err)
			}
		}

		for _, tag := range inv.Tags {
			row := TagRow{
				ContainerID:  containerID,
				TagID:        tag.ID,
				Name:         tag.Name,
				Type:         tag.Type,
				Vendor:       tag.Vendor,
				Priority:     tag.Priority,
				Triggers:     strings.Join(tag.FiringTriggerIDs, ","),
				Consent:      strings.Join(tag.ConsentRequirements, ","),
				FiringOption: tag.FiringOption,
				SetupTags:    strings.Join(tag.SetupTagIDs, ","),
				Raw:          marshalRaw(tag.RawSource),
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to persist tag row: %w", err)
			}
		}

		for _, trigger := range inv.Triggers {
			row := TriggerRow{
				ContainerID:       containerID,
				TriggerID:         trigger.ID,
				Name:              trigger.Name,
				Type:              trigger.Type,
				EventName:         trigger.EventName,
				ConditionsSummary: trigger.ConditionsSummary,
				Exceptions:        trigger.ExceptionsSummary,
				Raw:               marshalRaw(trigger.RawSource),
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to persist trigger row: %w", err)
			}
		}

		for _, variable := range inv.Variables {
			row := VariableRow{
				ContainerID:    containerID,
				VariableID:     variable.ID,
				Name:           variable.Name,
				Type:           variable.Type,
				DefaultValue:   variable.DefaultValue,
				DataLayerPath:  variable.DataLayerPath,
				DetailsSummary: variable.DetailsSummary,
				Raw:            marshalRaw(variable.RawSource),
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to persist variable row: %w", err)
			}
		}

		for _, hit := range hits {
			row := VendorRow{
				ContainerID: containerID,
				Vendor:      hit.Vendor,
				Type:        hit.IDType,
				IDValue:     hit.IDValue,
				Extra:       hit.Extra,
			}
			if err := tx.Create(&row).Error; err != nil {
				return fmt.Errorf("failed to persist vendor row: %w", err)
			}
		}

		return nil
	})
}

// marshalRaw serializes a raw record for the raw column. Unmarshalable
// values degrade to null rather than failing the write.
func marshalRaw(raw map[string]any) models.JSON {
	if raw == nil {
		return models.JSON("null")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return models.JSON("null")
	}
	return models.JSON(data)
}

// GetTagRows returns the tag inventory of a container.
func GetTagRows(db *gorm.DB, containerID string) ([]TagRow, error) {
	rows := []TagRow{}
	if err := db.Where("container_id = ?", containerID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get tag rows: %w", err)
	}
	return rows, nil
}

// GetTriggerRows returns the trigger inventory of a container.
func GetTriggerRows(db *gorm.DB, containerID string) ([]TriggerRow, error) {
	rows := []TriggerRow{}
	if err := db.Where("container_id = ?", containerID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get trigger rows: %w", err)
	}
	return rows, nil
}

// GetVariableRows returns the variable inventory of a container.
func GetVariableRows(db *gorm.DB, containerID string) ([]VariableRow, error) {
	rows := []VariableRow{}
	if err := db.Where("container_id = ?", containerID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get variable rows: %w", err)
	}
	return rows, nil
}

// GetVendorRows returns the vendor signature hits of a container.
func GetVendorRows(db *gorm.DB, containerID string) ([]VendorRow, error) {
	rows := []VendorRow{}
	if err := db.Where("container_id = ?", containerID).Order("vendor, id_value").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get vendor rows: %w", err)
	}
	return rows, nil
}

// GetLatestRun returns the most recent run for a container, or nil if the
// container has never been inspected.
func GetLatestRun(db *gorm.DB, containerID string) (*Run, error) {
	var run Run
	err := db.Where("container_id = ?", containerID).Order("id DESC").First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return &run, nil
}

// GetRuns returns run history for a container, newest first.
func GetRuns(db *gorm.DB, containerID string, limit int) ([]Run, error) {
	var runs []Run
	q := db.Where("container_id = ?", containerID).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to get runs: %w", err)
	}
	return runs, nil
}

// PruneRunsBefore deletes run history older than the cutoff. Inventory rows
// are untouched; they always reflect the latest inspection.
func PruneRunsBefore(logger *slog.Logger, dbConn *gorm.DB, cutoff time.Time) (int64, error) {
	var deleted int64
	err := models.PerformWrite(logger, dbConn, func(tx *gorm.DB) error {
		result := tx.Where("created_at < ?", cutoff.UTC()).Delete(&Run{})
		if result.Error != nil {
			return result.Error
		}
		deleted = result.RowsAffected
		return nil
	})
	return deleted, err
}
