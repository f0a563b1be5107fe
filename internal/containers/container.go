package containers

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ContainerNotFoundError represents an error when a container is not found
type ContainerNotFoundError struct {
	PublicID string
}

func (e *ContainerNotFoundError) Error() string {
	return fmt.Sprintf("container not found: %s", e.PublicID)
}

// NewContainerNotFoundError creates a new ContainerNotFoundError
func NewContainerNotFoundError(publicID string) *ContainerNotFoundError {
	return &ContainerNotFoundError{PublicID: publicID}
}

// Container represents a registered GTM container to audit
type Container struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	PublicID        string     `gorm:"unique;not null" json:"public_id"` // e.g. "GTM-ABC1234"
	Label           string     `json:"label"`                            // Free-form note, e.g. the site it belongs to
	LastInspectedAt *time.Time `json:"last_inspected_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// NormalizePublicID uppercases and trims a container ID so lookups are
// insensitive to how the user typed it.
func NormalizePublicID(publicID string) string {
	return strings.ToUpper(strings.TrimSpace(publicID))
}

// GetContainerOrNotFound retrieves a container by its public ID.
// It accepts a transaction so it can participate in a larger write.
func GetContainerOrNotFound(tx *gorm.DB, publicID string) (*Container, error) {
	var container Container
	if err := tx.Where("public_id = ?", NormalizePublicID(publicID)).First(&container).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewContainerNotFoundError(publicID)
		}
		return nil, fmt.Errorf("unexpected error querying container: %w", err)
	}
	return &container, nil
}

// GetAllContainers retrieves all registered containers
func GetAllContainers(db *gorm.DB) ([]Container, error) {
	var containers []Container
	if err := db.Order("public_id").Find(&containers).Error; err != nil {
		return nil, fmt.Errorf("failed to get containers: %w", err)
	}
	return containers, nil
}

// GetContainerByID retrieves a container by its numeric ID
func GetContainerByID(db *gorm.DB, id uint) (Container, error) {
	var container Container
	if err := db.First(&container, id).Error; err != nil {
		return Container{}, err
	}
	return container, nil
}

// CreateContainer registers a new container
func CreateContainer(db *gorm.DB, container *Container) error {
	container.PublicID = NormalizePublicID(container.PublicID)
	container.CreatedAt = time.Now().UTC()
	return db.Create(container).Error
}

// UpdateContainer updates an existing container
func UpdateContainer(db *gorm.DB, container *Container) error {
	return db.Save(container).Error
}

// DeleteContainer deletes a container by its numeric ID
func DeleteContainer(db *gorm.DB, id uint) error {
	result := db.Delete(&Container{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// TouchLastInspected records a successful inspection time on the container row.
// Runs inside the caller's transaction.
func TouchLastInspected(tx *gorm.DB, id uint, at time.Time) error {
	return tx.Model(&Container{}).Where("id = ?", id).Update("last_inspected_at", at.UTC()).Error
}

// GetStaleContainers returns containers never inspected or last inspected
// before the cutoff, ordered oldest-first so they are re-audited in fairness
// order.
func GetStaleContainers(db *gorm.DB, cutoff time.Time) ([]Container, error) {
	var containers []Container
	err := db.
		Where("last_inspected_at IS NULL OR last_inspected_at < ?", cutoff.UTC()).
		Order("last_inspected_at IS NOT NULL, last_inspected_at").
		Find(&containers).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get stale containers: %w", err)
	}
	return containers, nil
}

// ContainerWithCounts represents a container with inventory size statistics
type ContainerWithCounts struct {
	ID              uint       `json:"id"`
	PublicID        string     `json:"public_id"`
	Label           string     `json:"label"`
	LastInspectedAt *time.Time `json:"last_inspected_at"`
	CreatedAt       time.Time  `json:"created_at"`
	TagCount        int64      `json:"tag_count"`
	TriggerCount    int64      `json:"trigger_count"`
	VariableCount   int64      `json:"variable_count"`
	VendorCount     int64      `json:"vendor_count"`
}

// GetContainersWithCounts retrieves all containers enriched with the row
// counts of their latest inventory.
func GetContainersWithCounts(db *gorm.DB) ([]ContainerWithCounts, error) {
	allContainers, err := GetAllContainers(db)
	if err != nil {
		return nil, err
	}

	result := make([]ContainerWithCounts, len(allContainers))
	for i, container := range allContainers {
		row := ContainerWithCounts{
			ID:              container.ID,
			PublicID:        container.PublicID,
			Label:           container.Label,
			LastInspectedAt: container.LastInspectedAt,
			CreatedAt:       container.CreatedAt,
		}

		// On count errors, default to 0 but continue
		db.Table("tag_rows").Where("container_id = ?", container.PublicID).Count(&row.TagCount)
		db.Table("trigger_rows").Where("container_id = ?", container.PublicID).Count(&row.TriggerCount)
		db.Table("variable_rows").Where("container_id = ?", container.PublicID).Count(&row.VariableCount)
		db.Table("vendor_rows").Where("container_id = ?", container.PublicID).Count(&row.VendorCount)

		result[i] = row
	}

	return result, nil
}
