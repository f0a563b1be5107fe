package settings

import (
	"context"
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// API settings keys
const (
	KeyAdminAPIKeyHash = "admin_api_key_hash"
	KeyInstanceName    = "instance_name"
)

var apiKeyHashCache *cache.Cache[string, string]

// SetupDefaultSettings initializes default settings in the database
func SetupDefaultSettings(dbConn *gorm.DB) error {
	settings := []Setting{
		{Key: KeyAdminAPIKeyHash, Value: ""},
		{Key: KeyInstanceName, Value: "tagscope"},
	}
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range settings {
			// Use raw SQL for upsert
			err := tx.Exec(`
                INSERT INTO settings (key, value, created_at, updated_at)
                VALUES (?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, setting.Key, setting.Value, time.Now().UTC(), time.Now().UTC()).Error
			if err != nil {
				slog.Default().Error("Failed to upsert setting", slog.String("key", setting.Key), slog.Any("error", err))
				return fmt.Errorf("failed to upsert setting %s: %w", setting.Key, err)
			}
		}
		return nil
	})

	// Initialize the cache
	loadCache(dbConn, slog.Default())

	return err
}

// GetSetting retrieves a setting value from the database
func GetSetting(dbConn *gorm.DB, key string) (string, error) {
	var setting Setting
	result := dbConn.Where("key = ?", key).First(&setting)

	if result.Error != nil {
		return "", result.Error
	}

	return setting.Value, nil
}

// UpdateSetting updates a setting in the database using a transaction
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		result := tx.Model(&Setting{}).Where("key = ?", key).Update("value", value)
		if result.Error != nil {
			return fmt.Errorf("failed to update setting: %w", result.Error)
		}

		// If no rows were affected, the setting might not exist - try to create it
		if result.RowsAffected == 0 {
			setting := Setting{
				Key:   key,
				Value: value,
			}
			if err := tx.Create(&setting).Error; err != nil {
				return fmt.Errorf("failed to create setting: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	// Clear and reload the cache after a successful update
	if apiKeyHashCache != nil {
		apiKeyHashCache.Clear()
	}
	loadCache(dbConn, slog.Default())

	return nil
}

// CreateOrUpdateSetting creates a new setting or updates an existing one
func CreateOrUpdateSetting(dbConn *gorm.DB, key string, value string) error {
	// Check if the setting exists
	var count int64
	if err := dbConn.Model(&Setting{}).Where("key = ?", key).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check if setting exists: %w", err)
	}

	// If it exists, update it; otherwise, create it
	if count > 0 {
		return UpdateSetting(dbConn, key, value)
	} else {
		setting := Setting{
			Key:   key,
			Value: value,
		}
		if err := dbConn.Create(&setting).Error; err != nil {
			return fmt.Errorf("failed to create setting: %w", err)
		}
		return nil
	}
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	// The API key hash is read on every authenticated request; cache it
	// so middleware doesn't hit the database each time.
	fetchFunc := func(key string) (string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return "", err
		}
		return value, nil
	}
	apiKeyHashCache = cache.NewCache[string, string](logger, 5*time.Minute, fetchFunc)
}

// SetAdminAPIKey hashes the given key with bcrypt and stores the hash.
// The plaintext key is never persisted.
func SetAdminAPIKey(dbConn *gorm.DB, key string) error {
	key = strings.TrimSpace(key)
	if len(key) < 16 {
		return fmt.Errorf("API key must be at least 16 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	return CreateOrUpdateSetting(dbConn, KeyAdminAPIKeyHash, string(hash))
}

// GenerateAdminAPIKey creates a new random API key, stores its bcrypt hash,
// and returns the plaintext key. The plaintext is only available at
// generation time.
func GenerateAdminAPIKey(dbConn *gorm.DB) (string, error) {
	key := generateRandomToken(32)
	if err := SetAdminAPIKey(dbConn, key); err != nil {
		return "", err
	}
	return key, nil
}

// VerifyAdminAPIKey checks a plaintext key against the stored bcrypt hash.
// Returns false when no key has been configured yet.
func VerifyAdminAPIKey(dbConn *gorm.DB, key string) bool {
	var hash string
	var err error

	if apiKeyHashCache != nil {
		hash, err = apiKeyHashCache.Get(KeyAdminAPIKeyHash)
	} else {
		hash, err = GetSetting(dbConn, KeyAdminAPIKeyHash)
	}
	if err != nil || hash == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// HasAdminAPIKey reports whether an API key has been configured.
func HasAdminAPIKey(dbConn *gorm.DB) bool {
	hash, err := GetSetting(dbConn, KeyAdminAPIKeyHash)
	return err == nil && hash != ""
}

// generateRandomToken creates a cryptographically secure random token
func generateRandomToken(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[randInt(len(charset))]
	}
	return string(b)
}

// randInt returns a cryptographically secure random int in [0, max)
func randInt(max int) int {
	var buf [1]byte
	_, _ = rand.Read(buf[:])
	return int(buf[0]) % max
}

// SettingResponse represents a setting key-value pair for API responses
type SettingResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// GetAllSettingsForDisplay retrieves all settings with sensitive values
// masked for display
func GetAllSettingsForDisplay(db *gorm.DB) ([]SettingResponse, error) {
	var allSettings []Setting
	if err := db.Find(&allSettings).Error; err != nil {
		return nil, fmt.Errorf("failed to fetch settings: %w", err)
	}

	var result []SettingResponse
	for _, setting := range allSettings {
		value := setting.Value
		if setting.Key == KeyAdminAPIKeyHash && value != "" {
			value = strings.Repeat("*", 8)
		}
		result = append(result, SettingResponse{
			Key:   setting.Key,
			Value: value,
		})
	}
	return result, nil
}
