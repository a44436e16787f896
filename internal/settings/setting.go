package settings

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"log/slog"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// KeyExcludedIPs holds the comma-separated list of client IPs whose events
// are accepted but never stored.
const KeyExcludedIPs = "excluded_ips"

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

var excludedIPsCache *cache.Cache[string, []string]

// SetupDefaultSettings seeds missing settings and primes the excluded-IP cache.
func SetupDefaultSettings(dbConn *gorm.DB) error {
	defaults := []Setting{
		{Key: KeyExcludedIPs, Value: ""},
	}
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		for _, setting := range defaults {
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

	loadCache(dbConn, slog.Default())

	return err
}

// IsIPExcluded reports whether events from ip should be dropped.
func IsIPExcluded(ip string) (bool, error) {
	if excludedIPsCache == nil || ip == "" {
		return false, nil
	}

	excludedIPs, err := excludedIPsCache.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}

	for _, excludedIP := range excludedIPs {
		if excludedIP == ip {
			return true, nil
		}
	}
	return false, nil
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

// UpdateSetting writes a setting, creating it when missing, and refreshes
// the cache.
func UpdateSetting(dbConn *gorm.DB, key string, value string) error {
	now := time.Now().UTC()
	err := sqlite.PerformWrite(slog.Default(), dbConn, func(tx *gorm.DB) error {
		return tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
	})
	if err != nil {
		return fmt.Errorf("failed to update setting %s: %w", key, err)
	}

	if excludedIPsCache != nil {
		excludedIPsCache.Clear()
	}
	loadCache(dbConn, slog.Default())

	return nil
}

// ErrInvalidIP is returned by SetExcludedIPs for entries that are not IPs.
var ErrInvalidIP = errors.New("invalid IP address")

// SetExcludedIPs validates and stores the exclusion list. Duplicates and
// blanks are dropped.
func SetExcludedIPs(dbConn *gorm.DB, ips []string) ([]string, error) {
	seen := make(map[string]bool, len(ips))
	cleaned := make([]string, 0, len(ips))
	for _, raw := range ips {
		for _, part := range strings.Split(raw, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" || seen[ip] {
				continue
			}
			if net.ParseIP(ip) == nil {
				return nil, fmt.Errorf("%w: %q", ErrInvalidIP, ip)
			}
			seen[ip] = true
			cleaned = append(cleaned, ip)
		}
	}

	if err := UpdateSetting(dbConn, KeyExcludedIPs, strings.Join(cleaned, ",")); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// GetExcludedIPs returns the stored exclusion list.
func GetExcludedIPs(dbConn *gorm.DB) ([]string, error) {
	value, err := GetSetting(dbConn, KeyExcludedIPs)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	return splitIPs(value), nil
}

func splitIPs(value string) []string {
	ips := []string{}
	for _, part := range strings.Split(value, ",") {
		if ip := strings.TrimSpace(part); ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func loadCache(dbConn *gorm.DB, logger *slog.Logger) {
	fetchFunc := func(key string) ([]string, error) {
		var value string
		err := dbConn.WithContext(context.Background()).Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&value).Error
		if err != nil {
			return nil, err
		}
		return splitIPs(value), nil
	}
	excludedIPsCache = cache.NewCache[string, []string](logger, 5*time.Minute, fetchFunc)
}
