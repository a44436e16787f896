package geoip

import (
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
	"github.com/pariz/gountries"

	"vkanalytics/internal/config"
)

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger

	countries     *gountries.Query
	countriesOnce sync.Once
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

// InitGeoDB opens the GeoLite2 City database. GeoIP is optional: a missing
// path or file yields nil.
func InitGeoDB() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		if logger != nil {
			logger.Debug("GeoIP database path not configured - location display disabled")
		}
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); os.IsNotExist(err) {
		if logger != nil {
			logger.Info("GeoLite2 database not found - location display disabled",
				slog.String("path", cfg.GeoDBPath),
				slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		}
		return nil
	} else if err != nil {
		if logger != nil {
			logger.Warn("Error checking GeoLite2 database file",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		if logger != nil {
			logger.Error("Failed to open GeoLite2 database",
				slog.String("path", cfg.GeoDBPath),
				slog.Any("error", err))
		}
		return nil
	}

	if logger != nil {
		logger.Info("GeoLite2 database initialized successfully",
			slog.String("path", cfg.GeoDBPath),
			slog.String("db_type", db.Metadata().DatabaseType))
	}
	return db
}

// GetGeoDB returns the GeoLite2 database reader, initializing it if necessary.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = InitGeoDB()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// CityReader is the subset of *geoip2.Reader used for lookups.
type CityReader interface {
	City(ip net.IP) (*geoip2.City, error)
}

// Location resolves ip with the shared database. It returns "" when the
// database is unavailable.
func Location(ip string) string {
	db := GetGeoDB()
	if db == nil {
		return ""
	}
	return LocationDisplay(db, ip)
}

// LocationDisplay formats the city and country of ip as "City, Country",
// or whichever part is known. Private, loopback and unparseable addresses
// yield "".
func LocationDisplay(reader CityReader, ip string) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || reader == nil || !IsPublic(parsed) {
		return ""
	}

	record, err := reader.City(parsed)
	if err != nil || record == nil {
		return ""
	}

	city := record.City.Names["en"]
	country := CountryName(record.Country.IsoCode)
	if country == "" {
		country = record.Country.Names["en"]
	}

	switch {
	case city != "" && country != "":
		return city + ", " + country
	case city != "":
		return city
	default:
		return country
	}
}

// CountryName maps an ISO alpha-2 code to its common English name. Unknown
// codes are returned unchanged.
func CountryName(isoCode string) string {
	if isoCode == "" {
		return ""
	}
	countriesOnce.Do(func() {
		countries = gountries.New()
	})
	c, err := countries.FindCountryByAlpha(isoCode)
	if err != nil {
		return isoCode
	}
	return c.Name.Common
}

// IsPublic reports whether ip is routable on the public internet.
func IsPublic(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast())
}
