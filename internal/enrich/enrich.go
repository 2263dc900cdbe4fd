// Package enrich derives geographic and device attributes from request
// metadata. All functions are pure with respect to the store: malformed
// input yields empty fields, never an error.
package enrich

import (
	"log/slog"
	"net"
	"os"
	"strings"

	ua "github.com/mileusna/useragent"
	"github.com/oschwald/geoip2-golang"
)

// Device types reported by DeviceOf.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
)

// Geo holds the location attributes resolved from an IP address.
type Geo struct {
	Country string // ISO 3166-1 alpha-2, upper case
	Region  string
	City    string
}

// Device holds the attributes parsed from a user-agent string.
type Device struct {
	DeviceType string
	Browser    string
	OS         string
}

// Enricher resolves IPs against a GeoLite2 City database and parses
// user-agent strings. The geo database is optional; a nil reader disables
// geo lookups and produces empty fields.
type Enricher struct {
	geoDB  *geoip2.Reader
	logger *slog.Logger
}

// New creates an Enricher, opening the GeoLite2 City database at geoDBPath
// when the file exists. A missing or unreadable database is not an error.
func New(geoDBPath string, logger *slog.Logger) *Enricher {
	e := &Enricher{logger: logger}

	if geoDBPath == "" {
		logger.Debug("GeoIP database path not configured - geo enrichment disabled")
		return e
	}
	if _, err := os.Stat(geoDBPath); err != nil {
		logger.Info("GeoLite2 database not found - geo enrichment disabled",
			slog.String("path", geoDBPath),
			slog.String("hint", "Download from https://www.maxmind.com/en/geolite2/signup"))
		return e
	}

	db, err := geoip2.Open(geoDBPath)
	if err != nil {
		logger.Error("Failed to open GeoLite2 database",
			slog.String("path", geoDBPath),
			slog.Any("error", err))
		return e
	}

	e.geoDB = db
	logger.Info("GeoLite2 database initialized", slog.String("path", geoDBPath))
	return e
}

// Close releases the geo database handle.
func (e *Enricher) Close() {
	if e.geoDB != nil {
		e.geoDB.Close()
	}
}

// GeoOf resolves an IP address to country/region/city. Empty input, an
// unparseable address or a lookup miss all return the zero Geo.
func (e *Enricher) GeoOf(ipAddress string) Geo {
	if e.geoDB == nil || ipAddress == "" {
		return Geo{}
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		e.logger.Debug("Failed to parse IP address", slog.String("ip", ipAddress))
		return Geo{}
	}

	record, err := e.geoDB.City(ip)
	if err != nil {
		e.logger.Debug("GeoIP lookup failed", slog.String("ip", ipAddress), slog.Any("error", err))
		return Geo{}
	}

	iso := record.Country.IsoCode
	if iso == "" || iso == "--" {
		return Geo{}
	}

	geo := Geo{Country: strings.ToUpper(iso)}
	if len(record.Subdivisions) > 0 {
		geo.Region = record.Subdivisions[0].Names["en"]
	}
	geo.City = record.City.Names["en"]
	return geo
}

// DeviceOf parses a user-agent string. Bots and empty input return the zero
// Device; anything that is neither mobile nor tablet is reported as desktop.
func (e *Enricher) DeviceOf(userAgent string) Device {
	if userAgent == "" {
		return Device{}
	}

	parsed := ua.Parse(userAgent)
	if parsed.Bot {
		return Device{}
	}

	deviceType := DeviceDesktop
	switch {
	case parsed.Mobile:
		deviceType = DeviceMobile
	case parsed.Tablet:
		deviceType = DeviceTablet
	}

	return Device{
		DeviceType: deviceType,
		Browser:    normalizeBrowser(parsed.Name),
		OS:         NormalizeOperatingSystem(parsed.OS),
	}
}

// normalizeBrowser collapses mobile browser variants onto their desktop
// names so dimension keys stay stable.
func normalizeBrowser(name string) string {
	browser := strings.ToLower(name)
	switch browser {
	case "internet explorer":
		return "ie"
	case "mobile safari":
		return "safari"
	case "chrome mobile", "chrome mobile webview":
		return "chrome"
	case "firefox mobile":
		return "firefox"
	case "opera mini", "opera mobile":
		return "opera"
	case "edge mobile":
		return "edge"
	default:
		return browser
	}
}

// NormalizeOperatingSystem normalizes operating system names to standardize them
func NormalizeOperatingSystem(os string) string {
	if os == "" {
		return ""
	}

	osLower := strings.ToLower(os)

	if strings.Contains(osLower, "mac") || strings.Contains(osLower, "darwin") {
		return "MacOS"
	}
	if strings.Contains(osLower, "linux") || strings.Contains(osLower, "gnu/linux") {
		return "Linux"
	}
	if strings.Contains(osLower, "ios") || strings.Contains(osLower, "iphone os") {
		return "iOS"
	}
	if strings.Contains(osLower, "android") {
		return "Android"
	}
	if strings.Contains(osLower, "windows") {
		return "Windows"
	}

	return strings.ToUpper(os[:1]) + strings.ToLower(os[1:])
}
