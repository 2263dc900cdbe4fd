// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppHost     string   `mapstructure:"apphost"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	CORSOrigins string   `mapstructure:"corsorigins"`

	// File paths
	DatabasePath string `mapstructure:"storagepath"`
	DatabaseName string `mapstructure:"-"` // Derived from other settings
	GeoDBPath    string `mapstructure:"geodbpath"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Cache settings
	RedisAddr            string `mapstructure:"redisaddr"`
	RedisPassword        string `mapstructure:"redispassword"`
	AnalyticsCacheTTLSec int    `mapstructure:"analyticscachettlseconds"`

	// Chain adapter settings
	ChainRPCURL           string `mapstructure:"chainrpcurl"`
	ChainTimeoutSeconds   int    `mapstructure:"chaintimeoutseconds"`
	TrackingVerifyProfile bool   `mapstructure:"trackingverifyprofiles"`

	// Realtime settings
	HeartbeatIntervalSeconds int  `mapstructure:"heartbeatintervalseconds"`
	RealtimeDurableBus       bool `mapstructure:"realtimedurablebus"`

	// Rate limiting
	RateLimitMax           int `mapstructure:"ratelimitmax"`
	RateLimitWindowSeconds int `mapstructure:"ratelimitwindowseconds"`

	// Data retention settings (days)
	ViewsRetentionDays    int `mapstructure:"viewsretentiondays"`
	ClicksRetentionDays   int `mapstructure:"clicksretentiondays"`
	SessionsRetentionDays int `mapstructure:"sessionsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "linkpulse")
		v.SetDefault("apphost", "0.0.0.0")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("corsorigins", "*")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-City.mmdb")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("redisaddr", "")
		v.SetDefault("redispassword", "")
		v.SetDefault("analyticscachettlseconds", 3600)
		v.SetDefault("chainrpcurl", "")
		v.SetDefault("chaintimeoutseconds", 5)
		v.SetDefault("trackingverifyprofiles", false)
		v.SetDefault("heartbeatintervalseconds", 30)
		v.SetDefault("realtimedurablebus", false)
		v.SetDefault("ratelimitmax", 70)
		v.SetDefault("ratelimitwindowseconds", 60)
		v.SetDefault("viewsretentiondays", 365)
		v.SetDefault("clicksretentiondays", 365)
		v.SetDefault("sessionsretentiondays", 90)

		v.BindEnv("appname", "LINKPULSE_APP_NAME")
		v.BindEnv("apphost", "LINKPULSE_APP_HOST")
		v.BindEnv("appport", "LINKPULSE_APP_PORT")
		v.BindEnv("environment", "LINKPULSE_ENV")
		v.BindEnv("loglevel", "LINKPULSE_LOG_LEVEL")
		v.BindEnv("corsorigins", "LINKPULSE_CORS_ORIGINS")
		v.BindEnv("storagepath", "LINKPULSE_STORAGE_PATH")
		v.BindEnv("geodbpath", "LINKPULSE_GEO_DB_PATH")
		v.BindEnv("logsdir", "LINKPULSE_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "LINKPULSE_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "LINKPULSE_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "LINKPULSE_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "LINKPULSE_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "LINKPULSE_DB_MAX_IDLE_CONNS")
		v.BindEnv("redisaddr", "LINKPULSE_REDIS_ADDR")
		v.BindEnv("redispassword", "LINKPULSE_REDIS_PASSWORD")
		v.BindEnv("analyticscachettlseconds", "LINKPULSE_ANALYTICS_CACHE_TTL_SECONDS")
		v.BindEnv("chainrpcurl", "LINKPULSE_CHAIN_RPC_URL")
		v.BindEnv("chaintimeoutseconds", "LINKPULSE_CHAIN_TIMEOUT_SECONDS")
		v.BindEnv("trackingverifyprofiles", "LINKPULSE_TRACKING_VERIFY_PROFILES")
		v.BindEnv("heartbeatintervalseconds", "LINKPULSE_HEARTBEAT_INTERVAL_SECONDS")
		v.BindEnv("realtimedurablebus", "LINKPULSE_REALTIME_DURABLE_BUS")
		v.BindEnv("ratelimitmax", "LINKPULSE_RATE_LIMIT_MAX")
		v.BindEnv("ratelimitwindowseconds", "LINKPULSE_RATE_LIMIT_WINDOW_SECONDS")
		v.BindEnv("viewsretentiondays", "LINKPULSE_VIEWS_RETENTION_DAYS")
		v.BindEnv("clicksretentiondays", "LINKPULSE_CLICKS_RETENTION_DAYS")
		v.BindEnv("sessionsretentiondays", "LINKPULSE_SESSIONS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if c.AnalyticsCacheTTLSec <= 0 {
		return fmt.Errorf("invalid analytics cache TTL: %d", c.AnalyticsCacheTTLSec)
	}

	for name, days := range map[string]int{
		"views":    c.ViewsRetentionDays,
		"clicks":   c.ClicksRetentionDays,
		"sessions": c.SessionsRetentionDays,
	} {
		if days <= 0 {
			return fmt.Errorf("invalid %s retention window: %d", name, days)
		}
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetListenAddr returns the host:port the HTTP server binds to.
func (c *Config) GetListenAddr() string {
	return c.AppHost + ":" + c.AppPort
}

// GetCORSOrigins returns the configured CORS origins list.
func (c *Config) GetCORSOrigins() string {
	if c.CORSOrigins == "" {
		return "*"
	}
	return strings.TrimSpace(c.CORSOrigins)
}

// GetMaxOpenConns returns the configured max open DB connections.
func (c *Config) GetMaxOpenConns() int {
	return c.DatabaseMaxOpenConns
}

// GetMaxIdleConns returns the configured max idle DB connections.
func (c *Config) GetMaxIdleConns() int {
	return c.DatabaseMaxIdleConns
}
