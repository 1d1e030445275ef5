// Package config provides centralized default values for visitstats
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var envLoaded sync.Once

func loadEnvFile() {
	envLoaded.Do(func() {
		// godotenv never overrides variables already present in the environment
		if err := godotenv.Load(); err == nil {
			log.Println("Loading configuration overrides from .env file...")
		}
	})
}

func getEnvInt(key string, defaultValue int) int {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.Atoi(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%d (default: %d)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvString(key string, defaultValue string) string {
	if val := os.Getenv(key); val != "" {
		if val != defaultValue {
			log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
		}
		return val
	}
	return defaultValue
}

func getEnvSecret(key string) string {
	val := os.Getenv(key)
	if val != "" {
		log.Printf("Config override: %s=****", key)
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := strconv.ParseBool(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%t (default: %t)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if valStr := os.Getenv(key); valStr != "" {
		if val, err := time.ParseDuration(valStr); err == nil {
			if val != defaultValue {
				log.Printf("Config override: %s=%s (default: %s)", key, val, defaultValue)
			}
			return val
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	log.Printf("Config override: %s=%s", key, valStr)
	return out
}

var (
	// Server Configuration
	Port               string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	AllowedOrigins     []string
	GinMode            string

	// Durable store
	DatabaseURL              string
	DatabaseAuthToken        string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeMinutes int
	DBConnMaxIdleMinutes     int
	SlowQueryThreshold       time.Duration

	// Fast counter store
	RedisURL            string
	CachePrefix         string
	DayKeyTTL           time.Duration
	PresenceTTL         time.Duration
	MemorySweepInterval time.Duration
	TimeZone            string
	MaxPageURLLength    int
	MaxUserAgentLength  int
	MaxRefererLength    int

	// Durable writer pool
	WriterWorkers   int
	WriterQueueSize int
	ShutdownTimeout time.Duration

	// Retention
	DurableRetention time.Duration
	CacheRetention   time.Duration
	ArchiveDirectory string
	ArchiveBatchSize int

	// Schedules (standard five-field cron)
	ScheduleFile           string
	HourlySyncSchedule     string
	DailyReconcileSchedule string
	RetentionSchedule      string
	DailyReportSchedule    string
	WeeklyReportSchedule   string
	MonthlyReportSchedule  string

	// Realtime push
	RealtimePushInterval time.Duration

	// Admin API
	JWTSecret         string
	AdminPasswordHash string
	AdminTokenTTL     time.Duration

	// Reports
	ResendAPIKey    string
	ReportEmailFrom string
	ReportEmailTo   []string

	// Logging
	LogDirectory string
	LogToFile    bool
	LogJSON      bool
	LogLevel     string
)

func init() {
	loadEnvFile()

	// Server Configuration
	Port = getEnvString("PORT", "8080")
	ServerReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second)
	ServerWriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second)
	ServerIdleTimeout = getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second)
	AllowedOrigins = getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:3000", "http://localhost:4321"})
	GinMode = getEnvString("GIN_MODE", "debug")

	// Durable store
	DatabaseURL = getEnvString("DATABASE_URL", "visits.db")
	DatabaseAuthToken = getEnvSecret("DATABASE_AUTH_TOKEN")
	DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 3)
	DBConnMaxLifetimeMinutes = getEnvInt("DB_CONN_MAX_LIFETIME_MINUTES", 30)
	DBConnMaxIdleMinutes = getEnvInt("DB_CONN_MAX_IDLE_MINUTES", 3)
	SlowQueryThreshold = getEnvDuration("SLOW_QUERY_THRESHOLD", 500*time.Millisecond)

	// Fast counter store
	RedisURL = getEnvString("REDIS_URL", "")
	CachePrefix = getEnvString("CACHE_PREFIX", "blog:analytics")
	DayKeyTTL = time.Duration(getEnvInt("DAY_KEY_TTL_DAYS", 7)) * 24 * time.Hour
	PresenceTTL = time.Duration(getEnvInt("PRESENCE_TTL_HOURS", 2)) * time.Hour
	MemorySweepInterval = getEnvDuration("MEMORY_SWEEP_INTERVAL", time.Minute)
	TimeZone = getEnvString("TIME_ZONE", "Local")
	MaxPageURLLength = getEnvInt("MAX_PAGE_URL_LENGTH", 500)
	MaxUserAgentLength = getEnvInt("MAX_USER_AGENT_LENGTH", 1000)
	MaxRefererLength = getEnvInt("MAX_REFERER_LENGTH", 500)

	// Durable writer pool
	WriterWorkers = getEnvInt("WRITER_WORKERS", 4)
	WriterQueueSize = getEnvInt("WRITER_QUEUE_SIZE", 1024)
	ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second)

	// Retention
	DurableRetention = time.Duration(getEnvInt("DURABLE_RETENTION_DAYS", 90)) * 24 * time.Hour
	CacheRetention = time.Duration(getEnvInt("CACHE_RETENTION_DAYS", 7)) * 24 * time.Hour
	ArchiveDirectory = getEnvString("ARCHIVE_DIRECTORY", "")
	ArchiveBatchSize = getEnvInt("ARCHIVE_BATCH_SIZE", 5000)

	// Schedules
	ScheduleFile = getEnvString("SCHEDULE_FILE", "")
	HourlySyncSchedule = getEnvString("HOURLY_SYNC_SCHEDULE", "5 * * * *")
	DailyReconcileSchedule = getEnvString("DAILY_RECONCILE_SCHEDULE", "30 0 * * *")
	RetentionSchedule = getEnvString("RETENTION_SCHEDULE", "0 2 * * *")
	DailyReportSchedule = getEnvString("DAILY_REPORT_SCHEDULE", "0 1 * * *")
	WeeklyReportSchedule = getEnvString("WEEKLY_REPORT_SCHEDULE", "0 2 * * 1")
	MonthlyReportSchedule = getEnvString("MONTHLY_REPORT_SCHEDULE", "0 3 1 * *")

	RealtimePushInterval = getEnvDuration("REALTIME_PUSH_INTERVAL", 5*time.Second)

	// Admin API
	JWTSecret = getEnvSecret("JWT_SECRET")
	AdminPasswordHash = getEnvSecret("ADMIN_PASSWORD_HASH")
	AdminTokenTTL = getEnvDuration("ADMIN_TOKEN_TTL", 12*time.Hour)

	// Reports
	ResendAPIKey = getEnvSecret("RESEND_API_KEY")
	ReportEmailFrom = getEnvString("REPORT_EMAIL_FROM", "visitstats <reports@localhost>")
	ReportEmailTo = getEnvList("REPORT_EMAIL_TO", nil)

	// Logging
	LogDirectory = getEnvString("LOG_DIRECTORY", "logs")
	LogToFile = getEnvBool("LOG_TO_FILE", false)
	LogJSON = getEnvBool("LOG_JSON", true)
	LogLevel = getEnvString("LOG_LEVEL", "info")
}

// Location resolves TimeZone, falling back to the process local zone.
func Location() *time.Location {
	if TimeZone == "" || TimeZone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(TimeZone)
	if err != nil {
		log.Printf("Invalid TIME_ZONE %q, using local time: %v", TimeZone, err)
		return time.Local
	}
	return loc
}
