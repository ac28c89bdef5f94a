package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Scheduler SchedulerConfig
	Sources   SourcesConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string
	Host string
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis configuration. An empty Addr disables Redis.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	NavCacheTTL time.Duration
	LockTTL     time.Duration
}

// Enabled reports whether a Redis address is configured
func (r *RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig holds Kafka configuration. An empty broker list disables Kafka.
type KafkaConfig struct {
	Brokers           []string
	EventsTopic       string
	TransactionsTopic string
	GroupID           string
}

// Enabled reports whether any Kafka broker is configured
func (k *KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// SchedulerConfig holds the NAV refresh schedule
type SchedulerConfig struct {
	PollInterval time.Duration
	DailyTrigger string // HH:MM, unconditional backstop run
	WindowStart  string // HH:MM
	WindowEnd    string // HH:MM, may wrap past midnight
	Timezone     string
	Workers      int
	CalendarFile string // optional TOML trading calendar
	HistoryDays  int
}

// Location loads the scheduler timezone, falling back to a fixed UTC+8 zone when
// tzdata is unavailable.
func (s *SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		log.Warn().Str("timezone", s.Timezone).Err(err).Msg("unknown timezone, using fixed UTC+8")
		return time.FixedZone("CST", 8*60*60)
	}
	return loc
}

// SourcesConfig holds NAV provider endpoints and limits
type SourcesConfig struct {
	FundGZBaseURL    string
	EastmoneyBaseURL string
	HistoryBaseURL   string
	Timeout          time.Duration
	RateLimit        int
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Format string // console or json
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "fundshare"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:        getEnv("REDIS_ADDR", ""),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvInt("REDIS_DB", 0),
			NavCacheTTL: getEnvDuration("REDIS_NAV_CACHE_TTL", 5*time.Minute),
			LockTTL:     getEnvDuration("REDIS_LOCK_TTL", 10*time.Minute),
		},
		Kafka: KafkaConfig{
			Brokers:           getEnvList("KAFKA_BROKERS"),
			EventsTopic:       getEnv("KAFKA_EVENTS_TOPIC", "fund-events"),
			TransactionsTopic: getEnv("KAFKA_TRANSACTIONS_TOPIC", "fund-transactions"),
			GroupID:           getEnv("KAFKA_GROUP_ID", "fund-share-service"),
		},
		Scheduler: SchedulerConfig{
			PollInterval: getEnvDuration("SCHEDULER_POLL_INTERVAL", 60*time.Second),
			DailyTrigger: getEnv("SCHEDULER_DAILY_TRIGGER", "18:00"),
			WindowStart:  getEnv("SCHEDULER_WINDOW_START", "15:30"),
			WindowEnd:    getEnv("SCHEDULER_WINDOW_END", "02:00"),
			Timezone:     getEnv("SCHEDULER_TIMEZONE", "Asia/Shanghai"),
			Workers:      getEnvInt("SCHEDULER_WORKERS", 4),
			CalendarFile: getEnv("CALENDAR_FILE", ""),
			HistoryDays:  getEnvInt("NAV_HISTORY_DAYS", 30),
		},
		Sources: SourcesConfig{
			FundGZBaseURL:    getEnv("FUNDGZ_BASE_URL", "http://fundgz.1234567.com.cn"),
			EastmoneyBaseURL: getEnv("EASTMONEY_BASE_URL", "http://fund.eastmoney.com"),
			HistoryBaseURL:   getEnv("EASTMONEY_HISTORY_URL", "http://api.fund.eastmoney.com"),
			Timeout:          getEnvDuration("SOURCE_TIMEOUT", 10*time.Second),
			RateLimit:        getEnvInt("SOURCE_RATE_LIMIT", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Int("default", defaultValue).Msg("invalid integer env var, using default")
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Dur("default", defaultValue).Msg("invalid duration env var, using default")
		return defaultValue
	}
	return d
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
