// Package config loads StatusPipe configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then the
// environment (a .env file in the working directory is loaded first). The CLI
// applies its flags on top of the result.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultStateDir is the default directory for StatusPipe state data.
	DefaultStateDir = "/var/lib/statuspipe"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "statuspipe.db"

	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type ScheduleConfig struct {
	Tick               string        `yaml:"tick"`
	ContactExpiry      string        `yaml:"contact_expiry"`
	ContactEventTTL    time.Duration `yaml:"contact_event_ttl"`
	JobPollInterval    time.Duration `yaml:"job_poll_interval"`
	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
}

// TwilioConfig enables SMS delivery of fired notifications when AccountSID is set.
type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
	To         string `yaml:"to"`
}

// NATSConfig enables status and upload publishing when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	StatusSubject string `yaml:"status_subject"`
	UploadSubject string `yaml:"upload_subject"`
}

// KafkaConfig enables the lab result consumer when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`
}

type Config struct {
	StateDir string         `yaml:"state_dir"`
	Timezone string         `yaml:"timezone"`
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Twilio   TwilioConfig   `yaml:"twilio"`
	NATS     NATSConfig     `yaml:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		StateDir: DefaultStateDir,
		Timezone: "Local",
		LogLevel: "info",
		API:      APIConfig{Addr: ":8080"},
		Schedule: ScheduleConfig{
			Tick:               "*/15 * * * *",
			ContactExpiry:      "@hourly",
			ContactEventTTL:    28 * 24 * time.Hour,
			JobPollInterval:    10 * time.Second,
			OutboxPollInterval: 10 * time.Second,
		},
		NATS: NATSConfig{
			Stream:        "STATUSPIPE",
			StatusSubject: "statuspipe.status",
			UploadSubject: "statuspipe.contacts",
		},
		Kafka: KafkaConfig{
			Topic:   "lab-results",
			GroupID: "statuspipe",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment. The result is not validated;
// callers apply flag overrides first and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		slog.Debug("config.Load: config file applied", "path", path)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Debug("config.Load: failed to load .env file", "error", err)
	}
	cfg.applyEnv()
	cfg.Resolve()

	slog.Debug("config.Load: configuration loaded",
		"state_dir", cfg.StateDir,
		"db_driver", cfg.Database.Driver,
		"dsn_set", cfg.Database.DSN != "",
		"api_addr", cfg.API.Addr,
		"timezone", cfg.Timezone,
		"twilio_enabled", cfg.Twilio.AccountSID != "",
		"nats_enabled", cfg.NATS.URL != "",
		"kafka_enabled", len(cfg.Kafka.Brokers) > 0)
	return &cfg, nil
}

func (c *Config) applyEnv() {
	stringEnv("STATUSPIPE_STATE_DIR", &c.StateDir)
	stringEnv("STATUSPIPE_TIMEZONE", &c.Timezone)
	stringEnv("STATUSPIPE_LOG_LEVEL", &c.LogLevel)
	stringEnv("DATABASE_DRIVER", &c.Database.Driver)
	stringEnv("DATABASE_URL", &c.Database.DSN)
	stringEnv("DATABASE_DSN", &c.Database.DSN)
	stringEnv("API_ADDR", &c.API.Addr)
	stringEnv("TICK_SCHEDULE", &c.Schedule.Tick)
	stringEnv("CONTACT_EXPIRY_SCHEDULE", &c.Schedule.ContactExpiry)
	c.Schedule.ContactEventTTL = ParseDurationEnv("CONTACT_EVENT_TTL", c.Schedule.ContactEventTTL)
	c.Schedule.JobPollInterval = ParseDurationEnv("JOB_POLL_INTERVAL", c.Schedule.JobPollInterval)
	c.Schedule.OutboxPollInterval = ParseDurationEnv("OUTBOX_POLL_INTERVAL", c.Schedule.OutboxPollInterval)
	stringEnv("TWILIO_ACCOUNT_SID", &c.Twilio.AccountSID)
	stringEnv("TWILIO_AUTH_TOKEN", &c.Twilio.AuthToken)
	stringEnv("TWILIO_FROM_NUMBER", &c.Twilio.From)
	stringEnv("TWILIO_TO_NUMBER", &c.Twilio.To)
	stringEnv("NATS_URL", &c.NATS.URL)
	stringEnv("NATS_STREAM", &c.NATS.Stream)
	stringEnv("NATS_STATUS_SUBJECT", &c.NATS.StatusSubject)
	stringEnv("NATS_UPLOAD_SUBJECT", &c.NATS.UploadSubject)
	c.Kafka.Brokers = ParseListEnv("KAFKA_BROKERS", c.Kafka.Brokers)
	stringEnv("KAFKA_TOPIC", &c.Kafka.Topic)
	stringEnv("KAFKA_GROUP_ID", &c.Kafka.GroupID)
	if ParseBoolEnv("STATUSPIPE_DEBUG", false) {
		c.LogLevel = "debug"
	}
}

// Resolve fills values derived from others: the SQLite file defaults to the
// state directory and the driver is detected from the DSN. Call it again
// after changing StateDir or the DSN.
func (c *Config) Resolve() {
	if c.Database.DSN == "" || c.Database.DSN == filepath.Join(DefaultStateDir, DefaultDBFileName) {
		c.Database.DSN = filepath.Join(c.StateDir, DefaultDBFileName)
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DetectDriver(c.Database.DSN)
	}
}

// DetectDriver guesses the database driver from a DSN.
func DetectDriver(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return DriverPostgres
	}
	return DriverSQLite
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.StateDir == "" {
		errs = append(errs, errors.New("state_dir is required"))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database dsn is required"))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if c.Schedule.Tick == "" {
		errs = append(errs, errors.New("schedule.tick is required"))
	}
	if c.Schedule.ContactEventTTL <= 0 {
		errs = append(errs, errors.New("schedule.contact_event_ttl must be positive"))
	}
	if c.Twilio.AccountSID != "" && (c.Twilio.AuthToken == "" || c.Twilio.From == "" || c.Twilio.To == "") {
		errs = append(errs, errors.New("twilio requires account_sid, auth_token, from and to"))
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.Topic == "" || c.Kafka.GroupID == "") {
		errs = append(errs, errors.New("kafka requires topic and group_id"))
	}
	if c.NATS.URL != "" && (c.NATS.StatusSubject == "" || c.NATS.UploadSubject == "") {
		errs = append(errs, errors.New("nats requires status_subject and upload_subject"))
	}
	return errors.Join(errs...)
}
