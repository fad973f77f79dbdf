package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database    DatabaseConfig            `yaml:"database"`
	Redis       RedisConfig               `yaml:"redis"`
	Queue       QueueConfig               `yaml:"queue"`
	Publisher   PublisherConfig           `yaml:"publisher"`
	HTTP        HTTPConfig                `yaml:"http"`
	Security    SecurityConfig            `yaml:"security"`
	Scheduler   SchedulerConfig           `yaml:"scheduler"`
	Migration   MigrationConfig           `yaml:"migration"`
	Idempotency IdempotencyConfig         `yaml:"idempotency"`
	Providers   map[string]ProviderConfig `yaml:"providers"`
	LogLevel    string                    `yaml:"log_level"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig is shared by the job queue and the cache. Addr "memory" selects the
// in-process cache.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Concurrency int            `yaml:"concurrency"`
	Queues      map[string]int `yaml:"queues"`
}

type PublisherConfig struct {
	URL             string `yaml:"url"`
	Exchange        string `yaml:"exchange"`
	RoutingKey      string `yaml:"routing_key"`
	QueueName       string `yaml:"queue_name"`
	AlertRoutingKey string `yaml:"alert_routing_key"`
	AlertQueueName  string `yaml:"alert_queue_name"`
	Topic           string `yaml:"topic"`
	AlertTopic      string `yaml:"alert_topic"`
}

type HTTPConfig struct {
	Addr          string        `yaml:"addr"`
	PublicURL     string        `yaml:"public_url"`
	SessionCookie string        `yaml:"session_cookie"`
	OwnerUserID   string        `yaml:"owner_user_id"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
}

type SecurityConfig struct {
	// StateKey is the 32-byte key sealing OAuth state blobs.
	StateKey string `yaml:"state_key"`
}

type SchedulerConfig struct {
	Interval        time.Duration `yaml:"interval"`
	InFlightTimeout time.Duration `yaml:"in_flight_timeout"`
	BatchSize       int           `yaml:"batch_size"`
}

type MigrationConfig struct {
	Timebox      time.Duration `yaml:"timebox"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxPolls     int           `yaml:"max_polls"`
	StashTTL     time.Duration `yaml:"stash_ttl"`
}

type IdempotencyConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// ProviderConfig carries global fallbacks for one provider.
type ProviderConfig struct {
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	WebhookSecret string `yaml:"webhook_secret"`
}

func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Queue.Concurrency == 0 {
		c.Queue.Concurrency = 10
	}
	if c.Publisher.Exchange == "" {
		c.Publisher.Exchange = "activity_ingest"
	}
	if c.Publisher.RoutingKey == "" {
		c.Publisher.RoutingKey = "events"
	}
	if c.Publisher.QueueName == "" {
		c.Publisher.QueueName = "canonical_events"
	}
	if c.Publisher.Topic == "" {
		c.Publisher.Topic = "canonical-events"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.SessionCookie == "" {
		c.HTTP.SessionCookie = "ingest_session"
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = 30 * time.Second
	}
	if c.Scheduler.Interval == 0 {
		c.Scheduler.Interval = time.Minute
	}
	if c.Scheduler.InFlightTimeout == 0 {
		c.Scheduler.InFlightTimeout = time.Hour
	}
	if c.Scheduler.BatchSize == 0 {
		c.Scheduler.BatchSize = 100
	}
	if c.Migration.Timebox == 0 {
		c.Migration.Timebox = 6 * time.Hour
	}
	if c.Migration.PollInterval == 0 {
		c.Migration.PollInterval = 30 * time.Second
	}
	if c.Idempotency.TTL == 0 {
		c.Idempotency.TTL = 10 * time.Minute
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	if c.Database.Host == "" {
		errs = multierr.Append(errs, errors.New("database.host is required"))
	}
	if c.Database.DBName == "" {
		errs = multierr.Append(errs, errors.New("database.dbname is required"))
	}
	if len(c.Security.StateKey) != 32 {
		errs = multierr.Append(errs, errors.New("security.state_key must be 32 bytes"))
	}
	if c.HTTP.PublicURL != "" {
		if u, err := url.Parse(c.HTTP.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = multierr.Append(errs, fmt.Errorf("http.public_url %q is not an absolute url", c.HTTP.PublicURL))
		}
	}
	if c.Scheduler.Interval < time.Second {
		errs = multierr.Append(errs, errors.New("scheduler.interval must be at least 1s"))
	}
	for name, weight := range c.Queue.Queues {
		if weight <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("queue.queues.%s must have a positive priority", name))
		}
	}
	for id, p := range c.Providers {
		if (p.ClientID == "") != (p.ClientSecret == "") {
			errs = multierr.Append(errs, fmt.Errorf("providers.%s needs both client_id and client_secret", id))
		}
	}
	return errs
}

// Provider returns the settings for one provider, empty when unset.
func (c *Config) Provider(id string) ProviderConfig {
	return c.Providers[id]
}
