package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	Postgres    PostgresConfig    `yaml:"postgres"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Groups      GroupsConfig      `yaml:"groups"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	LogLevel     string        `yaml:"log_level"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Enabled      bool          `yaml:"enabled"`
	ProfileTTL   time.Duration `yaml:"profile_ttl"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration for group events
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	GroupID       string        `yaml:"group_id"`
	Enabled       bool          `yaml:"enabled"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ReconcileConfig holds the member count reconciliation worker configuration
type ReconcileConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// GroupsConfig holds group-specific configuration
type GroupsConfig struct {
	DefaultSearchLimit  int `yaml:"default_search_limit"`
	JoinCodeMaxAttempts int `yaml:"join_code_max_attempts"`
}

// LeaderboardConfig holds leaderboard-specific configuration
type LeaderboardConfig struct {
	// Timezone decides which calendar day "now" falls on.
	Timezone         string        `yaml:"timezone"`
	PreviousCacheTTL time.Duration `yaml:"previous_cache_ttl"`
	// PreviousCacheSettle is how long after a period closes its totals stay
	// uncached, so late step syncs still reach rank_change.
	PreviousCacheSettle time.Duration `yaml:"previous_cache_settle"`
}

// Location resolves the configured timezone.
func (c *LeaderboardConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that defaults cannot repair.
func (c *Config) Validate() error {
	if _, err := c.Leaderboard.Location(); err != nil {
		return err
	}
	if c.Groups.DefaultSearchLimit < 1 || c.Groups.DefaultSearchLimit > 100 {
		return fmt.Errorf("groups.default_search_limit must be between 1 and 100, got %d", c.Groups.DefaultSearchLimit)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when kafka is enabled")
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("server.log_level must be one of debug, info, warn, error, got %q", c.Server.LogLevel)
	}
	return nil
}

// applyDefaults fills every section's zero values
func (c *Config) applyDefaults() {
	c.Server.applyDefaults()
	c.Redis.applyDefaults()
	c.Postgres.applyDefaults()
	c.Kafka.applyDefaults()
	if c.Reconcile.Interval == 0 {
		c.Reconcile.Interval = 10 * time.Minute
	}
	c.Groups.applyDefaults()
	c.Leaderboard.applyDefaults()
}

func (s *ServerConfig) applyDefaults() {
	setDefault(&s.Port, 8080)
	setDefault(&s.ReadTimeout, 5*time.Second)
	setDefault(&s.WriteTimeout, 10*time.Second)
	setDefault(&s.IdleTimeout, 2*time.Minute)
	setDefault(&s.LogLevel, "info")
}

func (r *RedisConfig) applyDefaults() {
	setDefault(&r.Addr, "localhost:6379")
	setDefault(&r.PoolSize, 100)
	setDefault(&r.MinIdleConns, 10)
	setDefault(&r.DialTimeout, 5*time.Second)
	setDefault(&r.ReadTimeout, 3*time.Second)
	setDefault(&r.WriteTimeout, 3*time.Second)
	setDefault(&r.ProfileTTL, 15*time.Minute)
}

func (p *PostgresConfig) applyDefaults() {
	setDefault(&p.Host, "localhost")
	setDefault(&p.Port, 5432)
	setDefault(&p.MaxConnections, 50)
	setDefault(&p.MinConnections, 5)
	setDefault(&p.MaxConnLifetime, time.Hour)
	setDefault(&p.MaxConnIdleTime, 30*time.Minute)
}

func (k *KafkaConfig) applyDefaults() {
	if len(k.Brokers) == 0 {
		k.Brokers = []string{"localhost:9092"}
	}
	setDefault(&k.Topic, "group-events")
	setDefault(&k.GroupID, "group-events-push")
	setDefault(&k.RetryAttempts, 3)
	setDefault(&k.RetryDelay, 100*time.Millisecond)
}

func (g *GroupsConfig) applyDefaults() {
	setDefault(&g.DefaultSearchLimit, 20)
	setDefault(&g.JoinCodeMaxAttempts, 5)
}

func (l *LeaderboardConfig) applyDefaults() {
	setDefault(&l.Timezone, "UTC")
	setDefault(&l.PreviousCacheTTL, 10*time.Minute)
	setDefault(&l.PreviousCacheSettle, 6*time.Hour)
}

// setDefault assigns def when *field holds its zero value
func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Reconcile.Enabled = true
	return cfg
}
