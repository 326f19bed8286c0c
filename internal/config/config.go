package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Database       DatabaseConfig       `yaml:"database"`
	Server         ServerConfig         `yaml:"server"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	Slack          SlackConfig          `yaml:"slack"`
	Game           GameConfig           `yaml:"game"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "postgres" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// SlackConfig holds the incoming-webhook settings for celebration messages.
// An empty WebhookURL disables Slack delivery.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// GameConfig holds the scoring and voting rules.
type GameConfig struct {
	// Milestones is the set of point totals that trigger a celebration.
	Milestones []int `yaml:"milestones"`
	// VotingWindow is how long a nomination stays open for responses.
	VotingWindow time.Duration `yaml:"voting_window"`
	// PollInterval is the watcher's snapshot reconciliation interval.
	PollInterval time.Duration `yaml:"poll_interval"`
	// ResolveInterval is how often the expired-vote sweep runs.
	ResolveInterval time.Duration `yaml:"resolve_interval"`
	// HistorySize bounds the in-memory milestone activity feed.
	HistorySize int `yaml:"history_size"`
	// AllowSelfNomination permits players to nominate themselves.
	AllowSelfNomination bool `yaml:"allow_self_nomination"`
}

// LeaderElectionConfig holds Kubernetes leader election settings.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// DefaultMilestones is the point set used when none is configured.
var DefaultMilestones = []int{1, 3, 5, 7, 10, 12, 15, 17, 20, 25, 30}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "postgres",
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "platbot",
			ServiceVersion: "0.1.0",
		},
		Game: GameConfig{
			VotingWindow:        5 * time.Minute,
			PollInterval:        5 * time.Second,
			ResolveInterval:     30 * time.Second,
			HistorySize:         50,
			AllowSelfNomination: true,
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "platbot-leader",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if len(cfg.Game.Milestones) == 0 {
		cfg.Game.Milestones = DefaultMilestones
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"postgres\" or \"memory\"", c.Database.Driver)
	}
	if c.Game.VotingWindow <= 0 {
		return fmt.Errorf("voting_window must be positive, got %s", c.Game.VotingWindow)
	}
	if c.Game.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.Game.PollInterval)
	}
	if c.Game.ResolveInterval <= 0 {
		return fmt.Errorf("resolve_interval must be positive, got %s", c.Game.ResolveInterval)
	}
	if c.Game.HistorySize <= 0 {
		return fmt.Errorf("history_size must be positive, got %d", c.Game.HistorySize)
	}
	for _, m := range c.Game.Milestones {
		if m <= 0 {
			return fmt.Errorf("milestone values must be positive, got %d", m)
		}
	}
	return nil
}
