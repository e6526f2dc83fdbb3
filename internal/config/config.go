package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// VisionConfig holds settings for the external analysis/chat service.
type VisionConfig struct {
	// Endpoint is the base URL of the vision service API.
	Endpoint string `yaml:"endpoint"`
	// Model is the model identifier passed on every call.
	Model string `yaml:"model"`
	// APIKeys is the pool of API keys; one is picked at random per attempt
	// so throttled keys rotate out naturally.
	APIKeys []string `yaml:"api_keys"`
	// MaxRetries bounds retry attempts for throttled or failing calls.
	MaxRetries int `yaml:"max_retries"`
}

// StoreConfig holds settings for the remote incident store and evidence
// storage.
type StoreConfig struct {
	// URL is the base URL of the remote datastore.
	URL string `yaml:"url"`
	// APIKey authenticates datastore and storage requests.
	APIKey string `yaml:"api_key"`
	// EvidenceBucket is the storage bucket receiving screen recordings.
	EvidenceBucket string `yaml:"evidence_bucket"`
}

// Config holds the settings shared by the guardian binaries.
type Config struct {
	// ServerAddress is the HTTP API address: the daemon listens on its
	// port, the CLI connects to it.
	ServerAddress string `yaml:"server_addr"`
	// AuditInterval is the delay between monitoring audits.
	AuditInterval time.Duration `yaml:"audit_interval"`
	// AlertCooldown is how long the session stays in alert before
	// re-arming, measured from the moment the alert begins.
	AlertCooldown time.Duration `yaml:"alert_cooldown"`
	// RecordDuration is how long the screen is recorded as evidence.
	RecordDuration time.Duration `yaml:"record_duration"`
	// DetectionChance is the probability in [0, 1] used by the placeholder
	// detection policy. An explicit 0 disables detections; leaving the
	// field unset applies the default.
	DetectionChance *float64 `yaml:"detection_chance"`
	// JournalFile is the path of the local SQLite incident journal.
	JournalFile string `yaml:"journal_file"`
	// LogLevel selects the minimum log level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// Timeout is the duration for network operations and API calls.
	Timeout time.Duration `yaml:"timeout"`
	// Vision configures the external analysis/chat service.
	Vision VisionConfig `yaml:"vision"`
	// Store configures the remote incident store and evidence storage.
	Store StoreConfig `yaml:"store"`
}

const (
	// DefaultConfigFilename is the default filename for guardian settings.
	DefaultConfigFilename = "guardian-settings.yaml"

	// DefaultJournalFilename is the default filename for the local
	// incident journal.
	DefaultJournalFilename = "guardian-incidents.db"

	// DefaultServerAddress is the default HTTP API address.
	DefaultServerAddress = "127.0.0.1:8465"

	// DefaultAuditInterval is the default delay between monitoring audits.
	DefaultAuditInterval = 4 * time.Second

	// DefaultAlertCooldown is the default alert cooldown before re-arming.
	DefaultAlertCooldown = 30 * time.Second

	// DefaultRecordDuration is the default evidence recording length.
	DefaultRecordDuration = 12 * time.Second

	// DefaultDetectionChance is the default placeholder detection
	// probability per audit.
	DefaultDetectionChance = 0.05

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultVisionMaxRetries is the default retry budget for vision calls.
	DefaultVisionMaxRetries = 3

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errServerSocketRequired is returned when server address is missing.
	errServerSocketRequired = errors.New("server address must be provided")
	// errDetectionChanceOutOfRange is returned when the detection
	// probability leaves [0, 1].
	errDetectionChanceOutOfRange = errors.New("detection chance must be within [0, 1]")
)

// Load reads configuration from the provided path and validates essential fields.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions: the file may hold API keys.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks the provided settings for required fields and formatting,
// filling defaults for unset values.
//
//nolint:cyclop // Field-by-field defaulting reads clearer inline.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ServerAddress == "" {
		return errServerSocketRequired
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.ServerAddress); err != nil {
		return fmt.Errorf("invalid server socket: %w", err)
	}

	if cfg.AuditInterval <= 0 {
		cfg.AuditInterval = DefaultAuditInterval
	}

	if cfg.AlertCooldown <= 0 {
		cfg.AlertCooldown = DefaultAlertCooldown
	}

	if cfg.RecordDuration <= 0 {
		cfg.RecordDuration = DefaultRecordDuration
	}

	if cfg.DetectionChance == nil {
		chance := DefaultDetectionChance
		cfg.DetectionChance = &chance
	}

	if *cfg.DetectionChance < 0 || *cfg.DetectionChance > 1 {
		return errDetectionChanceOutOfRange
	}

	if cfg.JournalFile == "" {
		cfg.JournalFile = DefaultJournalFilename
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Vision.MaxRetries <= 0 {
		cfg.Vision.MaxRetries = DefaultVisionMaxRetries
	}

	if cfg.Vision.Endpoint != "" {
		if _, err := url.ParseRequestURI(cfg.Vision.Endpoint); err != nil {
			return fmt.Errorf("invalid vision endpoint: %w", err)
		}
	}

	if cfg.Store.URL != "" {
		if _, err := url.ParseRequestURI(cfg.Store.URL); err != nil {
			return fmt.Errorf("invalid store URL: %w", err)
		}
	}

	return nil
}
