package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Host string `yaml:"host" env:"SERVER_HOST"`
		Port int    `yaml:"port" env:"SERVER_PORT"`
		Env  string `yaml:"env" env:"SERVER_ENV"`
	} `yaml:"server"`

	Database struct {
		Driver string `yaml:"driver" env:"DATABASE_DRIVER"` // postgres, mysql, sqlite
		DSN    string `yaml:"url" env:"DATABASE_URL"`
	} `yaml:"database"`

	JWT struct {
		Secret string `yaml:"secret" env:"JWT_SECRET"`
	} `yaml:"jwt"`

	Settlement struct {
		Provider      string        `yaml:"provider" env:"SETTLEMENT_PROVIDER"` // http, paypal
		BaseURL       string        `yaml:"base_url" env:"SETTLEMENT_BASE_URL"`
		APIKey        string        `yaml:"api_key" env:"SETTLEMENT_API_KEY"`
		WebhookSecret string        `yaml:"webhook_secret" env:"SETTLEMENT_WEBHOOK_SECRET"`
		CallbackURL   string        `yaml:"callback_url" env:"SETTLEMENT_CALLBACK_URL"`
		Timeout       time.Duration `yaml:"timeout" env:"SETTLEMENT_TIMEOUT"`
		PayPal        struct {
			ClientID     string `yaml:"client_id" env:"PAYPAL_CLIENT_ID"`
			ClientSecret string `yaml:"client_secret" env:"PAYPAL_CLIENT_SECRET"`
			Sandbox      bool   `yaml:"sandbox" env:"PAYPAL_SANDBOX"`
		} `yaml:"paypal"`
	} `yaml:"settlement"`

	Reconciliation struct {
		Enabled     bool          `yaml:"enabled" env:"RECONCILIATION_ENABLED"`
		Interval    time.Duration `yaml:"interval" env:"RECONCILIATION_INTERVAL"`
		Workers     int           `yaml:"workers" env:"RECONCILIATION_WORKERS"`
		BatchSize   int           `yaml:"batch_size" env:"RECONCILIATION_BATCH_SIZE"`
		Cooldown    time.Duration `yaml:"cooldown" env:"RECONCILIATION_COOLDOWN"`
		LockTimeout time.Duration `yaml:"lock_timeout" env:"RECONCILIATION_LOCK_TIMEOUT"`
		InitGrace   time.Duration `yaml:"init_grace" env:"RECONCILIATION_INIT_GRACE"`
		WorkerID    string        `yaml:"worker_id" env:"RECONCILIATION_WORKER_ID"`
	} `yaml:"reconciliation"`

	Events struct {
		SQSQueueURL  string `yaml:"sqs_queue_url" env:"EVENTS_SQS_QUEUE_URL"`
		AWSRegion    string `yaml:"aws_region" env:"AWS_REGION"`
		AWSAccessKey string `yaml:"aws_access_key" env:"AWS_ACCESS_KEY_ID"`
		AWSSecretKey string `yaml:"aws_secret_key" env:"AWS_SECRET_ACCESS_KEY"`
	} `yaml:"events"`

	Payouts struct {
		Enabled    bool `yaml:"enabled" env:"PAYOUTS_ENABLED"`
		MaxRetries int  `yaml:"max_retries" env:"PAYOUTS_MAX_RETRIES"`
	} `yaml:"payouts"`

	// Archive keeps raw verified webhook bodies. Empty type disables it.
	Archive struct {
		Type      string `yaml:"type" env:"ARCHIVE_TYPE"` // local, s3
		BasePath  string `yaml:"base_path" env:"ARCHIVE_BASE_PATH"`
		Bucket    string `yaml:"bucket" env:"ARCHIVE_BUCKET"`
		Region    string `yaml:"region" env:"ARCHIVE_REGION"`
		Endpoint  string `yaml:"endpoint" env:"ARCHIVE_ENDPOINT"`
		AccessKey string `yaml:"access_key" env:"ARCHIVE_ACCESS_KEY"`
		SecretKey string `yaml:"secret_key" env:"ARCHIVE_SECRET_KEY"`
	} `yaml:"archive"`

	// Notify emails operators when a payout fails. Empty host disables it.
	Notify struct {
		SMTPHost     string   `yaml:"smtp_host" env:"SMTP_HOST"`
		SMTPPort     int      `yaml:"smtp_port" env:"SMTP_PORT"`
		SMTPUser     string   `yaml:"smtp_user" env:"SMTP_USER"`
		SMTPPassword string   `yaml:"smtp_password" env:"SMTP_PASSWORD"`
		FromEmail    string   `yaml:"from_email" env:"NOTIFY_FROM_EMAIL"`
		Operators    []string `yaml:"operators" env:"NOTIFY_OPERATORS" envSeparator:","`
	} `yaml:"notify"`

	Stream struct {
		Enabled bool `yaml:"enabled" env:"STREAM_ENABLED"`
	} `yaml:"stream"`
}

var AppConfig *Config

// Load reads the YAML file at path (optional when it does not exist), then
// overlays environment variables. Environment wins over the file.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		f, err := os.Open(path)
		switch {
		case err == nil:
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
			// env-only mode
		default:
			return nil, fmt.Errorf("open config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads from CONFIG_PATH (default config/config.yaml) into AppConfig.
func LoadConfig() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := Load(configPath)
	if err != nil {
		return err
	}
	AppConfig = cfg
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 4000
	}
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Settlement.Provider == "" {
		c.Settlement.Provider = "http"
	}
	if c.Settlement.Timeout == 0 {
		c.Settlement.Timeout = 15 * time.Second
	}

	r := &c.Reconciliation
	if r.Interval == 0 {
		r.Interval = 5 * time.Minute
	}
	if r.Workers <= 0 {
		r.Workers = 4
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 100
	}
	if r.Cooldown == 0 {
		r.Cooldown = 2 * time.Minute
	}
	if r.LockTimeout == 0 {
		r.LockTimeout = 5 * time.Minute
	}
	if r.InitGrace == 0 {
		r.InitGrace = 10 * time.Minute
	}

	if c.Payouts.MaxRetries < 0 {
		c.Payouts.MaxRetries = 0
	}

	if c.Archive.Type == "local" && c.Archive.BasePath == "" {
		c.Archive.BasePath = "./archive"
	}
	if c.Notify.SMTPHost != "" && c.Notify.SMTPPort == 0 {
		c.Notify.SMTPPort = 587
	}
}

// Validate rejects configurations the lifecycle engine cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Settlement.Provider {
	case "http", "paypal":
	default:
		return fmt.Errorf("unsupported settlement provider %q", c.Settlement.Provider)
	}
	if c.Reconciliation.LockTimeout <= 0 {
		return errors.New("reconciliation.lock_timeout must be positive")
	}
	switch c.Archive.Type {
	case "", "local":
	case "s3":
		if c.Archive.Bucket == "" {
			return errors.New("archive.bucket is required for s3")
		}
	default:
		return fmt.Errorf("unsupported archive type %q", c.Archive.Type)
	}
	if c.Notify.SMTPHost != "" && len(c.Notify.Operators) == 0 {
		return errors.New("notify.operators is required when smtp_host is set")
	}
	return nil
}

func GetConfig() *Config {
	if AppConfig == nil {
		if err := LoadConfig(); err != nil {
			panic(err)
		}
	}
	return AppConfig
}
