package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Remote      Remote   `yaml:"remote"`
	S3          S3Config `yaml:"s3"`
	Upload      Upload   `yaml:"upload"`
	LogLevel    string   `yaml:"log_level"`
	MetricsAddr string   `yaml:"metrics_addr"`
}

// Remote selects and configures the upload service
type Remote struct {
	Backend string        `yaml:"backend"`
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
	Retries int           `yaml:"retries"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// Upload represents upload-specific configuration
type Upload struct {
	ChunkSize    ByteSize `yaml:"chunk_size"`
	Concurrency  int      `yaml:"concurrency"`
	OrgTag       string   `yaml:"org_tag"`
	Public       bool     `yaml:"public"`
	Accept       []string `yaml:"accept"`
	Checkpoint   string   `yaml:"checkpoint"`
	ShowProgress bool     `yaml:"show_progress"`
}

// ByteSize is a size in bytes that reads human-readable values such as "5MiB"
type ByteSize int64

// UnmarshalYAML accepts either a plain integer or a size string
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := units.RAMInBytes(value.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

const (
	BackendHTTP = "http"
	BackendS3   = "s3"
)

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
		Remote: Remote{
			Backend: BackendHTTP,
			Timeout: 10 * time.Minute,
		},
		S3: S3Config{
			Prefix: "uploads",
		},
		Upload: Upload{
			ChunkSize:    5 * units.MiB,
			Concurrency:  3,
			Checkpoint:   "./checkpoint.db",
			ShowProgress: true,
		},
	}

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if err := loadFromFlags(cfg, flags); err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags == nil {
		return nil
	}

	if flags.Changed("backend") {
		cfg.Remote.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("base-url") {
		cfg.Remote.BaseURL, _ = flags.GetString("base-url")
	}
	if flags.Changed("token") {
		cfg.Remote.Token, _ = flags.GetString("token")
	}
	if flags.Changed("timeout") {
		cfg.Remote.Timeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("retries") {
		cfg.Remote.Retries, _ = flags.GetInt("retries")
	}

	if flags.Changed("s3-endpoint") {
		cfg.S3.Endpoint, _ = flags.GetString("s3-endpoint")
	}
	if flags.Changed("s3-access-key") {
		cfg.S3.AccessKey, _ = flags.GetString("s3-access-key")
	}
	if flags.Changed("s3-secret-key") {
		cfg.S3.SecretKey, _ = flags.GetString("s3-secret-key")
	}
	if flags.Changed("s3-secure") {
		cfg.S3.Secure, _ = flags.GetBool("s3-secure")
	}
	if flags.Changed("bucket") {
		cfg.S3.Bucket, _ = flags.GetString("bucket")
	}
	if flags.Changed("prefix") {
		cfg.S3.Prefix, _ = flags.GetString("prefix")
	}

	if flags.Changed("chunk-size") {
		raw, _ := flags.GetString("chunk-size")
		size, err := units.RAMInBytes(raw)
		if err != nil {
			return fmt.Errorf("invalid chunk size %q: %w", raw, err)
		}
		cfg.Upload.ChunkSize = ByteSize(size)
	}
	if flags.Changed("concurrency") {
		cfg.Upload.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("org-tag") {
		cfg.Upload.OrgTag, _ = flags.GetString("org-tag")
	}
	if flags.Changed("public") {
		cfg.Upload.Public, _ = flags.GetBool("public")
	}
	if flags.Changed("accept") {
		cfg.Upload.Accept, _ = flags.GetStringSlice("accept")
	}
	if flags.Changed("checkpoint") {
		cfg.Upload.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("show-progress") {
		cfg.Upload.ShowProgress, _ = flags.GetBool("show-progress")
	}

	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}

	return nil
}

func (c *Config) validate() error {
	c.Remote.Backend = strings.ToLower(c.Remote.Backend)

	switch c.Remote.Backend {
	case BackendHTTP:
		if c.Remote.BaseURL == "" {
			return fmt.Errorf("base url is required for the http backend")
		}
	case BackendS3:
		if c.S3.Endpoint == "" {
			return fmt.Errorf("s3 endpoint is required")
		}
		if c.S3.AccessKey == "" {
			return fmt.Errorf("s3 access key is required")
		}
		if c.S3.SecretKey == "" {
			return fmt.Errorf("s3 secret key is required")
		}
		if c.S3.Bucket == "" {
			return fmt.Errorf("bucket is required")
		}
		// every part but the last must meet the S3 minimum
		if c.Upload.ChunkSize < 5*units.MiB {
			return fmt.Errorf("chunk size must be at least 5MiB for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown backend %q (want %s or %s)", c.Remote.Backend, BackendHTTP, BackendS3)
	}

	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Remote.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.Upload.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Upload.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}

	for i, ext := range c.Upload.Accept {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Upload.Accept[i] = ext
	}

	return nil
}
