// Package config loads the service configuration. Values are layered:
// built-in defaults, then an optional YAML file, then an optional .env file
// and finally the process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Image storage backends.
const (
	ImageBackendLocal = "local"
	ImageBackendS3    = "s3"
)

// Config represents the application configuration.
type Config struct {
	Addr           string        `yaml:"addr" env:"APP_ADDR"`
	DatabaseURL    string        `yaml:"database_url" env:"DATABASE_URL"`
	DBMaxOpenConns int           `yaml:"db_max_open_conns" env:"DB_MAX_OPEN_CONNS"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES"`
	// AllowedOrigins is a comma separated list of CORS origins.
	AllowedOrigins string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	LogLevel       string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat      string `yaml:"log_format" env:"LOG_FORMAT"`

	Images Images `yaml:"images"`
}

// Images configures where uploaded images are kept and how they are served.
type Images struct {
	Backend   string `yaml:"backend" env:"IMAGE_BACKEND"`
	Dir       string `yaml:"dir" env:"IMAGE_DIR"`
	URLPrefix string `yaml:"url_prefix" env:"IMAGE_URL_PREFIX"`

	S3Bucket    string `yaml:"s3_bucket" env:"S3_BUCKET"`
	S3Region    string `yaml:"s3_region" env:"S3_REGION"`
	S3Prefix    string `yaml:"s3_prefix" env:"S3_PREFIX"`
	S3Endpoint  string `yaml:"s3_endpoint" env:"S3_ENDPOINT"`
	S3AccessKey string `yaml:"s3_access_key" env:"S3_ACCESS_KEY"`
	S3SecretKey string `yaml:"s3_secret_key" env:"S3_SECRET_KEY"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Addr:           ":8080",
		DBMaxOpenConns: 10,
		RequestTimeout: 5 * time.Second,
		MaxUploadBytes: 10 << 20,
		AllowedOrigins: "http://localhost:3000",
		LogLevel:       "info",
		LogFormat:      "text",
		Images: Images{
			Backend:   ImageBackendLocal,
			Dir:       "./imgs",
			URLPrefix: "/imgs",
		},
	}
}

// Load reads the YAML file at path, if it exists, and applies environment
// overrides on top. A .env file in the working directory is loaded into the
// environment first without replacing variables that are already set.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("failed to decode environment: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	var problems []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		problems = append(problems, "database_url is required")
	}
	if c.RequestTimeout <= 0 {
		problems = append(problems, "request_timeout must be positive")
	}
	if c.MaxUploadBytes <= 0 {
		problems = append(problems, "max_upload_bytes must be positive")
	}
	switch c.Images.Backend {
	case ImageBackendLocal:
		if strings.TrimSpace(c.Images.Dir) == "" {
			problems = append(problems, "images.dir is required for the local backend")
		}
	case ImageBackendS3:
		if c.Images.S3Bucket == "" || c.Images.S3Region == "" {
			problems = append(problems, "images.s3_bucket and images.s3_region are required for the s3 backend")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown image backend %q", c.Images.Backend))
	}
	if !strings.HasPrefix(c.Images.URLPrefix, "/") && !strings.Contains(c.Images.URLPrefix, "://") {
		problems = append(problems, "images.url_prefix must be an absolute path or URL")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Origins splits AllowedOrigins into its entries.
func (c Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
