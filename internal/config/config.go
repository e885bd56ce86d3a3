package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Input   InputConfig   `yaml:"input"`
	Output  OutputConfig  `yaml:"output"`
	Predict PredictConfig `yaml:"predict"`
	Model   ModelConfig   `yaml:"model"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

type InputConfig struct {
	Dir                 string   `yaml:"dir"`
	Extensions          []string `yaml:"extensions"`
	ProjectionIfMissing string   `yaml:"projection_if_missing"`
	MaskDir             string   `yaml:"mask_dir"`
}

type OutputConfig struct {
	Dir        string `yaml:"dir"`
	Backend    string `yaml:"backend"` // "local" | "gcs" | "s3"
	Bucket     string `yaml:"bucket"`
	Prefix     string `yaml:"prefix"`
	S3Endpoint string `yaml:"s3_endpoint"`
	S3Region   string `yaml:"s3_region"`
}

type PredictConfig struct {
	BatchSize            int  `yaml:"batch_size"`
	BorderPixelsToIgnore int  `yaml:"border_pixels_to_ignore"`
	EvaluateMode         bool `yaml:"evaluate_mode"`
	Force                bool `yaml:"force"`
	ReadAttempts         int  `yaml:"read_attempts"`
	ReadBackoffMs        int  `yaml:"read_backoff_ms"`
}

type ModelConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Name           string `yaml:"name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LedgerConfig struct {
	Backend     string `yaml:"backend"` // "file" | "postgres"
	PostgresDSN string `yaml:"postgres_dsn"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type LoggingConfig struct {
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

// Default returns the configuration used when neither a file nor the
// environment says otherwise.
func Default() Config {
	return Config{
		Input: InputConfig{
			Extensions: []string{".tif", ".jpg"},
		},
		Output: OutputConfig{
			Backend: "local",
		},
		Predict: PredictConfig{
			BatchSize:     16,
			ReadAttempts:  3,
			ReadBackoffMs: 200,
		},
		Model: ModelConfig{
			Endpoint:       "http://localhost:8501",
			Name:           "segmentation",
			TimeoutSeconds: 120,
		},
		Ledger: LedgerConfig{
			Backend: "file",
		},
		Metrics: MetricsConfig{
			Address:   ":9090",
			Namespace: "tile_predictor",
		},
		Logging: LoggingConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// Load builds a Config from defaults, an optional YAML file and environment
// overrides, in that order, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoad loads the configuration from CONFIG_PATH (or the first CLI
// argument) and exits the process when it is invalid.
func MustLoad() Config {
	log.Println("[config] loading")

	path := os.Getenv("CONFIG_PATH")
	if path == "" && len(os.Args) > 1 {
		path = os.Args[1]
	}

	cfg, err := Load(path)
	if err != nil {
		log.Fatalf("[config] %v", err)
	}
	return cfg
}

// Validate reports configuration errors that make a run impossible.
func (c Config) Validate() error {
	var errs []error

	if c.Input.Dir == "" {
		errs = append(errs, errors.New("input.dir is required"))
	}
	if len(c.Input.Extensions) == 0 {
		errs = append(errs, errors.New("input.extensions must not be empty"))
	}
	if c.Output.Dir == "" {
		errs = append(errs, errors.New("output.dir is required"))
	}
	switch c.Output.Backend {
	case "local":
	case "gcs", "s3":
		if c.Output.Bucket == "" {
			errs = append(errs, fmt.Errorf("output.bucket required for %s backend", c.Output.Backend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown output backend: %s", c.Output.Backend))
	}
	if c.Predict.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("predict.batch_size must be >= 1, got %d", c.Predict.BatchSize))
	}
	if c.Predict.BorderPixelsToIgnore < 0 {
		errs = append(errs, fmt.Errorf("predict.border_pixels_to_ignore must be >= 0, got %d", c.Predict.BorderPixelsToIgnore))
	}
	if c.Predict.ReadAttempts < 1 {
		errs = append(errs, fmt.Errorf("predict.read_attempts must be >= 1, got %d", c.Predict.ReadAttempts))
	}
	if c.Model.Endpoint == "" {
		errs = append(errs, errors.New("model.endpoint is required"))
	}
	switch c.Ledger.Backend {
	case "file":
	case "postgres":
		if c.Ledger.PostgresDSN == "" {
			errs = append(errs, errors.New("ledger.postgres_dsn required for postgres ledger"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger backend: %s", c.Ledger.Backend))
	}

	return errors.Join(errs...)
}

func applyEnv(cfg *Config) {
	setString(&cfg.Input.Dir, "INPUT_DIR")
	setString(&cfg.Input.ProjectionIfMissing, "PROJECTION_IF_MISSING")
	setString(&cfg.Input.MaskDir, "INPUT_MASK_DIR")
	if v := os.Getenv("INPUT_EXTENSIONS"); v != "" {
		cfg.Input.Extensions = splitList(v)
	}

	setString(&cfg.Output.Dir, "OUTPUT_DIR")
	setString(&cfg.Output.Backend, "OUTPUT_BACKEND")
	setString(&cfg.Output.Bucket, "OUTPUT_BUCKET")
	setString(&cfg.Output.Prefix, "OUTPUT_PREFIX")
	setString(&cfg.Output.S3Endpoint, "S3_ENDPOINT")
	setString(&cfg.Output.S3Region, "S3_REGION")

	setInt(&cfg.Predict.BatchSize, "BATCH_SIZE")
	setInt(&cfg.Predict.BorderPixelsToIgnore, "BORDER_PIXELS")
	setBool(&cfg.Predict.EvaluateMode, "EVALUATE_MODE")
	setBool(&cfg.Predict.Force, "FORCE")
	setInt(&cfg.Predict.ReadAttempts, "READ_ATTEMPTS")
	setInt(&cfg.Predict.ReadBackoffMs, "READ_BACKOFF_MS")

	setString(&cfg.Model.Endpoint, "MODEL_ENDPOINT")
	setString(&cfg.Model.Name, "MODEL_NAME")
	setInt(&cfg.Model.TimeoutSeconds, "MODEL_TIMEOUT_SECONDS")

	setString(&cfg.Ledger.Backend, "LEDGER_BACKEND")
	setString(&cfg.Ledger.PostgresDSN, "LEDGER_DSN")

	setBool(&cfg.Metrics.Enabled, "METRICS_ENABLED")
	setString(&cfg.Metrics.Address, "METRICS_ADDRESS")

	setString(&cfg.Logging.Format, "LOG_FORMAT")
	setString(&cfg.Logging.Level, "LOG_LEVEL")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if parsed, err := strconv.Atoi(v); err == nil {
		*dst = parsed
	} else {
		log.Printf("[config] ignoring %s=%q: %v", key, v, err)
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v == "true" || v == "1"
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
