package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Workers     int    `yaml:"workers" default:"4" validate:"gte=1"`
	Paths       struct {
		BaseDir          string `yaml:"base_dir" validate:"required"`
		FeatureDir       string `yaml:"feature_dir"`
		FeatureListDir   string `yaml:"feature_list_dir"`
		FeatureStatsFile string `yaml:"feature_stats_file"`
		CalendarDir      string `yaml:"calendar_dir"`
		MembershipFile   string `yaml:"membership_file"`
		MarketGainFile   string `yaml:"market_gain_file"`
		ExperimentDir    string `yaml:"experiment_dir"`
	} `yaml:"paths"`
	Logging struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stderr"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled        bool   `yaml:"enabled"`
		PushgatewayURL string `yaml:"pushgateway_url"`
		TextfilePath   string `yaml:"textfile_path"`
		Job            string `yaml:"job" default:"quantpipe"`
	} `yaml:"metrics"`
	Storage struct {
		Series string `yaml:"series" default:"file" validate:"oneof=file clickhouse"`
		Steps  string `yaml:"steps" default:"file" validate:"oneof=file cache"`
	} `yaml:"storage"`
	Cache struct {
		Backend string `yaml:"backend" default:"memory" validate:"oneof=memory redis layered"`
		Redis   struct {
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"quantpipe"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"quantpipe"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
		StorePredictions bool          `yaml:"store_predictions"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"quantpipe.predictions"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip" validate:"oneof=gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		} `yaml:"producer"`
	} `yaml:"kafka"`
	Server struct {
		Host            string        `yaml:"host" default:"0.0.0.0"`
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, fills defaults and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.finish(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("QP_BASE_DIR"); v != "" {
		c.Paths.BaseDir = v
		c.Paths.FeatureDir, c.Paths.FeatureListDir, c.Paths.CalendarDir, c.Paths.ExperimentDir = "", "", "", ""
		c.resolvePaths()
	}
	if v := os.Getenv("QP_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("QP_REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Cache.Redis.Host = host
		if ok {
			p, err := strconv.Atoi(port)
			if err != nil {
				return nil, fmt.Errorf("QP_REDIS_ADDR: %w", err)
			}
			c.Cache.Redis.Port = p
		}
	}
	if v := os.Getenv("QP_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) finish() error {
	if err := defaults.Set(c); err != nil {
		return err
	}
	c.resolvePaths()
	return c.Validate()
}

func (c *Config) resolvePaths() {
	base := c.Paths.BaseDir
	if c.Paths.FeatureDir == "" {
		c.Paths.FeatureDir = filepath.Join(base, "features")
	}
	if c.Paths.FeatureListDir == "" {
		c.Paths.FeatureListDir = filepath.Join(base, "feature_lists")
	}
	if c.Paths.CalendarDir == "" {
		c.Paths.CalendarDir = filepath.Join(base, "calendars")
	}
	if c.Paths.ExperimentDir == "" {
		c.Paths.ExperimentDir = filepath.Join(base, "experiments")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Storage.Series == "clickhouse" && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when storage.series is clickhouse")
	}
	if c.ClickHouse.StorePredictions && c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required when clickhouse.store_predictions is set")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Storage.Steps == "cache" && c.Cache.Backend == "memory" && c.Environment == "production" {
		return fmt.Errorf("storage.steps=cache needs a persistent cache backend in production")
	}
	return nil
}
