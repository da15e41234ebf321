package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Bosta    BostaConfig    `yaml:"bosta"`
	Sync     SyncConfig     `yaml:"sync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host" validate:"required"`
	Port     int    `yaml:"port" validate:"required,min=1,max=65535"`
	Username string `yaml:"username" validate:"required"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name" validate:"required"`
	SSLMode  string `yaml:"ssl_mode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
}

// DSN собирает строку подключения для pgxpool.
func (c DatabaseConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

// KafkaConfig is optional: with an empty host sync events are not published.
type KafkaConfig struct {
	Host                string `yaml:"host"`
	Port                int    `yaml:"port" validate:"required_with=Host,omitempty,min=1,max=65535"`
	OrdersSyncedTopic   string `yaml:"orders_synced_topic"`
	TrackCompletedTopic string `yaml:"track_completed_topic"`
}

func (c KafkaConfig) Enabled() bool { return c.Host != "" }

func (c KafkaConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// RedisConfig is optional too. Without it the token is cached in a file and
// detail fetches are not rate limited.
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"required_with=Host,omitempty,min=1,max=65535"`
	TokenKey string `yaml:"token_key"`

	DetailRateLimit        int `yaml:"detail_rate_limit" validate:"gte=0"`
	DetailRateLimitSeconds int `yaml:"detail_rate_limit_window_seconds" validate:"gte=0"`
}

func (c RedisConfig) Enabled() bool { return c.Host != "" }

func (c RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

type BostaConfig struct {
	BaseURL        string `yaml:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gte=0"`

	Email    string `yaml:"email" validate:"required_without=APIKey,omitempty,email"`
	Password string `yaml:"password" validate:"required_with=Email"`
	APIKey   string `yaml:"api_key"`

	TokenCachePath       string `yaml:"token_cache_path"`
	TokenTTLHours        int    `yaml:"token_ttl_hours" validate:"gte=0"`
	LoginCooldownSeconds int    `yaml:"login_cooldown_seconds" validate:"gte=0"`

	MaxAttempts   int     `yaml:"max_attempts" validate:"gte=0,lte=20"`
	BaseDelayMs   int     `yaml:"base_delay_ms" validate:"gte=0"`
	BackoffFactor float64 `yaml:"backoff_factor" validate:"gte=0"`
}

type SyncConfig struct {
	HTTPAddr    string `yaml:"http_addr"`
	SwaggerPath string `yaml:"swagger_path"`

	PageSize int    `yaml:"page_size" validate:"gte=0,lte=1000"`
	Workers  int    `yaml:"workers" validate:"gte=0,lte=200"`
	Timezone string `yaml:"timezone"`

	IntervalMinutes   int    `yaml:"interval_minutes" validate:"gte=0"`
	RetryDelaySeconds int    `yaml:"retry_delay_seconds" validate:"gte=0"`
	DrainGraceSeconds int    `yaml:"drain_grace_seconds" validate:"gte=0"`
	CheckpointPath    string `yaml:"checkpoint_path"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal YAML")
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyEnv накладывает переменные окружения поверх файла.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "env %s", name)
		}
		*dst = n
		return nil
	}

	str("API_BASE_URL", &c.Bosta.BaseURL)
	str("API_KEY", &c.Bosta.APIKey)
	str("BOSTA_EMAIL", &c.Bosta.Email)
	str("BOSTA_PASSWORD", &c.Bosta.Password)
	if err := num("API_TIMEOUT", &c.Bosta.TimeoutSeconds); err != nil {
		return err
	}
	return num("BATCH_SIZE", &c.Sync.PageSize)
}

func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}
