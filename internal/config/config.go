package config

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"facilitywatch/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
	validate = validator.New()
)

const (
	SourceFile  = "file"
	SourceHTTP  = "http"
	SourceMySQL = "mysql"
	SourceRedis = "redis"
	SourceS3    = "s3"
)

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

type ModelsConfig struct {
	Source      string            `yaml:"source" validate:"required,oneof=file http mysql redis s3"`
	Dir         string            `yaml:"dir" validate:"required_if=Source file"`
	BaseURL     string            `yaml:"base_url" validate:"required_if=Source http,omitempty,url"`
	Token       string            `yaml:"token"`
	// Version pins the artifact version fetched from the http registry;
	// empty means latest
	Version     string            `yaml:"version"`
	LoadTimeout time.Duration     `yaml:"load_timeout"`
	Artifacts   map[string]string `yaml:"artifacts" validate:"required"`
}

type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
}

// Config is the service configuration, read from YAML then overridden by env
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	Models  ModelsConfig  `yaml:"models"`
	Redis   RedisConfig   `yaml:"redis"`
	S3      S3Config      `yaml:"s3"`
}

// envOverrides are applied on top of the YAML file when set
type envOverrides struct {
	ServerAddr     string `envconfig:"SERVER_ADDR"`
	LogLevel       string `envconfig:"LOG_LEVEL"`
	ModelSource    string `envconfig:"MODEL_SOURCE"`
	ModelDir       string `envconfig:"MODEL_DIR"`
	ModelBaseURL   string `envconfig:"MODEL_BASE_URL"`
	ModelToken     string `envconfig:"MODEL_TOKEN"`
	ModelVersion   string `envconfig:"MODEL_VERSION"`
	RedisAddr      string `envconfig:"REDIS_ADDR"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        string `envconfig:"REDIS_DB"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX"`
	S3Bucket       string `envconfig:"S3_BUCKET"`
	S3Prefix       string `envconfig:"S3_PREFIX"`
	S3Region       string `envconfig:"S3_REGION"`
	S3Endpoint     string `envconfig:"S3_ENDPOINT"`
}

func Load(configPath string) (*Config, error) {
	var err error
	once.Do(func() {
		instance = Default()

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file %s: %w", configPath, readErr)
			return
		}

		// decode artifacts into an empty map so file keys never sit next to
		// the defaults they replace
		defaults := instance.Models.Artifacts
		instance.Models.Artifacts = nil

		if parseErr := yaml.Unmarshal(data, instance); parseErr != nil {
			err = fmt.Errorf("failed to parse config: %w", parseErr)
			return
		}

		artifacts, mergeErr := mergeArtifacts(defaults, instance.Models.Artifacts)
		if mergeErr != nil {
			err = mergeErr
			return
		}
		instance.Models.Artifacts = artifacts

		if envErr := instance.applyEnv(); envErr != nil {
			err = envErr
			return
		}

		if validateErr := instance.validate(); validateErr != nil {
			err = validateErr
			return
		}
	})

	return instance, err
}

// Default returns the configuration used for anything the file leaves out
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
		Models: ModelsConfig{
			Source:      SourceFile,
			Dir:         "./models",
			LoadTimeout: 30 * time.Second,
			Artifacts: map[string]string{
				string(models.AHU):     "AHU_2.json",
				string(models.Chiller): "chiller.json",
				string(models.Lift):    "lift.json",
			},
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "facilitywatch:classifier:",
		},
	}
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}

	setIf(&c.Server.Addr, env.ServerAddr)
	setIf(&c.Logging.Level, env.LogLevel)
	setIf(&c.Models.Source, env.ModelSource)
	setIf(&c.Models.Dir, env.ModelDir)
	setIf(&c.Models.BaseURL, env.ModelBaseURL)
	setIf(&c.Models.Token, env.ModelToken)
	setIf(&c.Models.Version, env.ModelVersion)
	setIf(&c.Redis.Addr, env.RedisAddr)
	setIf(&c.Redis.Password, env.RedisPassword)
	setIf(&c.Redis.KeyPrefix, env.RedisKeyPrefix)
	setIf(&c.S3.Bucket, env.S3Bucket)
	setIf(&c.S3.Prefix, env.S3Prefix)
	setIf(&c.S3.Region, env.S3Region)
	setIf(&c.S3.Endpoint, env.S3Endpoint)

	if env.RedisDB != "" {
		db, err := strconv.Atoi(env.RedisDB)
		if err != nil {
			return fmt.Errorf("REDIS_DB must be an integer: %w", err)
		}
		c.Redis.DB = db
	}
	return nil
}

func setIf(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for _, sub := range models.Subsystems {
		if c.Models.Artifacts[string(sub)] == "" {
			return fmt.Errorf("models.artifacts.%s cannot be empty", sub)
		}
	}
	for name := range c.Models.Artifacts {
		sub, err := models.ParseSubsystem(name)
		if err != nil {
			return fmt.Errorf("models.artifacts: %w", err)
		}
		if name != string(sub) {
			return fmt.Errorf("models.artifacts: key %q must be written %q", name, sub)
		}
	}
	if c.Models.Source == SourceS3 && c.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when models.source is s3")
	}
	return nil
}

// Artifacts returns the configured artifact name per subsystem
func (c *Config) Artifacts() map[models.Subsystem]string {
	out := make(map[models.Subsystem]string, len(c.Models.Artifacts))
	for _, sub := range models.Subsystems {
		if artifact, ok := c.Models.Artifacts[string(sub)]; ok {
			out[sub] = artifact
		}
	}
	return out
}

// mergeArtifacts overlays the file's artifact names on the defaults. File
// keys are matched case-insensitively and stored under the canonical
// subsystem name; naming a subsystem twice is an error.
func mergeArtifacts(defaults, file map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}

	seen := make(map[models.Subsystem]string, len(file))
	for name, artifact := range file {
		sub, err := models.ParseSubsystem(name)
		if err != nil {
			return nil, fmt.Errorf("models.artifacts: %w", err)
		}
		if prev, dup := seen[sub]; dup {
			return nil, fmt.Errorf("models.artifacts: %s is set by both %q and %q", sub, prev, name)
		}
		seen[sub] = name
		out[string(sub)] = artifact
	}
	return out, nil
}
