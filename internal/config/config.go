package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Artifacts ArtifactsConfig
	Training  TrainingConfig
	Pipeline  PipelineConfig
	Deploy    DeployConfig
	Probe     ProbeConfig
	Logger    LoggerConfig
}

type ServerConfig struct {
	Host string `validate:"required"`
	Port int    `validate:"min=1,max=65535"`
}

type DatabaseConfig struct {
	Host            string        `validate:"required"`
	Port            int           `validate:"min=1,max=65535"`
	User            string        `validate:"required"`
	Password        string
	Name            string        `validate:"required"`
	SSLMode         string        `validate:"oneof=disable require verify-ca verify-full"`
	MaxOpenConns    int           `validate:"min=1"`
	MaxIdleConns    int           `validate:"min=0"`
	ConnMaxLifetime time.Duration `validate:"gt=0"`
}

// ArtifactsConfig locates the artifact store and sets its retention.
type ArtifactsConfig struct {
	Dir          string        `validate:"required"`
	Keep         int           `validate:"min=1"`
	PollInterval time.Duration `validate:"gt=0"`
}

// TrainingConfig holds the training defaults a run spec may override.
type TrainingConfig struct {
	SplitRatio   float64 `validate:"gt=0,lt=1"`
	Seed         int64
	Stratify     bool
	LearningRate float64 `validate:"gt=0"`
	Epochs       int     `validate:"min=1"`
}

// PipelineConfig holds the default extraction query plus the
// orchestrator's retry, acceptance and health-check settings.
type PipelineConfig struct {
	Threshold      float64       `validate:"gte=0,lte=1"`
	SourceTable    string        `validate:"required"`
	SourceFeatures []string      `validate:"min=1,dive,required"`
	SourceLabel    string        `validate:"required"`
	SourceLimit    int           `validate:"min=0"`
	ExtractRetries int           `validate:"min=0"`
	RetryBackoff   time.Duration `validate:"gt=0"`
	HealthInterval time.Duration `validate:"gt=0"`
	HealthMaxPolls int           `validate:"min=1"`
}

type DeployConfig struct {
	Enabled        bool
	InCluster      bool
	KubeConfigPath string
	Namespace      string `validate:"required_if=Enabled true"`
	Deployment     string `validate:"required_if=Enabled true"`
}

type ProbeConfig struct {
	URL     string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

type LoggerConfig struct {
	Level  string `validate:"loglevel"`
	Format string `validate:"oneof=json text"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "pipeline")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 2)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("ARTIFACTS_DIR", "./artifacts")
	v.SetDefault("ARTIFACTS_KEEP", 5)
	v.SetDefault("ARTIFACTS_POLL_INTERVAL", "10s")
	v.SetDefault("TRAINING_SPLIT_RATIO", 0.8)
	v.SetDefault("TRAINING_SEED", 1)
	v.SetDefault("TRAINING_STRATIFY", true)
	v.SetDefault("TRAINING_LEARNING_RATE", 0.1)
	v.SetDefault("TRAINING_EPOCHS", 400)
	v.SetDefault("PIPELINE_THRESHOLD", 0.7)
	v.SetDefault("PIPELINE_SOURCE_TABLE", "training_rows")
	v.SetDefault("PIPELINE_SOURCE_FEATURES", []string{"age", "income", "region"})
	v.SetDefault("PIPELINE_SOURCE_LABEL", "label")
	v.SetDefault("PIPELINE_SOURCE_LIMIT", 0)
	v.SetDefault("PIPELINE_EXTRACT_RETRIES", 3)
	v.SetDefault("PIPELINE_RETRY_BACKOFF", "2s")
	v.SetDefault("PIPELINE_HEALTH_INTERVAL", "3s")
	v.SetDefault("PIPELINE_HEALTH_MAX_POLLS", 10)
	v.SetDefault("DEPLOY_ENABLED", false)
	v.SetDefault("DEPLOY_IN_CLUSTER", true)
	v.SetDefault("DEPLOY_KUBECONFIG", "")
	v.SetDefault("DEPLOY_NAMESPACE", "")
	v.SetDefault("DEPLOY_DEPLOYMENT", "")
	v.SetDefault("PROBE_URL", "http://localhost:8080")
	v.SetDefault("PROBE_TIMEOUT", "5s")
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")

	// Env
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: duration(v, "DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Artifacts: ArtifactsConfig{
			Dir:          v.GetString("ARTIFACTS_DIR"),
			Keep:         v.GetInt("ARTIFACTS_KEEP"),
			PollInterval: duration(v, "ARTIFACTS_POLL_INTERVAL", 10*time.Second),
		},
		Training: TrainingConfig{
			SplitRatio:   v.GetFloat64("TRAINING_SPLIT_RATIO"),
			Seed:         v.GetInt64("TRAINING_SEED"),
			Stratify:     v.GetBool("TRAINING_STRATIFY"),
			LearningRate: v.GetFloat64("TRAINING_LEARNING_RATE"),
			Epochs:       v.GetInt("TRAINING_EPOCHS"),
		},
		Pipeline: PipelineConfig{
			Threshold:      v.GetFloat64("PIPELINE_THRESHOLD"),
			SourceTable:    v.GetString("PIPELINE_SOURCE_TABLE"),
			SourceFeatures: v.GetStringSlice("PIPELINE_SOURCE_FEATURES"),
			SourceLabel:    v.GetString("PIPELINE_SOURCE_LABEL"),
			SourceLimit:    v.GetInt("PIPELINE_SOURCE_LIMIT"),
			ExtractRetries: v.GetInt("PIPELINE_EXTRACT_RETRIES"),
			RetryBackoff:   duration(v, "PIPELINE_RETRY_BACKOFF", 2*time.Second),
			HealthInterval: duration(v, "PIPELINE_HEALTH_INTERVAL", 3*time.Second),
			HealthMaxPolls: v.GetInt("PIPELINE_HEALTH_MAX_POLLS"),
		},
		Deploy: DeployConfig{
			Enabled:        v.GetBool("DEPLOY_ENABLED"),
			InCluster:      v.GetBool("DEPLOY_IN_CLUSTER"),
			KubeConfigPath: v.GetString("DEPLOY_KUBECONFIG"),
			Namespace:      v.GetString("DEPLOY_NAMESPACE"),
			Deployment:     v.GetString("DEPLOY_DEPLOYMENT"),
		},
		Probe: ProbeConfig{
			URL:     v.GetString("PROBE_URL"),
			Timeout: duration(v, "PROBE_TIMEOUT", 5*time.Second),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: v.GetString("LOGGER_FORMAT"),
		},
	}

	if err := newValidator().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DSN renders the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

func duration(v *viper.Viper, key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return fallback
	}
	return d
}

func newValidator() *validator.Validate {
	validate := validator.New()

	// Verify that the value parses as a logrus level.
	validate.RegisterValidation("loglevel", func(fl validator.FieldLevel) bool {
		_, err := log.ParseLevel(fl.Field().String())
		return err == nil
	})

	return validate
}
