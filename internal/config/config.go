package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store" mapstructure:"store"`
	Import ImportConfig `yaml:"import" mapstructure:"import"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ImportConfig configures the bulk import pipeline.
type ImportConfig struct {
	// StagingDir is where staged upload files are held between the
	// review and commit phases. Empty means the OS temp dir.
	StagingDir string `yaml:"staging_dir" mapstructure:"staging_dir"`
	// DefaultStatus is substituted for blank statuses when no master
	// status carries the default flag.
	DefaultStatus string `yaml:"default_status" mapstructure:"default_status"`
	// ErrorPreview caps how many row errors are echoed in summaries.
	ErrorPreview int `yaml:"error_preview" mapstructure:"error_preview"`
}

// ServerConfig configures the upload HTTP server.
type ServerConfig struct {
	Port           int     `yaml:"port" mapstructure:"port"`
	MaxUploadBytes int64   `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	StageRate      float64 `yaml:"stage_rate" mapstructure:"stage_rate"`
	StageBurst     int     `yaml:"stage_burst" mapstructure:"stage_burst"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ACTIMPORT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "activities.db")
	v.SetDefault("import.default_status", "Planned")
	v.SetDefault("import.error_preview", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_bytes", 32<<20)
	v.SetDefault("server.stage_rate", 1)
	v.SetDefault("server.stage_burst", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
