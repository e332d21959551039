package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/spitit-app/backend/internal/summaries"
)

const (
	envPrefix                = "SPITIT"
	defaultHTTPAddress       = "0.0.0.0:8080"
	defaultDatabasePath      = "spitit.db"
	defaultLogLevel          = "info"
	defaultTokenTTLMinutes   = 10080
	defaultOpenAIBaseURL     = "https://api.openai.com"
	defaultOpenAIModel       = "gpt-3.5-turbo"
	defaultGenerationTimeout = 30
	defaultSummaryBatchLimit = 20
	defaultSummaryMode       = "backlog"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	SigningSecret     string
	TokenTTL          time.Duration
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
	GenerationTimeout time.Duration
	SummaryBatchLimit int
	SummaryMode       summaries.Mode
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("openai.base_url", defaultOpenAIBaseURL)
	configViper.SetDefault("openai.model", defaultOpenAIModel)
	configViper.SetDefault("openai.timeout_seconds", defaultGenerationTimeout)
	configViper.SetDefault("summary.batch_limit", defaultSummaryBatchLimit)
	configViper.SetDefault("summary.mode", defaultSummaryMode)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	mode, err := summaries.ParseMode(configViper.GetString("summary.mode"))
	if err != nil {
		return AppConfig{}, err
	}

	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		SigningSecret:     configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		OpenAIBaseURL:     configViper.GetString("openai.base_url"),
		OpenAIAPIKey:      configViper.GetString("openai.api_key"),
		OpenAIModel:       configViper.GetString("openai.model"),
		GenerationTimeout: time.Duration(configViper.GetInt("openai.timeout_seconds")) * time.Second,
		SummaryBatchLimit: configViper.GetInt("summary.batch_limit"),
		SummaryMode:       mode,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.OpenAIBaseURL) == "" {
		return fmt.Errorf("openai.base_url is required")
	}
	if c.SummaryBatchLimit <= 0 {
		return fmt.Errorf("summary.batch_limit must be positive")
	}
	return nil
}
