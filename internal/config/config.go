package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Advisor AdvisorConfig `mapstructure:"advisor"`
	Log     LogConfig     `mapstructure:"log"`
}

// LLMConfig holds the completion provider configuration
type LLMConfig struct {
	Provider         string        `mapstructure:"provider"`
	BaseURL          string        `mapstructure:"base_url"`
	APIKey           string        `mapstructure:"api_key"`
	Model            string        `mapstructure:"model"`
	Temperature      float32       `mapstructure:"temperature"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	PresencePenalty  float32       `mapstructure:"presence_penalty"`
	FrequencyPenalty float32       `mapstructure:"frequency_penalty"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// StoreConfig selects and configures the durable key-value backend.
type StoreConfig struct {
	Backend          string        `mapstructure:"backend"` // memory, sqlite, bolt or postgres
	Path             string        `mapstructure:"path"`
	DatabaseURL      string        `mapstructure:"database_url"`
	AutoSaveInterval time.Duration `mapstructure:"autosave_interval"`
}

// AdvisorConfig shapes each conversational turn.
type AdvisorConfig struct {
	SystemPrompt   string `mapstructure:"system_prompt"`
	TurnSuffix     string `mapstructure:"turn_suffix"`
	MaxInputLength int    `mapstructure:"max_input_length"`
	MaxHistory     int    `mapstructure:"max_history"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

const DefaultSystemPrompt = `You are Sarah, a business mentor who listens carefully and responds briefly.

Core Approach:
• Acknowledge what was shared (1 sentence)
• Ask one natural follow-up question
• Keep responses short and genuine
• Let them lead the conversation

Remember:
• One question at a time
• Brief responses
• Stay focused
• Be real`

const DefaultTurnSuffix = "Provide guidance and either ask relevant follow-up questions or suggest specific next steps."

// Default returns the configuration used when no file or env overrides apply.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.mistral.ai/v1",
			Model:       "mistral-small",
			Temperature: 0.8,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		Server: ServerConfig{Host: "127.0.0.1", Port: "8080"},
		Store: StoreConfig{
			Backend:          "sqlite",
			Path:             "empath.db",
			AutoSaveInterval: 30 * time.Second,
		},
		Advisor: AdvisorConfig{
			SystemPrompt:   DefaultSystemPrompt,
			TurnSuffix:     DefaultTurnSuffix,
			MaxInputLength: 1000,
			MaxHistory:     100,
		},
		Log: LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.presence_penalty", d.LLM.PresencePenalty)
	v.SetDefault("llm.frequency_penalty", d.LLM.FrequencyPenalty)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.autosave_interval", d.Store.AutoSaveInterval)
	v.SetDefault("advisor.system_prompt", d.Advisor.SystemPrompt)
	v.SetDefault("advisor.turn_suffix", d.Advisor.TurnSuffix)
	v.SetDefault("advisor.max_input_length", d.Advisor.MaxInputLength)
	v.SetDefault("advisor.max_history", d.Advisor.MaxHistory)
	v.SetDefault("log.level", d.Log.Level)
}

// Load loads the configuration from config.yaml (or the file named by
// CONFIG_PATH), with EMPATH_* environment variables taking precedence.
// A missing config.yaml is not an error; a missing CONFIG_PATH file is.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("empath")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
