// Package config loads service configuration from an optional YAML file
// with environment variables layered on top. A .env file is honored when
// present.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/songbot-dev/songbot/internal/textutil"
)

// Config is the full service configuration.
type Config struct {
	Port       int    `yaml:"port"`
	AdminToken string `yaml:"admin_token"`

	// ShowTechPrompt echoes the style prompt and task id to the user after
	// every submission.
	ShowTechPrompt bool `yaml:"show_tech_prompt"`

	OpenAI struct {
		APIKey        string `yaml:"api_key"`
		PrimaryModel  string `yaml:"primary_model"`
		FallbackModel string `yaml:"fallback_model"`
	} `yaml:"openai"`

	Comet struct {
		APIKey           string `yaml:"api_key"`
		BaseURL          string `yaml:"base_url"`
		UseComet         bool   `yaml:"use_comet"`
		UseCometLLM      bool   `yaml:"use_comet_llm"`
		ModelVersion     string `yaml:"model_version"`
		MiniModelVersion string `yaml:"mini_model_version"`
		LLMModelPremium  string `yaml:"llm_model_premium"`
		LLMModelMini     string `yaml:"llm_model_mini"`
	} `yaml:"comet"`

	FoxAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
	} `yaml:"foxai"`

	BotHelp struct {
		APIBase      string `yaml:"api_base"`
		OAuthURL     string `yaml:"oauth_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"bothelp"`

	Delayed struct {
		Backend     string `yaml:"backend"` // "file" or "redis"
		FilePath    string `yaml:"file_path"`
		RedisAddr   string `yaml:"redis_addr"`
		RedisPrefix string `yaml:"redis_prefix"`
	} `yaml:"delayed"`
}

// Load reads the YAML file at path (skipped when empty or absent), then
// overlays environment variables. Call after godotenv has had its chance.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Printf("config: .env loaded")
	}

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			log.Printf("config: loaded %s", path)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{Port: 8080}
	cfg.OpenAI.PrimaryModel = "gpt-5-mini-2025-08-07"
	cfg.OpenAI.FallbackModel = "gpt-4.1"
	cfg.Comet.BaseURL = "https://api.cometapi.com"
	cfg.Comet.UseComet = true
	cfg.Comet.UseCometLLM = true
	cfg.Comet.ModelVersion = "chirp-crow"
	cfg.Comet.MiniModelVersion = "chirp-auk"
	cfg.Comet.LLMModelPremium = "gpt-5.1"
	cfg.Comet.LLMModelMini = "gpt-5-all"
	cfg.FoxAI.BaseURL = "https://api.foxaihub.com/api/v2/diffusion"
	cfg.BotHelp.APIBase = "https://api.bothelp.io"
	cfg.Delayed.Backend = "file"
	cfg.Delayed.FilePath = "delayed_tracks.json"
	cfg.Delayed.RedisPrefix = "songbot:delayed:"
	return cfg
}

func (c *Config) applyEnv() {
	setInt(&c.Port, "PORT")
	setStr(&c.AdminToken, "ADMIN_TOKEN")
	setBool(&c.ShowTechPrompt, "SHOW_TECH_PROMPT_TO_USER")

	setStr(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	setStr(&c.OpenAI.PrimaryModel, "OPENAI_PRIMARY_MODEL")
	setStr(&c.OpenAI.FallbackModel, "OPENAI_FALLBACK_MODEL")

	setStr(&c.Comet.APIKey, "COMET_API_KEY")
	setStr(&c.Comet.BaseURL, "COMET_BASE")
	setBool(&c.Comet.UseComet, "USE_COMET")
	setBool(&c.Comet.UseCometLLM, "USE_COMET_LLM")
	setStr(&c.Comet.ModelVersion, "COMET_MODEL_VERSION")
	setStr(&c.Comet.MiniModelVersion, "COMET_MODEL_VERSION_MINI")
	setStr(&c.Comet.LLMModelPremium, "COMET_LLM_MODEL_PREMIUM")
	setStr(&c.Comet.LLMModelMini, "COMET_LLM_MODEL_MINI")

	setStr(&c.FoxAI.APIKey, "FOXAIHUB_API_KEY")
	setStr(&c.FoxAI.BaseURL, "FOXAIHUB_BASE")

	setStr(&c.BotHelp.APIBase, "BOTHELP_API_BASE")
	setStr(&c.BotHelp.OAuthURL, "BOTHELP_OAUTH_URL")
	setStr(&c.BotHelp.ClientID, "BOTHELP_CLIENT_ID")
	setStr(&c.BotHelp.ClientSecret, "BOTHELP_CLIENT_SECRET")

	setStr(&c.Delayed.Backend, "DELAYED_BACKEND")
	setStr(&c.Delayed.FilePath, "DELAYED_TRACKS_FILE")
	setStr(&c.Delayed.RedisAddr, "REDIS_ADDR")
	setStr(&c.Delayed.RedisPrefix, "REDIS_PREFIX")
}

// Validate checks structural settings and logs a masked key summary.
// Missing provider keys are not fatal: the affected backend is simply
// unavailable and the tier routing falls back.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	switch c.Delayed.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("config: unknown delayed backend %q", c.Delayed.Backend)
	}
	if c.Delayed.Backend == "redis" && c.Delayed.RedisAddr == "" {
		return fmt.Errorf("config: redis backend needs REDIS_ADDR")
	}
	c.BotHelp.APIBase = strings.TrimRight(c.BotHelp.APIBase, "/")
	if c.BotHelp.OAuthURL == "" {
		c.BotHelp.OAuthURL = c.BotHelp.APIBase + "/oauth/token"
	}

	log.Printf("config: openai key=%s comet key=%s foxai key=%s",
		textutil.MaskKey(c.OpenAI.APIKey, 6),
		textutil.MaskKey(c.Comet.APIKey, 6),
		textutil.MaskKey(c.FoxAI.APIKey, 6))
	if c.Comet.APIKey != "" && !textutil.IsASCII(c.Comet.APIKey) {
		log.Printf("config: COMET_API_KEY contains non-ASCII characters, comet disabled")
	}
	return nil
}

// CometUsable reports whether the comet backend can be used at all.
func (c *Config) CometUsable() bool {
	return c.Comet.APIKey != "" && textutil.IsASCII(c.Comet.APIKey)
}

func setStr(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = strings.EqualFold(v, "true")
	}
}
