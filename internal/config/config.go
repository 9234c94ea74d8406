// Package config loads AEGIS configuration from an optional YAML file with
// environment-variable overrides. Every deployment knob the platform needs
// (Redis, ServiceNow, Teams, LLM provider, RAG service, admin credentials)
// can be supplied purely through the environment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Redis       RedisConfig       `yaml:"redis"`
	ServiceNow  ServiceNowConfig  `yaml:"servicenow"`
	Teams       TeamsConfig       `yaml:"teams"`
	LLM         LLMConfig         `yaml:"llm"`
	RAG         RAGConfig         `yaml:"rag"`
	Remediation RemediationConfig `yaml:"remediation"`
	Admin       AdminConfig       `yaml:"admin"`
	Worker      WorkerConfig      `yaml:"worker"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
	// PublicBaseURL is the externally reachable URL of the API, used to
	// build the feedback links embedded in Teams cards.
	PublicBaseURL string `yaml:"public_base_url"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type ServiceNowConfig struct {
	Instance string `yaml:"instance"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

type TeamsConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type LLMConfig struct {
	// Provider selects the reasoning backend: "anthropic" or "openai".
	Provider       string `yaml:"provider"`
	AnthropicKey   string `yaml:"anthropic_api_key"`
	AnthropicModel string `yaml:"anthropic_model"`
	OpenAIKey      string `yaml:"openai_api_key"`
	OpenAIModel    string `yaml:"openai_model"`
}

type RAGConfig struct {
	ServiceURL string `yaml:"service_url"`
}

type RemediationConfig struct {
	// CommandServiceURL is the remote-command dispatch endpoint (SSM-style).
	CommandServiceURL string `yaml:"command_service_url"`
}

type AdminConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type WorkerConfig struct {
	// ClaimTTLSeconds is how long a processing-lane claim may go stale
	// before the reaper requeues the entry.
	ClaimTTLSeconds int `yaml:"claim_ttl_seconds"`
}

// Load reads the YAML file at path (if it exists) and then applies
// environment overrides. A missing file is not an error: the environment
// alone is a complete configuration source.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		f, err := os.Open(path)
		if err == nil {
			defer f.Close()
			if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("open config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development", PublicBaseURL: "http://localhost:8080"},
		Redis:  RedisConfig{Host: "localhost", Port: 6379},
		LLM: LLMConfig{
			Provider:       "anthropic",
			AnthropicModel: "claude-3-5-sonnet-20241022",
			OpenAIModel:    "gpt-4o",
		},
		RAG:    RAGConfig{ServiceURL: "http://localhost:8100"},
		Worker: WorkerConfig{ClaimTTLSeconds: 300},
	}
}

func (c *Config) applyEnv() {
	setStr(&c.Server.Port, "PORT")
	setStr(&c.Server.Env, "AEGIS_ENV")
	setStr(&c.Server.PublicBaseURL, "PUBLIC_BASE_URL")

	setStr(&c.Redis.Host, "REDIS_HOST")
	setInt(&c.Redis.Port, "REDIS_PORT")
	setStr(&c.Redis.Password, "REDIS_PASSWORD")

	setStr(&c.ServiceNow.Instance, "SERVICENOW_INSTANCE")
	setStr(&c.ServiceNow.User, "SERVICENOW_USER")
	setStr(&c.ServiceNow.Password, "SERVICENOW_PASSWORD")

	setStr(&c.Teams.WebhookURL, "TEAMS_WEBHOOK_URL")

	setStr(&c.LLM.Provider, "LLM_PROVIDER")
	setStr(&c.LLM.AnthropicKey, "ANTHROPIC_API_KEY")
	setStr(&c.LLM.AnthropicModel, "ANTHROPIC_MODEL")
	setStr(&c.LLM.OpenAIKey, "OPENAI_API_KEY")
	setStr(&c.LLM.OpenAIModel, "OPENAI_MODEL")

	setStr(&c.RAG.ServiceURL, "RAG_SERVICE_URL")
	setStr(&c.Remediation.CommandServiceURL, "REMOTE_COMMAND_URL")

	setStr(&c.Admin.Username, "ADMIN_USERNAME")
	setStr(&c.Admin.Password, "ADMIN_PASSWORD")
}

func setStr(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
