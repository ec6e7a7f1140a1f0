// Package config loads the easel configuration.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// EASEL_* environment variables. The result is validated before use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig  `yaml:"server"`
	Store     StoreConfig   `yaml:"store"`
	Redis     RedisConfig   `yaml:"redis"`
	Sandbox   SandboxConfig `yaml:"sandbox"`
	Agent     AgentConfig   `yaml:"agent"`
	Patch     PatchConfig   `yaml:"patch"`
	Locks     LocksConfig   `yaml:"locks"`
	Log       LogConfig     `yaml:"log"`
	Templates string        `yaml:"templates"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
}

type StoreConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	DSN    string `yaml:"dsn" validate:"required_if=Driver sqlite"`
}

// RedisConfig enables the shared canvas lock when Addr is set.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	Prefix   string        `yaml:"prefix"`
	LockTTL  time.Duration `yaml:"lockTTL" validate:"gte=0"`
}

type SandboxConfig struct {
	Backend        string        `yaml:"backend" validate:"oneof=javascript lua"`
	Timeout        time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxOutputBytes int           `yaml:"maxOutputBytes" validate:"gt=0"`
	MaxInvocations int           `yaml:"maxInvocations" validate:"gte=0"`
	MaxCallStack   int           `yaml:"maxCallStack" validate:"gte=0"`
}

type AgentConfig struct {
	Provider    string `yaml:"provider" validate:"oneof=none openai"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"baseURL" validate:"omitempty,url"`
	APIKeyEnv   string `yaml:"apiKeyEnv"`
	MaxAttempts int    `yaml:"maxAttempts" validate:"gte=1,lte=10"`
}

type PatchConfig struct {
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	SweepInterval time.Duration `yaml:"sweepInterval" validate:"gt=0"`
}

type LocksConfig struct {
	// GuardDirectEdits refuses direct bulk updates while an agent session
	// holds the canvas.
	GuardDirectEdits bool `yaml:"guardDirectEdits"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		Store:   StoreConfig{Driver: "memory"},
		Redis:   RedisConfig{Prefix: "easel:lock:"},
		Sandbox: SandboxConfig{Backend: "javascript", Timeout: 2 * time.Second, MaxOutputBytes: 1 << 20, MaxCallStack: 1024},
		Agent:   AgentConfig{Provider: "none", Model: "gpt-4o-mini", APIKeyEnv: "OPENAI_API_KEY", MaxAttempts: 3},
		Patch:   PatchConfig{TTL: 30 * time.Minute, SweepInterval: time.Minute},
		Locks:   LocksConfig{GuardDirectEdits: true},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads path (optional) and the process environment.
func Load(path string) (*Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// APIKey resolves the agent provider key from the configured variable.
func (c *Config) APIKey(lookup func(string) (string, bool)) string {
	if c.Agent.APIKeyEnv == "" {
		return ""
	}
	v, _ := lookup(c.Agent.APIKeyEnv)
	return strings.TrimSpace(v)
}

// Validate checks every section.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag()))
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
}

type envVar struct {
	name  string
	apply func(c *Config, v string) error
}

var envVars = []envVar{
	{"EASEL_ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"EASEL_STORE_DRIVER", func(c *Config, v string) error { c.Store.Driver = v; return nil }},
	{"EASEL_STORE_DSN", func(c *Config, v string) error { c.Store.DSN = v; return nil }},
	{"EASEL_REDIS_ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"EASEL_REDIS_PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"EASEL_REDIS_DB", func(c *Config, v string) error { return setInt(&c.Redis.DB, v) }},
	{"EASEL_SANDBOX_BACKEND", func(c *Config, v string) error { c.Sandbox.Backend = v; return nil }},
	{"EASEL_SANDBOX_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Sandbox.Timeout, v) }},
	{"EASEL_AGENT_PROVIDER", func(c *Config, v string) error { c.Agent.Provider = v; return nil }},
	{"EASEL_AGENT_MODEL", func(c *Config, v string) error { c.Agent.Model = v; return nil }},
	{"EASEL_AGENT_BASE_URL", func(c *Config, v string) error { c.Agent.BaseURL = v; return nil }},
	{"EASEL_AGENT_MAX_ATTEMPTS", func(c *Config, v string) error { return setInt(&c.Agent.MaxAttempts, v) }},
	{"EASEL_PATCH_TTL", func(c *Config, v string) error { return setDuration(&c.Patch.TTL, v) }},
	{"EASEL_GUARD_DIRECT_EDITS", func(c *Config, v string) error { return setBool(&c.Locks.GuardDirectEdits, v) }},
	{"EASEL_LOG_LEVEL", func(c *Config, v string) error { c.Log.Level = strings.ToLower(v); return nil }},
	{"EASEL_TEMPLATES", func(c *Config, v string) error { c.Templates = v; return nil }},
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ev.apply(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("invalid %s: %w", ev.name, err)
		}
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return err
	}
	*dst = b
	return nil
}
