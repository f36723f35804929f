package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigDir  = ".opsbot"
	defaultConfigName = "config.yaml"
)

// EnvLookup resolves the value for an environment variable.
type EnvLookup func(string) (string, bool)

// DefaultEnvLookup delegates to os.LookupEnv.
func DefaultEnvLookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// Option customises the loader behaviour.
type Option func(*loadOptions)

type loadOptions struct {
	envLookup  EnvLookup
	readFile   func(string) ([]byte, error)
	homeDir    func() (string, error)
	configPath string
}

// WithEnv supplies a custom environment lookup implementation.
func WithEnv(lookup EnvLookup) Option {
	return func(o *loadOptions) {
		o.envLookup = lookup
	}
}

// WithConfigPath forces the loader to read configuration from a specific file.
func WithConfigPath(path string) Option {
	return func(o *loadOptions) {
		o.configPath = path
	}
}

// WithFileReader injects a custom reader, used primarily for tests.
func WithFileReader(reader func(string) ([]byte, error)) Option {
	return func(o *loadOptions) {
		o.readFile = reader
	}
}

// WithHomeDir overrides how the loader resolves the user's home directory.
func WithHomeDir(resolver func() (string, error)) Option {
	return func(o *loadOptions) {
		o.homeDir = resolver
	}
}

// ResolveConfigPath returns the configuration file path.
// Priority order:
//  1. Explicit OPSBOT_CONFIG_PATH.
//  2. $HOME/.opsbot/config.yaml.
//  3. ./configs/config.yaml when the home directory is unavailable.
func ResolveConfigPath(envLookup EnvLookup, homeDir func() (string, error)) string {
	if envLookup == nil {
		envLookup = DefaultEnvLookup
	}
	if value, ok := envLookup("OPSBOT_CONFIG_PATH"); ok {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	if homeDir != nil {
		if home, err := homeDir(); err == nil && strings.TrimSpace(home) != "" {
			return filepath.Join(home, defaultConfigDir, defaultConfigName)
		}
	}
	return filepath.Join("configs", defaultConfigName)
}

// Load reads the YAML file on top of Default, expands ${VAR} references and
// applies OPSBOT_* environment overrides. A missing file is not an error.
func Load(opts ...Option) (Config, string, error) {
	options := loadOptions{
		envLookup: DefaultEnvLookup,
		readFile:  os.ReadFile,
		homeDir:   os.UserHomeDir,
	}
	for _, opt := range opts {
		opt(&options)
	}

	cfg := Default()

	configPath := strings.TrimSpace(options.configPath)
	if configPath == "" {
		configPath = ResolveConfigPath(options.envLookup, options.homeDir)
	}

	data, err := options.readFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, configPath, fmt.Errorf("read config file: %w", err)
	case len(bytes.TrimSpace(data)) > 0:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, configPath, fmt.Errorf("parse config file: %w", err)
		}
	}

	expandEnv(options.envLookup, &cfg)
	if err := applyEnv(options.envLookup, &cfg); err != nil {
		return Config{}, configPath, err
	}
	return cfg, configPath, nil
}

func expandEnvValue(lookup EnvLookup, value string) string {
	if !strings.Contains(value, "$") {
		return value
	}
	return os.Expand(value, func(key string) string {
		v, _ := lookup(key)
		return v
	})
}

func expandEnv(lookup EnvLookup, cfg *Config) {
	cfg.Server.AdminToken = expandEnvValue(lookup, cfg.Server.AdminToken)
	cfg.Storage.Dir = expandEnvValue(lookup, cfg.Storage.Dir)
	cfg.Storage.DatabaseURL = expandEnvValue(lookup, cfg.Storage.DatabaseURL)
	cfg.Reasoning.WorkingDir = expandEnvValue(lookup, cfg.Reasoning.WorkingDir)
	cfg.ImageFallback.Seedream.APIKey = expandEnvValue(lookup, cfg.ImageFallback.Seedream.APIKey)
	cfg.ImageFallback.Seedream.BaseURL = expandEnvValue(lookup, cfg.ImageFallback.Seedream.BaseURL)
	cfg.ImageFallback.OpenAI.APIKey = expandEnvValue(lookup, cfg.ImageFallback.OpenAI.APIKey)
	cfg.ImageFallback.OpenAI.BaseURL = expandEnvValue(lookup, cfg.ImageFallback.OpenAI.BaseURL)
	cfg.Channels.Lark.AppID = expandEnvValue(lookup, cfg.Channels.Lark.AppID)
	cfg.Channels.Lark.AppSecret = expandEnvValue(lookup, cfg.Channels.Lark.AppSecret)
	for i, root := range cfg.Dispatch.SandboxRoots {
		cfg.Dispatch.SandboxRoots[i] = expandEnvValue(lookup, root)
	}
}

func applyEnv(lookup EnvLookup, cfg *Config) error {
	str := func(key string, dst *string) {
		if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
			*dst = strings.TrimSpace(value)
		}
	}
	str("OPSBOT_HTTP_ADDR", &cfg.Server.Addr)
	str("OPSBOT_ADMIN_TOKEN", &cfg.Server.AdminToken)
	str("OPSBOT_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("OPSBOT_DATABASE_URL", &cfg.Storage.DatabaseURL)
	str("OPSBOT_REASONING_BINARY", &cfg.Reasoning.Binary)
	str("OPSBOT_REASONING_MODEL", &cfg.Reasoning.Model)
	str("OPSBOT_LARK_APP_ID", &cfg.Channels.Lark.AppID)
	str("OPSBOT_LARK_APP_SECRET", &cfg.Channels.Lark.AppSecret)
	str("OPSBOT_IMAGE_FALLBACK", &cfg.ImageFallback.Backend)
	str("ARK_API_KEY", &cfg.ImageFallback.Seedream.APIKey)
	str("OPENAI_API_KEY", &cfg.ImageFallback.OpenAI.APIKey)

	if value, ok := lookup("OPSBOT_REASONING_TIMEOUT_SECONDS"); ok && strings.TrimSpace(value) != "" {
		seconds, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || seconds <= 0 {
			return fmt.Errorf("invalid OPSBOT_REASONING_TIMEOUT_SECONDS %q", value)
		}
		cfg.Reasoning.Timeout = secondsDuration(seconds)
	}
	return nil
}
