package config

import "time"

const (
	StorageDriverMemory   = "memory"
	StorageDriverFile     = "file"
	StorageDriverPostgres = "postgres"

	ImageBackendSeedream = "seedream"
	ImageBackendOpenAI   = "openai"
)

// Config is the full runtime configuration of the bot service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Storage       StorageConfig       `yaml:"storage"`
	Reasoning     ReasoningConfig     `yaml:"reasoning"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	ImageFallback ImageFallbackConfig `yaml:"image_fallback"`
	Capabilities  CapabilityConfig    `yaml:"capabilities"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Observability ObservabilityConfig `yaml:"observability"`
	Accounts      []AccountConfig     `yaml:"accounts"`
}

type ServerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"`
	AdminToken      string        `yaml:"admin_token"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Driver      string `yaml:"driver"`
	Dir         string `yaml:"dir"`
	DatabaseURL string `yaml:"database_url"`
	MaxConns    int32  `yaml:"max_conns"`
	// IDStrategy is "ksuid" (default) or "uuidv7".
	IDStrategy  string `yaml:"id_strategy"`
}

type ReasoningConfig struct {
	Binary         string        `yaml:"binary"`
	Model          string        `yaml:"model"`
	WorkingDir     string        `yaml:"working_dir"`
	Timeout        time.Duration `yaml:"timeout"`
	HistoryLimit   int           `yaml:"history_limit"`
	SystemPrompt   string        `yaml:"system_prompt"`
	SummaryPrompt  string        `yaml:"summary_prompt"`
	RateLimitRPS   float64       `yaml:"rate_limit_rps"`
	RateLimitBurst int           `yaml:"rate_limit_burst"`
}

type DispatchConfig struct {
	MaxItems     int      `yaml:"max_items"`
	SandboxRoots []string `yaml:"sandbox_roots"`
}

type ImageFallbackConfig struct {
	Backend    string         `yaml:"backend"`
	Timeout    time.Duration  `yaml:"timeout"`
	ImageTools []string       `yaml:"image_tools"`
	Seedream   SeedreamConfig `yaml:"seedream"`
	OpenAI     OpenAIConfig   `yaml:"openai"`
}

type SeedreamConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Size    string `yaml:"size"`
}

type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Size    string `yaml:"size"`
}

type CapabilityConfig struct {
	DefaultPersona string                     `yaml:"default_persona"`
	Roles          map[string]map[string]bool `yaml:"roles"`
	Personas       map[string]PersonaConfig   `yaml:"personas"`
	Routes         []RouteConfig              `yaml:"routes"`
}

type PersonaConfig struct {
	Tools        []string `yaml:"tools"`
	SystemPrompt string   `yaml:"system_prompt"`
	Model        string   `yaml:"model"`
}

type RouteConfig struct {
	Tool        string   `yaml:"tool"`
	Permission  string   `yaml:"permission"`
	Substitutes []string `yaml:"substitutes"`
}

type ChannelsConfig struct {
	Lark   LarkConfig   `yaml:"lark"`
	WeChat WeChatConfig `yaml:"wechat"`
}

type LarkConfig struct {
	Enabled      bool     `yaml:"enabled"`
	AppID        string   `yaml:"app_id"`
	AppSecret    string   `yaml:"app_secret"`
	BaseDomain   string   `yaml:"base_domain"`
	TriggerNames []string `yaml:"trigger_names"`
}

type WeChatConfig struct {
	Enabled         bool     `yaml:"enabled"`
	LoginMode       string   `yaml:"login_mode"`
	HotLoginStorage string   `yaml:"hot_login_storage"`
	TriggerNames    []string `yaml:"trigger_names"`
}

type AccountConfig struct {
	ID          string          `yaml:"id"`
	Role        string          `yaml:"role"`
	Permissions map[string]bool `yaml:"permissions"`
}

type ObservabilityConfig struct {
	LogDir  string        `yaml:"log_dir"`
	Tracing TracingConfig `yaml:"tracing"`
}

type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Exporter   string  `yaml:"exporter"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}
