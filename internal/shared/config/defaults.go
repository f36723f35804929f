package config

import "time"

const (
	DefaultHTTPAddr         = ":8088"
	DefaultReasoningBinary  = "claude"
	DefaultReasoningModel   = "sonnet"
	DefaultReasoningTimeout = 3 * time.Minute
	DefaultHistoryLimit     = 40
	DefaultMaxItems         = 5
	DefaultFallbackTimeout  = 30 * time.Second
	DefaultSeedreamModel    = "doubao-seedream-4-0-250828"
	DefaultOpenAIImageModel = "gpt-image-1"
	DefaultSummaryPrompt    = "Summarize the conversation so far in a few short paragraphs. Keep names, decisions, open questions and any facts the user asked to remember. Reply with the summary only."
)

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            DefaultHTTPAddr,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver:   StorageDriverMemory,
			MaxConns: 10,
		},
		Reasoning: ReasoningConfig{
			Binary:         DefaultReasoningBinary,
			Model:          DefaultReasoningModel,
			Timeout:        DefaultReasoningTimeout,
			HistoryLimit:   DefaultHistoryLimit,
			SummaryPrompt:  DefaultSummaryPrompt,
			RateLimitRPS:   0.5,
			RateLimitBurst: 3,
		},
		Dispatch: DispatchConfig{
			MaxItems: DefaultMaxItems,
		},
		ImageFallback: ImageFallbackConfig{
			Timeout:    DefaultFallbackTimeout,
			ImageTools: []string{"mcp__image__generate_image", "text_to_image"},
			Seedream:   SeedreamConfig{Model: DefaultSeedreamModel, Size: "2K"},
			OpenAI:     OpenAIConfig{Model: DefaultOpenAIImageModel, Size: "1024x1024"},
		},
		Capabilities: CapabilityConfig{
			DefaultPersona: "assistant",
			Roles: map[string]map[string]bool{
				"admin":  {"*": true},
				"member": {"Read": true, "WebSearch": true, "WebFetch": true},
			},
			Personas: map[string]PersonaConfig{
				"assistant": {Tools: []string{"Read", "WebSearch", "WebFetch"}},
			},
		},
	}
}
