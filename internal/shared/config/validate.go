package config

import (
	"fmt"
	"strings"
	"time"
)

func secondsDuration(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// Validate reports the first configuration problem that would prevent startup.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case StorageDriverMemory:
	case StorageDriverFile:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return fmt.Errorf("storage.dir is required for the file driver")
		}
	case StorageDriverPostgres:
		if strings.TrimSpace(c.Storage.DatabaseURL) == "" {
			return fmt.Errorf("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.Storage.Driver)
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.IDStrategy)) {
	case "", "ksuid", "uuid", "uuidv7":
	default:
		return fmt.Errorf("unsupported storage.id_strategy %q", c.Storage.IDStrategy)
	}

	if strings.TrimSpace(c.Reasoning.Binary) == "" {
		return fmt.Errorf("reasoning.binary is required")
	}
	if c.Reasoning.Timeout <= 0 {
		return fmt.Errorf("reasoning.timeout must be positive")
	}
	if c.Dispatch.MaxItems < 2 {
		return fmt.Errorf("dispatch.max_items must be at least 2, got %d", c.Dispatch.MaxItems)
	}

	switch strings.ToLower(strings.TrimSpace(c.ImageFallback.Backend)) {
	case "":
	case ImageBackendSeedream:
		if strings.TrimSpace(c.ImageFallback.Seedream.APIKey) == "" {
			return fmt.Errorf("image_fallback.seedream.api_key is required")
		}
	case ImageBackendOpenAI:
		if strings.TrimSpace(c.ImageFallback.OpenAI.APIKey) == "" {
			return fmt.Errorf("image_fallback.openai.api_key is required")
		}
	default:
		return fmt.Errorf("unsupported image fallback backend %q", c.ImageFallback.Backend)
	}

	if persona := c.Capabilities.DefaultPersona; persona != "" {
		if _, ok := c.Capabilities.Personas[persona]; !ok {
			return fmt.Errorf("default persona %q is not defined", persona)
		}
	}

	if c.Channels.Lark.Enabled {
		if strings.TrimSpace(c.Channels.Lark.AppID) == "" || strings.TrimSpace(c.Channels.Lark.AppSecret) == "" {
			return fmt.Errorf("channels.lark requires app_id and app_secret")
		}
	}
	return nil
}
