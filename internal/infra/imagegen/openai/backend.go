// Package openai generates fallback images through the OpenAI Images API.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/httpclient"
	"opsbot/internal/shared/logging"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	Name = "openai"

	defaultModel = "dall-e-3"
	defaultSize  = "1024x1024"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Size    string
}

type Backend struct {
	cfg    Config
	client *openai.Client
}

func New(cfg Config, logger logging.Logger) (*Backend, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai API key missing")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Size) == "" {
		cfg.Size = defaultSize
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("OpenAIImagesHTTP")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpclient.New(2*time.Minute, logger)),
		option.WithMaxRetries(1),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)
	return &Backend{cfg: cfg, client: &client}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Generate(ctx context.Context, prompt string) (chat.Artifact, error) {
	params := openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(b.cfg.Model),
		Size:   openai.ImageGenerateParamsSize(b.cfg.Size),
		N:      openai.Int(1),
	}
	// gpt-image models always answer in base64 and reject the field.
	if strings.HasPrefix(b.cfg.Model, "dall-e") {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormatB64JSON
	}
	resp, err := b.client.Images.Generate(ctx, params)
	if err != nil {
		return chat.Artifact{}, fmt.Errorf("openai images request failed: %w", err)
	}
	if resp == nil {
		return chat.Artifact{}, errors.New("openai returned no image")
	}
	for _, img := range resp.Data {
		if encoded := strings.TrimSpace(img.B64JSON); encoded != "" {
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return chat.Artifact{}, fmt.Errorf("decode openai image: %w", err)
			}
			return chat.Artifact{Kind: chat.ArtifactImage, Data: data, Name: "openai.png"}, nil
		}
		if url := strings.TrimSpace(img.URL); url != "" {
			return chat.Artifact{Kind: chat.ArtifactImage, URL: url, Name: "openai.png"}, nil
		}
	}
	return chat.Artifact{}, errors.New("openai returned no image")
}
