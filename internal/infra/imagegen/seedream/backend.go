// Package seedream generates fallback images with the Volcengine Ark
// Seedream models.
package seedream

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

	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	arkm "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
	"github.com/volcengine/volcengine-go-sdk/volcengine"
)

const (
	Name = "seedream"

	defaultModel = "doubao-seedream-4-0-250828"
	defaultSize  = "2K"
)

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Size    string
}

type imagesClient interface {
	GenerateImages(ctx context.Context, request arkm.GenerateImagesRequest) (arkm.ImagesResponse, error)
}

type arkClient struct {
	client *arkruntime.Client
}

func (c *arkClient) GenerateImages(ctx context.Context, request arkm.GenerateImagesRequest) (arkm.ImagesResponse, error) {
	return c.client.GenerateImages(ctx, request)
}

// Backend implements imagegen.Backend on top of the Ark GenerateImages API.
type Backend struct {
	cfg    Config
	client imagesClient
}

func New(cfg Config, logger logging.Logger) (*Backend, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("seedream API key missing")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Size) == "" {
		cfg.Size = defaultSize
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("SeedreamHTTP")
	}
	opts := []arkruntime.ConfigOption{arkruntime.WithHTTPClient(httpclient.New(2*time.Minute, logger))}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, arkruntime.WithBaseUrl(base))
	}
	client := arkruntime.NewClientWithApiKey(apiKey, opts...)
	return &Backend{cfg: cfg, client: &arkClient{client: client}}, nil
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Generate(ctx context.Context, prompt string) (chat.Artifact, error) {
	req := arkm.GenerateImagesRequest{
		Model:          b.cfg.Model,
		Prompt:         prompt,
		ResponseFormat: volcengine.String(arkm.GenerateImagesResponseFormatBase64),
		Size:           volcengine.String(b.cfg.Size),
		Watermark:      volcengine.Bool(false),
	}
	resp, err := b.client.GenerateImages(ctx, req)
	if err != nil {
		return chat.Artifact{}, fmt.Errorf("seedream request failed: %w", err)
	}
	if resp.Error != nil {
		return chat.Artifact{}, fmt.Errorf("seedream API error (%s): %s", resp.Error.Code, resp.Error.Message)
	}
	return firstImage(resp)
}

func firstImage(resp arkm.ImagesResponse) (chat.Artifact, error) {
	for _, img := range resp.Data {
		if img == nil {
			continue
		}
		if img.B64Json != nil && strings.TrimSpace(*img.B64Json) != "" {
			data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*img.B64Json))
			if err != nil {
				return chat.Artifact{}, fmt.Errorf("decode seedream image: %w", err)
			}
			return chat.Artifact{Kind: chat.ArtifactImage, Data: data, Name: "seedream.png"}, nil
		}
		if img.Url != nil && strings.TrimSpace(*img.Url) != "" {
			return chat.Artifact{Kind: chat.ArtifactImage, URL: strings.TrimSpace(*img.Url), Name: "seedream.png"}, nil
		}
	}
	return chat.Artifact{}, errors.New("seedream returned no image")
}
