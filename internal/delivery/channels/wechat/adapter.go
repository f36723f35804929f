package wechat

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"opsbot/internal/app/dispatch"
	"opsbot/internal/delivery/channels"
	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"

	"github.com/eatmoreapple/openwechat"
	lru "github.com/hashicorp/golang-lru/v2"
)

const conversationCacheSize = 1024

// conversation is the send surface shared by openwechat friends and groups.
type conversation interface {
	SendText(content string) (*openwechat.SentMessage, error)
	SendImage(file io.Reader) (*openwechat.SentMessage, error)
	SendFile(file io.Reader) (*openwechat.SentMessage, error)
}

// Adapter delivers messages to WeChat chats the gateway has seen. WeChat
// has no threaded replies, so reply and push delivery behave the same.
type Adapter struct {
	convs  *lru.Cache[string, conversation]
	loader *channels.ArtifactLoader
	logger logging.Logger
}

func NewAdapter(loader *channels.ArtifactLoader, logger logging.Logger) (*Adapter, error) {
	if loader == nil {
		return nil, errors.New("wechat adapter requires an artifact loader")
	}
	convs, err := lru.New[string, conversation](conversationCacheSize)
	if err != nil {
		return nil, fmt.Errorf("wechat conversation cache init: %w", err)
	}
	return &Adapter{convs: convs, loader: loader, logger: logging.OrNop(logger)}, nil
}

// remember records where replies for chatID go.
func (a *Adapter) remember(chatID string, conv conversation) {
	if chatID == "" || conv == nil {
		return
	}
	a.convs.Add(chatID, conv)
}

func (a *Adapter) Platform() chat.Platform { return chat.PlatformWeChat }

func (a *Adapter) conversation(target chat.Target) (conversation, error) {
	conv, ok := a.convs.Get(target.ChatID)
	if !ok {
		return nil, fmt.Errorf("wechat chat %s is not known to this session", target.ChatID)
	}
	return conv, nil
}

func (a *Adapter) SendText(_ context.Context, target chat.Target, text string) error {
	conv, err := a.conversation(target)
	if err != nil {
		return err
	}
	if _, err := conv.SendText(text); err != nil {
		return fmt.Errorf("wechat send text: %w", err)
	}
	return nil
}

func (a *Adapter) SendImage(ctx context.Context, target chat.Target, artifact chat.Artifact) error {
	conv, err := a.conversation(target)
	if err != nil {
		return err
	}
	data, _, err := a.loader.Load(ctx, artifact)
	if err != nil {
		return fmt.Errorf("load image %s: %w", artifact.DisplayName(), err)
	}
	if _, err := conv.SendImage(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("wechat send image: %w", err)
	}
	return nil
}

// SendFile stages the payload under its display name, since the upload
// takes the file name from the reader.
func (a *Adapter) SendFile(ctx context.Context, target chat.Target, artifact chat.Artifact) error {
	conv, err := a.conversation(target)
	if err != nil {
		return err
	}
	data, name, err := a.loader.Load(ctx, artifact)
	if err != nil {
		return fmt.Errorf("load file %s: %w", artifact.DisplayName(), err)
	}
	dir, err := os.MkdirTemp("", "opsbot-wechat-")
	if err != nil {
		return fmt.Errorf("stage file: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	staged := filepath.Join(dir, filepath.Base(strings.TrimSpace(name)))
	if err := os.WriteFile(staged, data, 0o600); err != nil {
		return fmt.Errorf("stage file: %w", err)
	}
	f, err := os.Open(staged)
	if err != nil {
		return fmt.Errorf("stage file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := conv.SendFile(f); err != nil {
		return fmt.Errorf("wechat send file: %w", err)
	}
	return nil
}

// SendBatch sends the items one by one and stops at the first failure.
func (a *Adapter) SendBatch(ctx context.Context, target chat.Target, items []chat.OutboundItem) error {
	for i, item := range items {
		if err := dispatch.SendItem(ctx, a, target, item); err != nil {
			return fmt.Errorf("item %d of %d: %w", i+1, len(items), err)
		}
	}
	return nil
}
