package lark

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"opsbot/internal/delivery/channels"
	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Adapter sends pipeline output to Lark chats.
type Adapter struct {
	messenger LarkMessenger
	loader    *channels.ArtifactLoader
	appID     string
	logger    logging.Logger
	sent      *lru.Cache[string, struct{}]
}

func NewAdapter(messenger LarkMessenger, loader *channels.ArtifactLoader, appID string, logger logging.Logger) (*Adapter, error) {
	if messenger == nil {
		return nil, errors.New("lark adapter requires a messenger")
	}
	if loader == nil {
		return nil, errors.New("lark adapter requires an artifact loader")
	}
	sent, err := lru.New[string, struct{}](sentMessageCacheSize)
	if err != nil {
		return nil, fmt.Errorf("lark sent-message cache init: %w", err)
	}
	return &Adapter{
		messenger: messenger,
		loader:    loader,
		appID:     strings.TrimSpace(appID),
		logger:    logging.OrNop(logger),
		sent:      sent,
	}, nil
}

func (a *Adapter) Platform() chat.Platform { return chat.PlatformLark }

// send threads under target.ReplyTo when set and otherwise posts to the chat.
func (a *Adapter) send(ctx context.Context, target chat.Target, msgType, content string) (string, error) {
	var (
		messageID string
		err       error
	)
	if target.ReplyTo != "" {
		messageID, err = a.messenger.ReplyMessage(ctx, target.ReplyTo, msgType, content)
	} else {
		if strings.TrimSpace(target.ChatID) == "" {
			return "", errors.New("lark push requires a chat id")
		}
		messageID, err = a.messenger.SendMessage(ctx, target.ChatID, msgType, content)
	}
	if err != nil {
		return "", err
	}
	if messageID != "" {
		a.sent.Add(messageID, struct{}{})
	}
	return messageID, nil
}

func (a *Adapter) SendText(ctx context.Context, target chat.Target, text string) error {
	_, err := a.send(ctx, target, "text", textContent(text))
	return err
}

func (a *Adapter) SendImage(ctx context.Context, target chat.Target, artifact chat.Artifact) error {
	key, err := a.uploadImage(ctx, artifact)
	if err != nil {
		return err
	}
	_, err = a.send(ctx, target, "image", imageContent(key))
	return err
}

func (a *Adapter) SendFile(ctx context.Context, target chat.Target, artifact chat.Artifact) error {
	data, name, err := a.loader.Load(ctx, artifact)
	if err != nil {
		return fmt.Errorf("load file %s: %w", artifact.DisplayName(), err)
	}
	key, err := a.messenger.UploadFile(ctx, data, name, fileType(name))
	if err != nil {
		return err
	}
	_, err = a.send(ctx, target, "file", fileContent(key))
	return err
}

// SendBatch packs text and images into one rich post. Lark posts cannot
// carry files, so those follow as separate messages.
func (a *Adapter) SendBatch(ctx context.Context, target chat.Target, items []chat.OutboundItem) error {
	var (
		texts     []string
		imageKeys []string
		files     []chat.Artifact
	)
	for _, item := range items {
		switch item.Kind {
		case chat.OutboundText:
			if strings.TrimSpace(item.Text) != "" {
				texts = append(texts, item.Text)
			}
		case chat.OutboundImage:
			key, err := a.uploadImage(ctx, item.Artifact)
			if err != nil {
				return err
			}
			imageKeys = append(imageKeys, key)
		case chat.OutboundFile:
			files = append(files, item.Artifact)
		default:
			return fmt.Errorf("unknown item kind %q", item.Kind)
		}
	}

	text := strings.Join(texts, "\n\n")
	switch {
	case len(imageKeys) > 0:
		if _, err := a.send(ctx, target, "post", postContent(text, imageKeys)); err != nil {
			return err
		}
	case text != "":
		if err := a.SendText(ctx, target, text); err != nil {
			return err
		}
	}
	for _, file := range files {
		if err := a.SendFile(ctx, target, file); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) uploadImage(ctx context.Context, artifact chat.Artifact) (string, error) {
	data, _, err := a.loader.Load(ctx, artifact)
	if err != nil {
		return "", fmt.Errorf("load image %s: %w", artifact.DisplayName(), err)
	}
	return a.messenger.UploadImage(ctx, data)
}

func (a *Adapter) SendProgress(ctx context.Context, target chat.Target, text string) (string, error) {
	return a.send(ctx, target, "text", textContent(text))
}

func (a *Adapter) UpdateProgress(ctx context.Context, _ chat.Target, handle string, text string) error {
	if handle == "" {
		return errors.New("progress handle is empty")
	}
	return a.messenger.UpdateMessage(ctx, handle, "text", textContent(text))
}

func (a *Adapter) FinishProgress(ctx context.Context, _ chat.Target, handle string) error {
	if handle == "" {
		return nil
	}
	a.sent.Remove(handle)
	return a.messenger.DeleteMessage(ctx, handle)
}

// IsBotMessage reports whether messageID was sent by this bot. Messages the
// adapter sent itself are answered from memory; older ones are looked up.
func (a *Adapter) IsBotMessage(ctx context.Context, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return false
	}
	if a.sent.Contains(messageID) {
		return true
	}
	senderType, senderID, err := a.messenger.MessageSender(ctx, messageID)
	if err != nil {
		a.logger.Debug("lark parent lookup for %s failed: %v", messageID, err)
		return false
	}
	if senderType != "app" {
		return false
	}
	return a.appID == "" || senderID == a.appID
}

var (
	_ chat.Adapter          = (*Adapter)(nil)
	_ chat.ProgressReporter = (*Adapter)(nil)
	_ chat.ReplyResolver    = (*Adapter)(nil)
)
