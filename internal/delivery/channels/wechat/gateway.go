// Package wechat connects the bot to a personal WeChat account through the
// web protocol.
package wechat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"opsbot/internal/app/dispatch"
	"opsbot/internal/delivery/channels"
	"opsbot/internal/domain/chat"
	"opsbot/internal/shared/logging"

	"github.com/eatmoreapple/openwechat"
	"github.com/skip2/go-qrcode"
)

// Submitter accepts inbound messages for asynchronous handling.
type Submitter interface {
	Submit(adapter chat.Adapter, msg chat.Inbound) bool
}

// Gateway bridges WeChat messages into the pipeline.
type Gateway struct {
	cfg        Config
	sink       Submitter
	adapter    *Adapter
	logger     logging.Logger
	bot        *openwechat.Bot
	hotStorage io.ReadWriteCloser
	now        func() time.Time
}

// NewGateway constructs a WeChat gateway instance.
func NewGateway(cfg Config, sink Submitter, loader *channels.ArtifactLoader, logger logging.Logger) (*Gateway, error) {
	if sink == nil {
		return nil, errors.New("wechat gateway requires a message sink")
	}
	if loader == nil {
		loader = channels.NewArtifactLoader(dispatch.Sandbox{}, logger)
	}
	adapter, err := NewAdapter(loader, logger)
	if err != nil {
		return nil, err
	}
	return &Gateway{
		cfg:     cfg,
		sink:    sink,
		adapter: adapter,
		logger:  logging.OrNop(logger),
		now:     time.Now,
	}, nil
}

// Start logs in and blocks until ctx is cancelled or the bot exits.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.cfg.Enabled {
		return nil
	}
	bot := openwechat.DefaultBot(g.loginMode(), openwechat.WithContextOption(ctx))
	bot.UUIDCallback = g.printLoginQR
	bot.MessageHandler = g.handleMessage
	g.bot = bot

	if err := g.login(bot); err != nil {
		return fmt.Errorf("wechat login: %w", err)
	}
	self, err := bot.GetCurrentUser()
	if err != nil {
		return fmt.Errorf("wechat current user: %w", err)
	}
	g.logger.Info("WeChat gateway ready: user=%s", strings.TrimSpace(self.NickName))

	err = bot.Block()
	g.stop()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (g *Gateway) stop() {
	if g.hotStorage != nil {
		_ = g.hotStorage.Close()
		g.hotStorage = nil
	}
}

func (g *Gateway) printLoginQR(uuid string) {
	url := openwechat.GetQrcodeUrl(uuid)
	code, err := qrcode.New(url, qrcode.Low)
	if err != nil {
		g.logger.Warn("WeChat QR generation failed: %v", err)
		g.logger.Info("WeChat login URL: %s", url)
		return
	}
	g.logger.Info("WeChat login QR (scan with mobile):\n%s", code.ToString(true))
	g.logger.Info("WeChat login URL: %s", url)
}

func (g *Gateway) loginMode() openwechat.BotPreparer {
	switch strings.ToLower(strings.TrimSpace(g.cfg.LoginMode)) {
	case "", "desktop":
		return openwechat.Desktop
	case "normal", "web":
		return openwechat.Normal
	default:
		g.logger.Warn("Unknown WeChat login_mode %q; defaulting to desktop", g.cfg.LoginMode)
		return openwechat.Desktop
	}
}

func (g *Gateway) login(bot *openwechat.Bot) error {
	if path := strings.TrimSpace(g.cfg.HotLoginStorage); path != "" {
		storage := openwechat.NewFileHotReloadStorage(path)
		g.hotStorage = storage
		return bot.HotLogin(storage, openwechat.NewRetryLoginOption())
	}
	return bot.Login()
}

func (g *Gateway) handleMessage(msg *openwechat.Message) {
	if msg == nil || msg.IsSendBySelf() || !msg.IsText() {
		return
	}
	chatUser, err := msg.Sender()
	if err != nil || chatUser == nil {
		g.logger.Warn("WeChat sender lookup failed: %v", err)
		return
	}
	isGroup := msg.IsSendByGroup()
	sender := chatUser
	if isGroup {
		if member, err := msg.SenderInGroup(); err == nil && member != nil {
			sender = member
		}
	}

	var conv conversation
	if group, ok := chatUser.AsGroup(); ok {
		conv = group
	} else if friend, ok := chatUser.AsFriend(); ok {
		conv = friend
	} else {
		g.logger.Debug("WeChat message from unsupported chat %s skipped", userKey(chatUser))
		return
	}

	g.submit(conv, incoming{
		chatID:    userKey(chatUser),
		messageID: msg.MsgId,
		senderID:  userKey(sender),
		name:      displayName(sender),
		text:      msg.Content,
		isGroup:   isGroup,
		createdAt: msg.CreateTime,
	})
}

// incoming is the platform-neutral part of a WeChat text message.
type incoming struct {
	chatID    string
	messageID string
	senderID  string
	name      string
	text      string
	isGroup   bool
	createdAt int64
}

func (g *Gateway) submit(conv conversation, in incoming) {
	text := strings.TrimSpace(in.text)
	if text == "" || in.chatID == "" || in.senderID == "" {
		return
	}
	g.adapter.remember(in.chatID, conv)

	received := g.now()
	if in.createdAt > 0 {
		received = time.Unix(in.createdAt, 0)
	}
	msg := chat.Inbound{
		Platform:   chat.PlatformWeChat,
		ChatID:     in.chatID,
		MessageID:  in.messageID,
		SenderID:   in.senderID,
		SenderName: in.name,
		Text:       text,
		IsGroup:    in.isGroup,
		ReceivedAt: received,
	}
	g.logger.Info("WeChat message received: chat=%s sender=%s group=%t len=%d", msg.ChatID, msg.SenderID, msg.IsGroup, len(msg.Text))
	if !g.sink.Submit(g.adapter, msg) {
		g.logger.Warn("WeChat message %s dropped: pipeline is shutting down", msg.MessageID)
	}
}

func userKey(user *openwechat.User) string {
	if user == nil {
		return ""
	}
	for _, value := range []string{user.ID(), user.UserName, user.NickName} {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return ""
}

func displayName(user *openwechat.User) string {
	if user == nil {
		return ""
	}
	for _, value := range []string{user.DisplayName, user.RemarkName, user.NickName} {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return userKey(user)
}
