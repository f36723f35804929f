// Package lark connects the bot to Lark over the event WebSocket and
// delivers replies through the IM API.
package lark

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"opsbot/internal/app/dispatch"
	"opsbot/internal/delivery/channels"
	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/httpclient"
	"opsbot/internal/shared/logging"

	lru "github.com/hashicorp/golang-lru/v2"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
)

// Submitter accepts inbound messages for asynchronous handling.
type Submitter interface {
	Submit(adapter chat.Adapter, msg chat.Inbound) bool
}

// Gateway bridges Lark bot messages into the pipeline.
type Gateway struct {
	cfg        Config
	sink       Submitter
	loader     *channels.ArtifactLoader
	logger     logging.Logger
	messenger  LarkMessenger
	adapter    *Adapter
	dedupMu    sync.Mutex
	dedupCache *lru.Cache[string, time.Time]
	now        func() time.Time
}

// NewGateway constructs a Lark gateway instance.
func NewGateway(cfg Config, sink Submitter, loader *channels.ArtifactLoader, logger logging.Logger) (*Gateway, error) {
	if sink == nil {
		return nil, errors.New("lark gateway requires a message sink")
	}
	if strings.TrimSpace(cfg.AppID) == "" || strings.TrimSpace(cfg.AppSecret) == "" {
		return nil, errors.New("lark gateway requires app_id and app_secret")
	}
	dedupCache, err := lru.New[string, time.Time](messageDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("lark message deduper init: %w", err)
	}
	if loader == nil {
		loader = channels.NewArtifactLoader(dispatch.Sandbox{}, logger)
	}
	return &Gateway{
		cfg:        cfg,
		sink:       sink,
		loader:     loader,
		logger:     logging.OrNop(logger),
		dedupCache: dedupCache,
		now:        time.Now,
	}, nil
}

// SetMessenger overrides the IM client, mainly for tests.
func (g *Gateway) SetMessenger(m LarkMessenger) error {
	adapter, err := NewAdapter(m, g.loader, g.cfg.AppID, g.logger)
	if err != nil {
		return err
	}
	g.messenger = m
	g.adapter = adapter
	return nil
}

// Adapter returns the outbound adapter once a messenger is configured.
func (g *Gateway) Adapter() *Adapter { return g.adapter }

// Start connects the event WebSocket and blocks until ctx is cancelled or
// the connection fails.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.cfg.Enabled {
		return nil
	}

	clientOpts := []lark.ClientOptionFunc{
		lark.WithHttpClient(httpclient.New(time.Minute, g.logger)),
	}
	if domain := strings.TrimSpace(g.cfg.BaseDomain); domain != "" {
		clientOpts = append(clientOpts, lark.WithOpenBaseUrl(domain))
	}
	client := lark.NewClient(g.cfg.AppID, g.cfg.AppSecret, clientOpts...)
	if g.messenger == nil {
		if err := g.SetMessenger(newSDKMessenger(client)); err != nil {
			return err
		}
	}

	eventDispatcher := dispatcher.NewEventDispatcher("", "")
	eventDispatcher.OnP2MessageReceiveV1(g.handleMessage)
	eventDispatcher.OnP2MessageReadV1(func(_ context.Context, _ *larkim.P2MessageReadV1) error {
		return nil
	})
	eventDispatcher.OnP2ChatAccessEventBotP2pChatEnteredV1(func(_ context.Context, _ *larkim.P2ChatAccessEventBotP2pChatEnteredV1) error {
		return nil
	})

	wsOpts := []larkws.ClientOption{
		larkws.WithEventHandler(eventDispatcher),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	}
	if domain := strings.TrimSpace(g.cfg.BaseDomain); domain != "" {
		wsOpts = append(wsOpts, larkws.WithDomain(domain))
	}
	wsClient := larkws.NewClient(g.cfg.AppID, g.cfg.AppSecret, wsOpts...)

	g.logger.Info("Lark gateway connecting (app_id=%s)...", g.cfg.AppID)
	errCh := make(chan error, 1)
	go func() { errCh <- wsClient.Start(ctx) }()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("lark websocket: %w", err)
		}
		return nil
	}
}

// handleMessage is the P2MessageReceiveV1 event handler. It makes no API
// calls and returns at once so the frame is acknowledged before the turn
// runs. Parent lookups happen in the pipeline.
func (g *Gateway) handleMessage(_ context.Context, event *larkim.P2MessageReceiveV1) error {
	msg, ok := g.parseInbound(event)
	if !ok {
		return nil
	}
	g.logger.Info("Lark message received: chat_id=%s msg_id=%s sender=%s group=%t len=%d", msg.ChatID, msg.MessageID, msg.SenderID, msg.IsGroup, len(msg.Text))
	if !g.sink.Submit(g.adapter, msg) {
		g.logger.Warn("Lark message %s dropped: pipeline is shutting down", msg.MessageID)
	}
	return nil
}

// parseInbound validates the event and maps it to an Inbound. It reports
// false for unsupported types, bot senders, empty content and re-deliveries.
func (g *Gateway) parseInbound(event *larkim.P2MessageReceiveV1) (chat.Inbound, bool) {
	if g.adapter == nil || event == nil || event.Event == nil || event.Event.Message == nil {
		return chat.Inbound{}, false
	}
	raw := event.Event.Message

	msgType := strings.ToLower(strings.TrimSpace(deref(raw.MessageType)))
	if msgType != "text" && msgType != "post" {
		return chat.Inbound{}, false
	}
	if isBotSender(event) {
		return chat.Inbound{}, false
	}
	text := extractContent(msgType, deref(raw.Content), raw.Mentions)
	if text == "" {
		return chat.Inbound{}, false
	}
	chatID := strings.TrimSpace(deref(raw.ChatId))
	if chatID == "" {
		g.logger.Warn("Lark message has empty chat_id; skipping")
		return chat.Inbound{}, false
	}
	messageID := strings.TrimSpace(deref(raw.MessageId))
	if g.isDuplicateMessage(messageID) {
		g.logger.Warn("Lark duplicate message skipped (WS re-delivery): msg_id=%s", messageID)
		return chat.Inbound{}, false
	}

	chatType := strings.ToLower(strings.TrimSpace(deref(raw.ChatType)))
	isGroup := chatType != "" && chatType != "p2p"
	msg := chat.Inbound{
		Platform:   chat.PlatformLark,
		ChatID:     chatID,
		MessageID:  messageID,
		SenderID:   extractSenderID(event),
		Text:       text,
		IsGroup:    isGroup,
		ReceivedAt: parseCreateTime(deref(raw.CreateTime), g.now),
	}
	if isGroup {
		msg.ParentID = strings.TrimSpace(deref(raw.ParentId))
	}
	return msg, true
}

func (g *Gateway) isDuplicateMessage(messageID string) bool {
	if messageID == "" {
		return false
	}
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	now := g.now()
	if ts, ok := g.dedupCache.Get(messageID); ok {
		if now.Sub(ts) <= messageDedupTTL {
			return true
		}
		g.dedupCache.Remove(messageID)
	}
	g.dedupCache.Add(messageID, now)
	return false
}

// extractSenderID prefers open_id and falls back to user_id then union_id.
func extractSenderID(event *larkim.P2MessageReceiveV1) string {
	if event.Event.Sender == nil || event.Event.Sender.SenderId == nil {
		return ""
	}
	ids := event.Event.Sender.SenderId
	for _, candidate := range []*string{ids.OpenId, ids.UserId, ids.UnionId} {
		if id := strings.TrimSpace(deref(candidate)); id != "" {
			return id
		}
	}
	return ""
}

func isBotSender(event *larkim.P2MessageReceiveV1) bool {
	if event.Event.Sender == nil {
		return false
	}
	return deref(event.Event.Sender.SenderType) == "app"
}

// parseCreateTime reads the millisecond epoch Lark puts in create_time.
func parseCreateTime(raw string, now func() time.Time) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms <= 0 {
		return now()
	}
	return time.UnixMilli(ms)
}
