package lark

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
)

// LarkMessenger is the subset of the Lark IM API the gateway uses.
type LarkMessenger interface {
	SendMessage(ctx context.Context, chatID, msgType, content string) (string, error)
	ReplyMessage(ctx context.Context, replyToID, msgType, content string) (string, error)
	UpdateMessage(ctx context.Context, messageID, msgType, content string) error
	DeleteMessage(ctx context.Context, messageID string) error
	UploadImage(ctx context.Context, payload []byte) (string, error)
	UploadFile(ctx context.Context, payload []byte, fileName, fileType string) (string, error)
	// MessageSender returns the sender type ("app" or "user") and sender id
	// of an existing message.
	MessageSender(ctx context.Context, messageID string) (string, string, error)
}

type sdkMessenger struct {
	client *lark.Client
}

func newSDKMessenger(client *lark.Client) *sdkMessenger {
	return &sdkMessenger{client: client}
}

func (m *sdkMessenger) SendMessage(ctx context.Context, chatID, msgType, content string) (string, error) {
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(msgType).
			Content(content).
			Build()).
		Build()
	resp, err := m.client.Im.Message.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark create message: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark create message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return "", nil
	}
	return deref(resp.Data.MessageId), nil
}

func (m *sdkMessenger) ReplyMessage(ctx context.Context, replyToID, msgType, content string) (string, error) {
	req := larkim.NewReplyMessageReqBuilder().
		MessageId(replyToID).
		Body(larkim.NewReplyMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Build()).
		Build()
	resp, err := m.client.Im.Message.Reply(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark reply message: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark reply message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil {
		return "", nil
	}
	return deref(resp.Data.MessageId), nil
}

func (m *sdkMessenger) UpdateMessage(ctx context.Context, messageID, msgType, content string) error {
	req := larkim.NewUpdateMessageReqBuilder().
		MessageId(messageID).
		Body(larkim.NewUpdateMessageReqBodyBuilder().
			MsgType(msgType).
			Content(content).
			Build()).
		Build()
	resp, err := m.client.Im.Message.Update(ctx, req)
	if err != nil {
		return fmt.Errorf("lark update message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark update message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func (m *sdkMessenger) DeleteMessage(ctx context.Context, messageID string) error {
	req := larkim.NewDeleteMessageReqBuilder().MessageId(messageID).Build()
	resp, err := m.client.Im.Message.Delete(ctx, req)
	if err != nil {
		return fmt.Errorf("lark delete message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark delete message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

func (m *sdkMessenger) UploadImage(ctx context.Context, payload []byte) (string, error) {
	req := larkim.NewCreateImageReqBuilder().
		Body(larkim.NewCreateImageReqBodyBuilder().
			ImageType(larkim.ImageTypeMessage).
			Image(bytes.NewReader(payload)).
			Build()).
		Build()
	resp, err := m.client.Im.Image.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark upload image: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark upload image: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || deref(resp.Data.ImageKey) == "" {
		return "", fmt.Errorf("lark upload image: empty image_key")
	}
	return deref(resp.Data.ImageKey), nil
}

func (m *sdkMessenger) UploadFile(ctx context.Context, payload []byte, fileName, fileType string) (string, error) {
	req := larkim.NewCreateFileReqBuilder().
		Body(larkim.NewCreateFileReqBodyBuilder().
			FileType(fileType).
			FileName(fileName).
			File(bytes.NewReader(payload)).
			Build()).
		Build()
	resp, err := m.client.Im.File.Create(ctx, req)
	if err != nil {
		return "", fmt.Errorf("lark upload file: %w", err)
	}
	if !resp.Success() {
		return "", fmt.Errorf("lark upload file: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || deref(resp.Data.FileKey) == "" {
		return "", fmt.Errorf("lark upload file: empty file_key")
	}
	return deref(resp.Data.FileKey), nil
}

func (m *sdkMessenger) MessageSender(ctx context.Context, messageID string) (string, string, error) {
	req := larkim.NewGetMessageReqBuilder().MessageId(messageID).Build()
	resp, err := m.client.Im.Message.Get(ctx, req)
	if err != nil {
		return "", "", fmt.Errorf("lark get message: %w", err)
	}
	if !resp.Success() {
		return "", "", fmt.Errorf("lark get message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	if resp.Data == nil || len(resp.Data.Items) == 0 || resp.Data.Items[0] == nil || resp.Data.Items[0].Sender == nil {
		return "", "", nil
	}
	sender := resp.Data.Items[0].Sender
	return strings.TrimSpace(deref(sender.SenderType)), strings.TrimSpace(deref(sender.Id)), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
