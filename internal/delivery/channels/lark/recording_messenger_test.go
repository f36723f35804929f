package lark

import (
	"context"
	"fmt"
	"sync"
)

// MessengerCall records one LarkMessenger invocation.
type MessengerCall struct {
	Method    string
	ChatID    string
	ReplyTo   string
	MessageID string
	MsgType   string
	Content   string
	FileName  string
	FileType  string
}

// RecordingMessenger is an in-memory LarkMessenger for tests.
type RecordingMessenger struct {
	mu      sync.Mutex
	calls   []MessengerCall
	nextID  int
	fail    map[string]error
	senders map[string][2]string
}

func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{fail: map[string]error{}, senders: map[string][2]string{}}
}

// FailOn makes every call to method return err.
func (r *RecordingMessenger) FailOn(method string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[method] = err
}

// SetSender registers the sender returned by MessageSender for messageID.
func (r *RecordingMessenger) SetSender(messageID, senderType, senderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[messageID] = [2]string{senderType, senderID}
}

func (r *RecordingMessenger) record(call MessengerCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
	return r.fail[call.Method]
}

func (r *RecordingMessenger) newID(prefix string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	return fmt.Sprintf("%s_%d", prefix, r.nextID)
}

func (r *RecordingMessenger) Calls() []MessengerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MessengerCall(nil), r.calls...)
}

func (r *RecordingMessenger) CallsByMethod(method string) []MessengerCall {
	var out []MessengerCall
	for _, call := range r.Calls() {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

func (r *RecordingMessenger) SendMessage(_ context.Context, chatID, msgType, content string) (string, error) {
	if err := r.record(MessengerCall{Method: "SendMessage", ChatID: chatID, MsgType: msgType, Content: content}); err != nil {
		return "", err
	}
	return r.newID("om"), nil
}

func (r *RecordingMessenger) ReplyMessage(_ context.Context, replyToID, msgType, content string) (string, error) {
	if err := r.record(MessengerCall{Method: "ReplyMessage", ReplyTo: replyToID, MsgType: msgType, Content: content}); err != nil {
		return "", err
	}
	return r.newID("om"), nil
}

func (r *RecordingMessenger) UpdateMessage(_ context.Context, messageID, msgType, content string) error {
	return r.record(MessengerCall{Method: "UpdateMessage", MessageID: messageID, MsgType: msgType, Content: content})
}

func (r *RecordingMessenger) DeleteMessage(_ context.Context, messageID string) error {
	return r.record(MessengerCall{Method: "DeleteMessage", MessageID: messageID})
}

func (r *RecordingMessenger) UploadImage(_ context.Context, payload []byte) (string, error) {
	if err := r.record(MessengerCall{Method: "UploadImage", Content: string(payload)}); err != nil {
		return "", err
	}
	return r.newID("img"), nil
}

func (r *RecordingMessenger) UploadFile(_ context.Context, payload []byte, fileName, fileType string) (string, error) {
	if err := r.record(MessengerCall{Method: "UploadFile", Content: string(payload), FileName: fileName, FileType: fileType}); err != nil {
		return "", err
	}
	return r.newID("file"), nil
}

func (r *RecordingMessenger) MessageSender(_ context.Context, messageID string) (string, string, error) {
	if err := r.record(MessengerCall{Method: "MessageSender", MessageID: messageID}); err != nil {
		return "", "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sender := r.senders[messageID]
	return sender[0], sender[1], nil
}
