package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type adapterCall struct {
	Method  string
	ReplyTo string
	Items   int
	Name    string
}

type fakeAdapter struct {
	mu        sync.Mutex
	calls     []adapterCall
	batchErrs []error
	failNames map[string]bool
}

func (f *fakeAdapter) Platform() chat.Platform { return chat.PlatformLark }

func (f *fakeAdapter) record(call adapterCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAdapter) SendText(_ context.Context, target chat.Target, text string) error {
	f.record(adapterCall{Method: "SendText", ReplyTo: target.ReplyTo, Name: text})
	return nil
}

func (f *fakeAdapter) SendImage(_ context.Context, target chat.Target, a chat.Artifact) error {
	f.record(adapterCall{Method: "SendImage", ReplyTo: target.ReplyTo, Name: a.Name})
	if f.failNames[a.Name] {
		return fmt.Errorf("upload %s failed", a.Name)
	}
	return nil
}

func (f *fakeAdapter) SendFile(_ context.Context, target chat.Target, a chat.Artifact) error {
	f.record(adapterCall{Method: "SendFile", ReplyTo: target.ReplyTo, Name: a.Name})
	if f.failNames[a.Name] {
		return fmt.Errorf("upload %s failed", a.Name)
	}
	return nil
}

func (f *fakeAdapter) SendBatch(_ context.Context, target chat.Target, items []chat.OutboundItem) error {
	f.record(adapterCall{Method: "SendBatch", ReplyTo: target.ReplyTo, Items: len(items)})
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batchErrs) == 0 {
		return nil
	}
	err := f.batchErrs[0]
	f.batchErrs = f.batchErrs[1:]
	return err
}

func images(n int) []chat.Artifact {
	out := make([]chat.Artifact, n)
	for i := range out {
		out[i] = chat.Artifact{Kind: chat.ArtifactImage, Name: fmt.Sprintf("img%d.png", i+1), URL: fmt.Sprintf("https://cdn.example.com/img%d.png", i+1)}
	}
	return out
}

func TestPlanFitsWithinCap(t *testing.T) {
	items := Plan("hello", images(4), 5)
	require.Len(t, items, 5)
	assert.Equal(t, chat.OutboundText, items[0].Kind)
	assert.Equal(t, "hello", items[0].Text)
	for _, item := range items[1:] {
		assert.Equal(t, chat.OutboundImage, item.Kind)
	}

	assert.Len(t, Plan("", images(5), 5), 5)
	assert.Empty(t, Plan("  ", nil, 5))
}

func TestPlanTextPlusSixImagesCollapsesOverflow(t *testing.T) {
	items := Plan("Your renders:", images(6), 5)
	require.Len(t, items, 5)
	for i := 0; i < 4; i++ {
		assert.Equal(t, chat.OutboundImage, items[i].Kind)
		assert.Equal(t, fmt.Sprintf("img%d.png", i+1), items[i].Artifact.Name)
	}
	last := items[4]
	assert.Equal(t, chat.OutboundText, last.Kind)
	assert.True(t, strings.HasPrefix(last.Text, "Your renders:"))
	assert.Contains(t, last.Text, "img5.png")
	assert.Contains(t, last.Text, "img6.png")
	assert.NotContains(t, last.Text, "img4.png")
	assert.Contains(t, last.Text, "https://cdn.example.com/img6.png")
}

func TestPlanFilesWithoutText(t *testing.T) {
	files := []chat.Artifact{
		{Kind: chat.ArtifactFile, Name: "a.pdf", Path: "/srv/nas/bot/a.pdf"},
		{Kind: chat.ArtifactFile, Name: "b.pdf", Path: "/srv/nas/bot/b.pdf"},
		{Kind: chat.ArtifactFile, Name: "c.pdf", Path: "/srv/nas/bot/c.pdf"},
	}
	items := Plan("", files, 2)
	require.Len(t, items, 2)
	assert.Equal(t, chat.OutboundFile, items[0].Kind)
	assert.Equal(t, "2 more attachment(s):\n- b.pdf: /srv/nas/bot/b.pdf\n- c.pdf: /srv/nas/bot/c.pdf", items[1].Text)
}

func TestPrepareAppendsExtraArtifacts(t *testing.T) {
	d := NewDispatcher(5, testSandbox, nil)
	parsed, items := d.Prepare(`see [FILE_MESSAGE:{"type":"image","url":"https://x.example.com/a.png"}]`,
		chat.Artifact{Kind: chat.ArtifactImage, Name: "fallback.png", Data: []byte{1}, Backend: "fallback:seedream"})
	require.Len(t, parsed.Artifacts, 2)
	require.Len(t, items, 3)
	assert.Equal(t, "fallback.png", items[2].Artifact.Name)
}

func TestDeliverPrimaryBatch(t *testing.T) {
	adapter := &fakeAdapter{}
	d := NewDispatcher(5, testSandbox, nil)
	target := chat.Target{Platform: chat.PlatformLark, ChatID: "oc_1", ReplyTo: "om_in"}

	require.NoError(t, d.Deliver(context.Background(), adapter, target, Plan("hi", nil, 5)))
	require.Len(t, adapter.calls, 1)
	assert.Equal(t, "om_in", adapter.calls[0].ReplyTo)
}

func TestDeliverRetriesViaPushOnce(t *testing.T) {
	adapter := &fakeAdapter{batchErrs: []error{errors.New("reply handle expired")}}
	d := NewDispatcher(5, testSandbox, nil)
	target := chat.Target{Platform: chat.PlatformLark, ChatID: "oc_1", ReplyTo: "om_in"}

	require.NoError(t, d.Deliver(context.Background(), adapter, target, Plan("hi", images(1), 5)))
	require.Len(t, adapter.calls, 2)
	assert.Equal(t, "om_in", adapter.calls[0].ReplyTo)
	assert.Equal(t, "", adapter.calls[1].ReplyTo)
}

func TestDeliverContinuesPastItemFailures(t *testing.T) {
	adapter := &fakeAdapter{
		batchErrs: []error{errors.New("stale"), errors.New("still broken")},
		failNames: map[string]bool{"img2.png": true},
	}
	d := NewDispatcher(5, testSandbox, nil)
	target := chat.Target{Platform: chat.PlatformLark, ChatID: "oc_1", ReplyTo: "om_in"}

	err := d.Deliver(context.Background(), adapter, target, Plan("hi", images(3), 5))
	require.Error(t, err)
	assert.True(t, errors.Is(err, boterrors.ErrDeliveryFailed))
	var failed *boterrors.DeliveryFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, 3, failed.Sent)
	assert.Equal(t, 1, failed.Failed)

	var methods []string
	for _, c := range adapter.calls[2:] {
		methods = append(methods, c.Method+":"+c.Name)
		assert.Empty(t, c.ReplyTo)
	}
	assert.Equal(t, []string{"SendText:hi", "SendImage:img1.png", "SendImage:img2.png", "SendImage:img3.png"}, methods)
}

func TestDeliverWithoutAdapter(t *testing.T) {
	d := NewDispatcher(0, Sandbox{}, nil)
	err := d.Deliver(context.Background(), nil, chat.Target{}, Plan("hi", nil, 5))
	assert.ErrorIs(t, err, boterrors.ErrDeliveryFailed)
	assert.NoError(t, d.Deliver(context.Background(), nil, chat.Target{}, nil))
}
