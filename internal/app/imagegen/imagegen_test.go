package imagegen

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	name     string
	artifact chat.Artifact
	err      error
	block    bool
	calls    atomic.Int32
	prompt   string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Generate(ctx context.Context, prompt string) (chat.Artifact, error) {
	s.calls.Add(1)
	s.prompt = prompt
	if s.block {
		<-ctx.Done()
		return chat.Artifact{}, ctx.Err()
	}
	return s.artifact, s.err
}

func TestDetectFailures(t *testing.T) {
	calls := []chat.ToolCall{
		{ID: "1", Name: "Read", Input: `{"file":"a"}`, IsError: true},
		{ID: "2", Name: "text_to_image", Input: `{"prompt":"a red fox in snow","size":"1024x1024"}`, IsError: true, Output: "upstream overloaded"},
		{ID: "3", Name: "text_to_image", Input: `{"prompt":"fine"}`, Output: "ok"},
		{ID: "4", Name: "MCP__Image__generate_image", Input: `{"description":"city skyline"}`, Output: "request timed out"},
		{ID: "5", Name: "text_to_image", Input: `{"size":"small"}`, IsError: true},
		{ID: "6", Name: "text_to_image", Input: "a plain prompt", IsError: true},
	}
	failures := DetectFailures(calls, []string{"text_to_image", "mcp__image__generate_image"})
	require.Len(t, failures, 3)

	assert.Equal(t, "2", failures[0].Call.ID)
	assert.Equal(t, "a red fox in snow", failures[0].Prompt)
	assert.Equal(t, "upstream overloaded", failures[0].Reason)

	assert.Equal(t, "4", failures[1].Call.ID)
	assert.Equal(t, "city skyline", failures[1].Prompt)

	assert.Equal(t, "a plain prompt", failures[2].Prompt)
	assert.Equal(t, "image tool text_to_image failed", failures[2].Reason)

	assert.Empty(t, DetectFailures(calls, nil))
}

func TestDetectFailuresClipsReasonOnRuneBoundary(t *testing.T) {
	calls := []chat.ToolCall{{
		ID:      "1",
		Name:    "text_to_image",
		Input:   `{"prompt":"山水画"}`,
		IsError: true,
		Output:  "ab" + strings.Repeat("生成失败", 200),
	}}
	failures := DetectFailures(calls, []string{"text_to_image"})
	require.Len(t, failures, 1)
	assert.True(t, utf8.ValidString(failures[0].Reason))
	assert.LessOrEqual(t, len(failures[0].Reason), maxReasonBytes)
	assert.True(t, strings.HasPrefix(failures[0].Reason, "ab生成失败"))
}

func TestChainSuccessTagsArtifact(t *testing.T) {
	backend := &stubBackend{name: "seedream", artifact: chat.Artifact{URL: "https://ark.example.com/i.png"}}
	chain := NewChain(backend, time.Second, nil)

	artifact, used, err := chain.Generate(context.Background(), "a red fox", "overloaded")
	require.NoError(t, err)
	assert.Equal(t, "seedream", used)
	assert.Equal(t, "fallback:seedream", artifact.Backend)
	assert.Equal(t, chat.ArtifactImage, artifact.Kind)
	assert.NotEmpty(t, artifact.Name)
	assert.Equal(t, "a red fox", backend.prompt)
	assert.Contains(t, Notice(used), "seedream")
}

func TestChainCombinesBothReasons(t *testing.T) {
	backend := &stubBackend{name: "openai", err: errors.New("quota exceeded")}
	chain := NewChain(backend, time.Second, nil)

	artifact, used, err := chain.Generate(context.Background(), "a red fox", "overloaded")
	require.Error(t, err)
	assert.Equal(t, chat.Artifact{}, artifact)
	assert.Equal(t, "openai", used)
	assert.True(t, errors.Is(err, boterrors.ErrImageGenerationExhausted))
	assert.Contains(t, err.Error(), "overloaded")
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.EqualValues(t, 1, backend.calls.Load())
}

func TestChainTimesOut(t *testing.T) {
	backend := &stubBackend{name: "seedream", block: true}
	chain := NewChain(backend, 20*time.Millisecond, nil)

	_, _, err := chain.Generate(context.Background(), "a red fox", "tool did not complete")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out after 20ms")
	assert.Contains(t, err.Error(), "tool did not complete")
}

func TestChainRejectsEmptyResult(t *testing.T) {
	chain := NewChain(&stubBackend{name: "seedream"}, time.Second, nil)
	_, _, err := chain.Generate(context.Background(), "a red fox", "overloaded")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend returned no image")
}

func TestChainWithoutBackend(t *testing.T) {
	chain := NewChain(nil, 0, nil)
	assert.False(t, chain.Enabled())
	_, used, err := chain.Generate(context.Background(), "a red fox", "overloaded")
	assert.Empty(t, used)
	assert.ErrorIs(t, err, boterrors.ErrImageGenerationExhausted)
	assert.Contains(t, err.Error(), "overloaded")
}
