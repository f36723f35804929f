package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
)

// DefaultTimeout bounds the single fallback attempt.
const DefaultTimeout = 30 * time.Second

// BackendTagPrefix prefixes the backend tag of fallback artifacts.
const BackendTagPrefix = "fallback:"

// Backend is a secondary image generation provider.
type Backend interface {
	Name() string
	Generate(ctx context.Context, prompt string) (chat.Artifact, error)
}

// Chain retries a failed image generation once against the secondary
// backend.
type Chain struct {
	backend Backend
	timeout time.Duration
	logger  logging.Logger
}

func NewChain(backend Backend, timeout time.Duration, logger logging.Logger) *Chain {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Chain{backend: backend, timeout: timeout, logger: logging.OrNop(logger)}
}

// Enabled reports whether a secondary backend is configured.
func (c *Chain) Enabled() bool {
	return c != nil && c.backend != nil
}

// Generate makes exactly one attempt on the secondary backend. On success the
// artifact is tagged "fallback:<backend>" and the backend name is returned.
// On failure the error is an ImageGenerationExhaustedError naming both the
// primary and the secondary reason.
func (c *Chain) Generate(ctx context.Context, prompt string, primaryErr string) (chat.Artifact, string, error) {
	if !c.Enabled() {
		return chat.Artifact{}, "", &boterrors.ImageGenerationExhaustedError{
			PrimaryReason:  primaryErr,
			FallbackReason: "no fallback backend configured",
		}
	}
	name := c.backend.Name()
	exhausted := func(reason string) error {
		return &boterrors.ImageGenerationExhaustedError{
			PrimaryReason:  primaryErr,
			Backend:        name,
			FallbackReason: reason,
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return chat.Artifact{}, name, exhausted("empty prompt")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	started := time.Now()
	artifact, err := c.backend.Generate(attemptCtx, prompt)
	if err == nil && artifact.URL == "" && artifact.Path == "" && len(artifact.Data) == 0 {
		err = errors.New("backend returned no image")
	}
	if err != nil {
		reason := err.Error()
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s: %s", c.timeout, reason)
		}
		c.logger.Warn("image fallback via %s failed after %s: %s", name, time.Since(started), reason)
		return chat.Artifact{}, name, exhausted(reason)
	}

	artifact.Kind = chat.ArtifactImage
	artifact.Backend = BackendTagPrefix + name
	if strings.TrimSpace(artifact.Name) == "" {
		artifact.Name = fmt.Sprintf("%s-%d.png", name, started.Unix())
	}
	c.logger.Info("image fallback via %s succeeded in %s", name, time.Since(started))
	return artifact, name, nil
}

// Notice is the line appended to a reply that carries a fallback image.
func Notice(backend string) string {
	return fmt.Sprintf("(Image generated via fallback backend %s.)", backend)
}
