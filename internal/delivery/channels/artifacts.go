// Package channels holds helpers shared by the chat platform adapters.
package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"opsbot/internal/app/dispatch"
	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/httpclient"
	"opsbot/internal/shared/logging"
)

// ArtifactLoader reads artifact payloads for platforms that need the bytes
// uploaded before they can be sent.
type ArtifactLoader struct {
	client   *http.Client
	sandbox  dispatch.Sandbox
	maxBytes int64
	urlOpts  httpclient.URLValidationOptions
}

type LoaderOption func(*ArtifactLoader)

func WithHTTPClient(client *http.Client) LoaderOption {
	return func(l *ArtifactLoader) {
		if client != nil {
			l.client = client
		}
	}
}

func WithMaxBytes(n int64) LoaderOption {
	return func(l *ArtifactLoader) {
		if n > 0 {
			l.maxBytes = n
		}
	}
}

func WithURLValidation(opts httpclient.URLValidationOptions) LoaderOption {
	return func(l *ArtifactLoader) { l.urlOpts = opts }
}

func NewArtifactLoader(sandbox dispatch.Sandbox, logger logging.Logger, opts ...LoaderOption) *ArtifactLoader {
	l := &ArtifactLoader{
		sandbox:  sandbox,
		maxBytes: httpclient.DefaultMaxDownloadBytes,
		urlOpts:  httpclient.DefaultURLValidationOptions(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = httpclient.New(time.Minute, logging.OrNop(logger))
	}
	return l
}

// Load returns the artifact bytes and a file name for the upload. Inline
// data wins over a URL, which wins over a sandboxed path.
func (l *ArtifactLoader) Load(ctx context.Context, a chat.Artifact) ([]byte, string, error) {
	name := uploadName(a)
	switch {
	case len(a.Data) > 0:
		return a.Data, name, nil
	case strings.TrimSpace(a.URL) != "":
		data, _, err := httpclient.Download(ctx, l.client, a.URL, l.maxBytes, l.urlOpts)
		if err != nil {
			return nil, "", err
		}
		return data, name, nil
	case strings.TrimSpace(a.Path) != "":
		clean, ok := l.sandbox.Contains(a.Path)
		if !ok {
			return nil, "", fmt.Errorf("path %s is outside the artifact sandbox", a.Path)
		}
		data, err := l.readFile(clean)
		if err != nil {
			return nil, "", err
		}
		return data, name, nil
	default:
		return nil, "", errors.New("artifact has no payload")
	}
}

func uploadName(a chat.Artifact) string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	loc := a.Location()
	if u, err := url.Parse(loc); err == nil && u.Path != "" {
		loc = u.Path
	}
	if base := path.Base(loc); base != "." && base != "/" {
		return base
	}
	if a.Kind == chat.ArtifactImage {
		return "image.png"
	}
	return "attachment"
}

func (l *ArtifactLoader) readFile(file string) ([]byte, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, l.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, fmt.Errorf("artifact %s exceeds %d bytes", filepath.Base(file), l.maxBytes)
	}
	return data, nil
}
