package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DefaultMaxDownloadBytes caps artifact downloads.
const DefaultMaxDownloadBytes = 20 * 1024 * 1024

// Download fetches rawURL after validating it as an outbound target and
// returns the body with its content type. Bodies above maxBytes are
// rejected.
func Download(ctx context.Context, client *http.Client, rawURL string, maxBytes int64, opts URLValidationOptions) ([]byte, string, error) {
	parsed, err := ValidateOutboundURL(ctx, rawURL, opts)
	if err != nil {
		return nil, "", err
	}
	if client == nil {
		client = New(0, nil)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", parsed.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download %s: status %d", parsed.Host, resp.StatusCode)
	}
	if resp.ContentLength > maxBytes {
		return nil, "", fmt.Errorf("download %s: %d bytes exceeds limit %d", parsed.Host, resp.ContentLength, maxBytes)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", parsed.Host, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, "", fmt.Errorf("download %s: body exceeds limit %d", parsed.Host, maxBytes)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
