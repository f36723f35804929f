package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URLValidationOptions controls which artifact hosts may be fetched.
type URLValidationOptions struct {
	AllowLocalhost       bool
	AllowPrivateNetworks bool
	// Resolver looks hostnames up so names pointing at private addresses
	// are refused too. Nil uses net.DefaultResolver.
	Resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}
}

// DefaultURLValidationOptions refuses loopback and private targets.
func DefaultURLValidationOptions() URLValidationOptions {
	return URLValidationOptions{}
}

// ValidateOutboundURL parses raw as an http(s) URL and rejects hosts that
// are, or resolve to, loopback or private addresses unless allowed.
func ValidateOutboundURL(ctx context.Context, raw string, opts URLValidationOptions) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("url is required")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme: %s", scheme)
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return nil, fmt.Errorf("url host is required")
	}
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		if !opts.AllowLocalhost {
			return nil, fmt.Errorf("local urls are not allowed")
		}
		return parsed, nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if err := checkIP(ip, opts); err != nil {
			return nil, err
		}
		return parsed, nil
	}
	if opts.AllowLocalhost && opts.AllowPrivateNetworks {
		return parsed, nil
	}

	resolver := opts.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if err := checkIP(addr.IP, opts); err != nil {
			return nil, fmt.Errorf("%s: %w", host, err)
		}
	}
	return parsed, nil
}

func checkIP(ip net.IP, opts URLValidationOptions) error {
	if ip.IsLoopback() || ip.IsUnspecified() {
		if !opts.AllowLocalhost {
			return fmt.Errorf("local urls are not allowed")
		}
		return nil
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		if !opts.AllowPrivateNetworks {
			return fmt.Errorf("private network urls are not allowed")
		}
	}
	return nil
}
