package wechat

// Config configures the WeChat gateway.
type Config struct {
	Enabled bool
	// LoginMode is "desktop" (default) or "normal".
	LoginMode string
	// HotLoginStorage enables hot login when set to a file path.
	HotLoginStorage string
}
