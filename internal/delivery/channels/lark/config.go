package lark

import "time"

const (
	messageDedupCacheSize = 2048
	messageDedupTTL       = 10 * time.Minute
	sentMessageCacheSize  = 4096
)

// Config configures the Lark gateway.
type Config struct {
	Enabled    bool
	AppID      string
	AppSecret  string
	BaseDomain string
}
