package id

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy selects the algorithm behind generated identifiers. Both are
// time ordered, so ids sort by creation.
type Strategy int32

const (
	StrategyKSUID Strategy = iota
	StrategyUUIDv7
)

var strategy atomic.Int32

// ParseStrategy maps a config value ("", "ksuid", "uuidv7") to a Strategy.
func ParseStrategy(raw string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "ksuid":
		return StrategyKSUID, nil
	case "uuidv7", "uuid":
		return StrategyUUIDv7, nil
	default:
		return StrategyKSUID, fmt.Errorf("unknown id strategy %q", raw)
	}
}

// SetStrategy switches the process-wide strategy.
func SetStrategy(s Strategy) {
	strategy.Store(int32(s))
}

func NewConversationID() string { return prefixed("conv") }

func NewInvocationID() string { return prefixed("inv") }

// NewLogID correlates the log lines of one turn.
func NewLogID() string { return prefixed("log") }

// NewRawID returns an unprefixed id for document keys.
func NewRawID() string {
	return newBody()
}

func prefixed(prefix string) string {
	return prefix + "-" + newBody()
}

func newBody() string {
	if Strategy(strategy.Load()) == StrategyUUIDv7 {
		if v7, err := uuid.NewV7(); err == nil {
			return v7.String()
		}
	}
	return ksuid.New().String()
}
