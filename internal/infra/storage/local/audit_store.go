package local

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"opsbot/internal/domain/chat"
)

const defaultAuditCapacity = 2048

// AuditStore keeps the most recent invocation records in memory.
type AuditStore struct {
	records *lru.Cache[string, chat.InvocationRecord]
}

// NewAuditMemoryStore creates an audit store retaining up to capacity records.
func NewAuditMemoryStore(capacity int) (*AuditStore, error) {
	if capacity <= 0 {
		capacity = defaultAuditCapacity
	}
	cache, err := lru.New[string, chat.InvocationRecord](capacity)
	if err != nil {
		return nil, fmt.Errorf("create audit cache: %w", err)
	}
	return &AuditStore{records: cache}, nil
}

func (s *AuditStore) AppendInvocation(ctx context.Context, rec chat.InvocationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return fmt.Errorf("invocation record id is required")
	}
	s.records.Add(rec.ID, rec)
	return nil
}

// Recent returns retained records, newest first.
func (s *AuditStore) Recent(limit int) []chat.InvocationRecord {
	keys := s.records.Keys()
	out := make([]chat.InvocationRecord, 0, len(keys))
	for _, key := range keys {
		if rec, ok := s.records.Peek(key); ok {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

var _ chat.AuditStore = (*AuditStore)(nil)
