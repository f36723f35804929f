package local

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/filestore"
)

// GroupPolicyStore is a local (memory/file) chat.GroupPolicyStore.
type GroupPolicyStore struct {
	coll *filestore.Collection[string, bool]
}

// NewGroupPolicyMemoryStore creates an in-memory group policy store.
func NewGroupPolicyMemoryStore() *GroupPolicyStore {
	return &GroupPolicyStore{coll: filestore.NewCollection[string, bool](filestore.CollectionConfig{})}
}

// NewGroupPolicyFileStore creates a file-backed group policy store under dir/group_policies.json.
func NewGroupPolicyFileStore(dir string) (*GroupPolicyStore, error) {
	trimmedDir := strings.TrimSpace(dir)
	if trimmedDir == "" {
		return nil, fmt.Errorf("group policy file store dir is required")
	}
	coll := filestore.NewCollection[string, bool](filestore.CollectionConfig{
		FilePath: filepath.Join(trimmedDir, "group_policies.json"),
	})
	if err := coll.Load(); err != nil {
		return nil, fmt.Errorf("load group policies: %w", err)
	}
	return &GroupPolicyStore{coll: coll}, nil
}

func groupKey(platform chat.Platform, groupID string) string {
	return string(platform) + "::" + strings.TrimSpace(groupID)
}

func (s *GroupPolicyStore) IsGroupEnabled(ctx context.Context, platform chat.Platform, groupID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	enabled, _ := s.coll.Get(groupKey(platform, groupID))
	return enabled, nil
}

func (s *GroupPolicyStore) SetGroupEnabled(ctx context.Context, platform chat.Platform, groupID string, enabled bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(groupID) == "" {
		return fmt.Errorf("group id is required")
	}
	return s.coll.Put(groupKey(platform, groupID), enabled)
}

var _ chat.GroupPolicyStore = (*GroupPolicyStore)(nil)
