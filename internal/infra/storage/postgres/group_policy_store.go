package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"opsbot/internal/domain/chat"
)

// GroupPolicyStore persists group opt-in flags in Postgres.
type GroupPolicyStore struct {
	db DB
}

// NewGroupPolicyStore creates a Postgres-backed group policy store.
func NewGroupPolicyStore(db DB) *GroupPolicyStore {
	return &GroupPolicyStore{db: db}
}

func (s *GroupPolicyStore) IsGroupEnabled(ctx context.Context, platform chat.Platform, groupID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRow(ctx, `
SELECT enabled FROM `+groupPoliciesTable+`
WHERE platform = $1 AND group_id = $2
`, string(platform), strings.TrimSpace(groupID)).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get group policy: %w", err)
	}
	return enabled, nil
}

func (s *GroupPolicyStore) SetGroupEnabled(ctx context.Context, platform chat.Platform, groupID string, enabled bool) error {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return fmt.Errorf("group id is required")
	}
	_, err := s.db.Exec(ctx, `
INSERT INTO `+groupPoliciesTable+` (platform, group_id, enabled, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (platform, group_id)
DO UPDATE SET enabled = EXCLUDED.enabled,
              updated_at = EXCLUDED.updated_at
`, string(platform), groupID, enabled)
	if err != nil {
		return fmt.Errorf("save group policy: %w", err)
	}
	return nil
}

var _ chat.GroupPolicyStore = (*GroupPolicyStore)(nil)
