// Package storetest holds behaviour checks shared by every store implementation.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsbot/internal/domain/chat"
)

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

// RunConversationStore exercises history, reset and replace semantics.
func RunConversationStore(t *testing.T, store chat.ConversationStore) {
	t.Helper()
	ctx := context.Background()
	key := chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_suite_" + t.Name()}

	if _, err := store.GetConversation(ctx, key); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before creation, got %v", err)
	}

	conv, err := store.EnsureConversation(ctx, key, true)
	if err != nil {
		t.Fatalf("ensure conversation: %v", err)
	}
	if conv.ID == "" || !conv.IsGroup || conv.ResetAt != nil {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	again, err := store.EnsureConversation(ctx, key, true)
	if err != nil {
		t.Fatalf("ensure again: %v", err)
	}
	if again.ID != conv.ID {
		t.Fatalf("ensure must be idempotent: %s vs %s", again.ID, conv.ID)
	}

	if err := store.AppendMessages(ctx, key,
		chat.Message{Role: chat.RoleUser, Content: "m1", CreatedAt: at(1)},
		chat.Message{Role: chat.RoleAssistant, Content: "m2", CreatedAt: at(2)},
		chat.Message{Role: chat.RoleUser, Content: "m3", CreatedAt: at(3)},
	); err != nil {
		t.Fatalf("append: %v", err)
	}

	all, err := store.ListMessages(ctx, key, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	assertContents(t, all, "m1", "m2", "m3")

	recent, err := store.ListMessages(ctx, key, nil, 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	assertContents(t, recent, "m2", "m3")

	if err := store.ResetConversation(ctx, key, at(3)); err != nil {
		t.Fatalf("reset: %v", err)
	}
	conv, err = store.GetConversation(ctx, key)
	if err != nil {
		t.Fatalf("get after reset: %v", err)
	}
	if conv.ResetAt == nil || !conv.ResetAt.Equal(at(3)) {
		t.Fatalf("expected reset cursor at %v, got %v", at(3), conv.ResetAt)
	}
	active, err := store.ListMessages(ctx, key, conv.ResetAt, 0)
	if err != nil {
		t.Fatalf("list after reset: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected empty history after reset, got %d", len(active))
	}

	if err := store.AppendMessages(ctx, key,
		chat.Message{Role: chat.RoleUser, Content: "m4", CreatedAt: at(4)},
		chat.Message{Role: chat.RoleAssistant, Content: "m5", CreatedAt: at(5)},
	); err != nil {
		t.Fatalf("append after reset: %v", err)
	}

	replacement := []chat.Message{
		{Role: chat.RoleSummary, Content: chat.SummaryPrefix + "m4", CreatedAt: at(4)},
		{Role: chat.RoleAssistant, Content: "m5", CreatedAt: at(5)},
	}
	if err := store.ReplaceMessages(ctx, key, conv.ResetAt, replacement); err != nil {
		t.Fatalf("replace: %v", err)
	}
	active, err = store.ListMessages(ctx, key, conv.ResetAt, 0)
	if err != nil {
		t.Fatalf("list after replace: %v", err)
	}
	assertContents(t, active, chat.SummaryPrefix+"m4", "m5")
	if !active[0].IsSummary() {
		t.Fatalf("expected leading summary, got role %q", active[0].Role)
	}

	// Rows at or before the cursor survive compaction.
	all, err = store.ListMessages(ctx, key, nil, 0)
	if err != nil {
		t.Fatalf("list all after replace: %v", err)
	}
	assertContents(t, all, "m1", "m2", "m3", chat.SummaryPrefix+"m4", "m5")

	if err := store.SetConversationAccount(ctx, key, "acct-1"); err != nil {
		t.Fatalf("set account: %v", err)
	}
	conv, _ = store.GetConversation(ctx, key)
	if conv.AccountID != "acct-1" {
		t.Fatalf("expected account acct-1, got %q", conv.AccountID)
	}

	missing := chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "never"}
	if err := store.AppendMessages(ctx, missing, chat.Message{Role: chat.RoleUser, Content: "x", CreatedAt: at(1)}); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound appending to unknown conversation, got %v", err)
	}
}

// RunBindingStore exercises code issuance, consumption and binding uniqueness.
func RunBindingStore(t *testing.T, store chat.BindingStore) {
	t.Helper()
	ctx := context.Background()
	now := at(0)
	alice := chat.Identity{Platform: chat.PlatformLark, UserID: "ou_alice_" + t.Name()}
	bob := chat.Identity{Platform: chat.PlatformLark, UserID: "ou_bob_" + t.Name()}

	issue := func(code, account string, when time.Time) {
		t.Helper()
		if err := store.IssueCode(ctx, chat.BindingCode{
			Code:      code,
			AccountID: account,
			Platform:  chat.PlatformLark,
			CreatedAt: when,
			ExpiresAt: when.Add(5 * time.Minute),
		}, when); err != nil {
			t.Fatalf("issue %s: %v", code, err)
		}
	}

	issue("111111", "acct-a", now)
	issue("222222", "acct-a", now.Add(time.Minute))

	if _, err := store.FindActiveCode(ctx, "111111", now.Add(2*time.Minute)); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected superseded code to be inactive, got %v", err)
	}
	code, err := store.FindActiveCode(ctx, "222222", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if code.AccountID != "acct-a" {
		t.Fatalf("unexpected account %q", code.AccountID)
	}
	if _, err := store.FindActiveCode(ctx, "222222", now.Add(7*time.Minute)); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected expired code to be inactive, got %v", err)
	}

	bindAt := now.Add(2 * time.Minute)
	if err := store.ConsumeCodeAndBind(ctx, "222222", chat.Binding{Identity: alice, AccountID: "acct-a"}, bindAt); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := store.ConsumeCodeAndBind(ctx, "222222", chat.Binding{Identity: alice, AccountID: "acct-a"}, bindAt); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected consumed code to be rejected, got %v", err)
	}

	got, err := store.GetBindingByIdentity(ctx, alice)
	if err != nil {
		t.Fatalf("get by identity: %v", err)
	}
	if got.AccountID != "acct-a" {
		t.Fatalf("unexpected binding %+v", got)
	}
	got, err = store.GetBindingByAccount(ctx, "acct-a", chat.PlatformLark)
	if err != nil {
		t.Fatalf("get by account: %v", err)
	}
	if got.Identity != alice {
		t.Fatalf("unexpected identity %+v", got.Identity)
	}

	// Bob cannot take acct-a on the same platform and the code stays usable.
	issue("333333", "acct-a", bindAt)
	if err := store.ConsumeCodeAndBind(ctx, "333333", chat.Binding{Identity: bob, AccountID: "acct-a"}, bindAt); !errors.Is(err, chat.ErrBindingExists) {
		t.Fatalf("expected ErrBindingExists, got %v", err)
	}
	if _, err := store.FindActiveCode(ctx, "333333", bindAt); err != nil {
		t.Fatalf("conflict must not consume the code: %v", err)
	}
	if _, err := store.GetBindingByIdentity(ctx, bob); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected bob to remain unbound, got %v", err)
	}

	// Rebinding alice to the same account refreshes the row.
	if err := store.ConsumeCodeAndBind(ctx, "333333", chat.Binding{Identity: alice, AccountID: "acct-a"}, bindAt.Add(time.Second)); err != nil {
		t.Fatalf("rebind same account: %v", err)
	}
}

// RunGroupPolicyStore exercises the opt-in flag.
func RunGroupPolicyStore(t *testing.T, store chat.GroupPolicyStore) {
	t.Helper()
	ctx := context.Background()
	group := "oc_group_" + t.Name()

	enabled, err := store.IsGroupEnabled(ctx, chat.PlatformLark, group)
	if err != nil || enabled {
		t.Fatalf("expected unknown group to be disabled, got %v %v", enabled, err)
	}
	if err := store.SetGroupEnabled(ctx, chat.PlatformLark, group, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if enabled, _ := store.IsGroupEnabled(ctx, chat.PlatformLark, group); !enabled {
		t.Fatalf("expected group enabled")
	}
	if enabled, _ := store.IsGroupEnabled(ctx, chat.PlatformWeChat, group); enabled {
		t.Fatalf("policy must be scoped per platform")
	}
	if err := store.SetGroupEnabled(ctx, chat.PlatformLark, group, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if enabled, _ := store.IsGroupEnabled(ctx, chat.PlatformLark, group); enabled {
		t.Fatalf("expected group disabled")
	}
}

func assertContents(t *testing.T, msgs []chat.Message, want ...string) {
	t.Helper()
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d: %+v", len(want), len(msgs), msgs)
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Fatalf("message %d: expected %q, got %q", i, want[i], m.Content)
		}
	}
}
