package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/storage/storetest"
)

func TestConversationMemoryStore(t *testing.T) {
	storetest.RunConversationStore(t, NewConversationMemoryStore())
}

func TestConversationFileStorePersists(t *testing.T) {
	dir := t.TempDir()
	store, err := NewConversationFileStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	storetest.RunConversationStore(t, store)

	reopened, err := NewConversationFileStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	key := chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_suite_" + t.Name()}
	msgs, err := reopened.ListMessages(context.Background(), key, nil, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 5 {
		t.Fatalf("expected 5 persisted messages, got %d", len(msgs))
	}
}

func TestBindingMemoryStore(t *testing.T) {
	storetest.RunBindingStore(t, NewBindingMemoryStore())
}

func TestBindingFileStore(t *testing.T) {
	store, err := NewBindingFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	storetest.RunBindingStore(t, store)
}

func TestGroupPolicyStores(t *testing.T) {
	storetest.RunGroupPolicyStore(t, NewGroupPolicyMemoryStore())

	fileStore, err := NewGroupPolicyFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	storetest.RunGroupPolicyStore(t, fileStore)
}

func TestFileStoresRequireDir(t *testing.T) {
	if _, err := NewConversationFileStore("  "); err == nil {
		t.Fatal("expected error for empty dir")
	}
	if _, err := NewBindingFileStore(""); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestStaticAccountDirectory(t *testing.T) {
	dir := NewStaticAccountDirectory([]chat.Account{
		{ID: " acct-1 ", Role: "member"},
		{ID: ""},
	})
	account, err := dir.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if account.Role != "member" {
		t.Fatalf("unexpected role %q", account.Role)
	}
	if _, err := dir.GetAccount(context.Background(), "ghost"); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuditMemoryStoreEvictsOldest(t *testing.T) {
	store, err := NewAuditMemoryStore(2)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, recID := range []string{"inv-1", "inv-2", "inv-3"} {
		if err := store.AppendInvocation(ctx, chat.InvocationRecord{ID: recID, CreatedAt: base.Add(time.Duration(i) * time.Second)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recent := store.Recent(0)
	if len(recent) != 2 || recent[0].ID != "inv-3" || recent[1].ID != "inv-2" {
		t.Fatalf("unexpected records: %+v", recent)
	}
	if err := store.AppendInvocation(ctx, chat.InvocationRecord{}); err == nil {
		t.Fatal("expected error for record without id")
	}
}
