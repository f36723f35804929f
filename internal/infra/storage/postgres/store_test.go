package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"opsbot/internal/domain/chat"
)

var (
	fixedNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	alice    = chat.Identity{Platform: chat.PlatformLark, UserID: "ou_alice"}
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to build pgx mock: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	pool := newMock(t)
	for range schemaStatements {
		pool.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	if err := EnsureSchema(context.Background(), pool); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIssueCodeInvalidatesPriorCodes(t *testing.T) {
	pool := newMock(t)
	store := NewBindingStore(pool)
	code := chat.BindingCode{
		Code:      "482913",
		AccountID: "acct-1",
		Platform:  chat.PlatformLark,
		CreatedAt: fixedNow,
		ExpiresAt: fixedNow.Add(5 * time.Minute),
	}

	pool.ExpectBegin()
	pool.ExpectExec("UPDATE bot_binding_codes").WithArgs("acct-1", fixedNow).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec("INSERT INTO bot_binding_codes").
		WithArgs("482913", "acct-1", "lark", fixedNow, fixedNow.Add(5*time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	if err := store.IssueCode(context.Background(), code, fixedNow); err != nil {
		t.Fatalf("issue code: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeCodeAndBindCommits(t *testing.T) {
	pool := newMock(t)
	store := NewBindingStore(pool)

	pool.ExpectBegin()
	pool.ExpectExec("UPDATE bot_binding_codes").
		WithArgs("482913", "acct-1", fixedNow, "lark:ou_alice").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectExec("INSERT INTO bot_bindings").
		WithArgs("lark", "ou_alice", "acct-1", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectCommit()

	err := store.ConsumeCodeAndBind(context.Background(), "482913", chat.Binding{Identity: alice, AccountID: "acct-1"}, fixedNow)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeCodeAndBindFailsClosedOnUsedCode(t *testing.T) {
	pool := newMock(t)
	store := NewBindingStore(pool)

	pool.ExpectBegin()
	pool.ExpectExec("UPDATE bot_binding_codes").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	pool.ExpectRollback()

	err := store.ConsumeCodeAndBind(context.Background(), "482913", chat.Binding{Identity: alice, AccountID: "acct-1"}, fixedNow)
	if !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestConsumeCodeAndBindRollsBackOnConflict(t *testing.T) {
	cases := map[string]func(pgxmock.PgxPoolIface){
		"identity bound elsewhere": func(pool pgxmock.PgxPoolIface) {
			pool.ExpectExec("INSERT INTO bot_bindings").WillReturnResult(pgxmock.NewResult("INSERT", 0))
		},
		"account bound on platform": func(pool pgxmock.PgxPoolIface) {
			pool.ExpectExec("INSERT INTO bot_bindings").WillReturnError(&pgconn.PgError{Code: "23505"})
		},
	}
	for name, expectInsert := range cases {
		t.Run(name, func(t *testing.T) {
			pool := newMock(t)
			store := NewBindingStore(pool)

			pool.ExpectBegin()
			pool.ExpectExec("UPDATE bot_binding_codes").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
			expectInsert(pool)
			pool.ExpectRollback()

			err := store.ConsumeCodeAndBind(context.Background(), "482913", chat.Binding{Identity: alice, AccountID: "acct-1"}, fixedNow)
			if !errors.Is(err, chat.ErrBindingExists) {
				t.Fatalf("expected ErrBindingExists, got %v", err)
			}
			if err := pool.ExpectationsWereMet(); err != nil {
				t.Fatalf("unmet expectations: %v", err)
			}
		})
	}
}

func TestFindActiveCodeNotFound(t *testing.T) {
	pool := newMock(t)
	store := NewBindingStore(pool)

	pool.ExpectQuery("SELECT code, account_id").WithArgs("000000", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"code", "account_id", "platform", "created_at", "expires_at"}))

	if _, err := store.FindActiveCode(context.Background(), "000000", fixedNow); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindActiveCodeScansRow(t *testing.T) {
	pool := newMock(t)
	store := NewBindingStore(pool)

	pool.ExpectQuery("SELECT code, account_id").WithArgs("482913", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"code", "account_id", "platform", "created_at", "expires_at"}).
			AddRow("482913", "acct-1", "lark", fixedNow, fixedNow.Add(5*time.Minute)))

	code, err := store.FindActiveCode(context.Background(), "482913", fixedNow)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if code.AccountID != "acct-1" || code.Platform != chat.PlatformLark {
		t.Fatalf("unexpected code %+v", code)
	}
}

func TestAppendMessagesInsertsInOrder(t *testing.T) {
	pool := newMock(t)
	store := NewConversationStore(pool)
	store.now = func() time.Time { return fixedNow }
	key := chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_1"}

	pool.ExpectBegin()
	pool.ExpectQuery("SELECT id FROM bot_conversations").WithArgs("lark", "oc_1").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("conv-1"))
	pool.ExpectExec("INSERT INTO bot_messages").WithArgs("conv-1", "user", "hello", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("INSERT INTO bot_messages").WithArgs("conv-1", "assistant", "hi", fixedNow.Add(time.Second)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	pool.ExpectExec("UPDATE bot_conversations").WithArgs("conv-1", fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	pool.ExpectCommit()

	err := store.AppendMessages(context.Background(), key,
		chat.Message{Role: chat.RoleUser, Content: "hello", CreatedAt: fixedNow},
		chat.Message{Role: chat.RoleAssistant, Content: "hi", CreatedAt: fixedNow.Add(time.Second)},
	)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReplaceMessagesUnknownConversation(t *testing.T) {
	pool := newMock(t)
	store := NewConversationStore(pool)
	key := chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "missing"}

	pool.ExpectBegin()
	pool.ExpectQuery("SELECT id FROM bot_conversations").WillReturnRows(pgxmock.NewRows([]string{"id"}))
	pool.ExpectRollback()

	if err := store.ReplaceMessages(context.Background(), key, nil, nil); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResetConversationRequiresRow(t *testing.T) {
	pool := newMock(t)
	store := NewConversationStore(pool)
	store.now = func() time.Time { return fixedNow }
	key := chat.ConversationKey{Platform: chat.PlatformWeChat, ThreadID: "grp"}

	pool.ExpectExec("UPDATE bot_conversations").WithArgs("wechat", "grp", fixedNow, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	if err := store.ResetConversation(context.Background(), key, fixedNow); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSetGroupEnabledUpserts(t *testing.T) {
	pool := newMock(t)
	store := NewGroupPolicyStore(pool)

	pool.ExpectExec("INSERT INTO bot_group_policies").WithArgs("lark", "oc_ops", true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.SetGroupEnabled(context.Background(), chat.PlatformLark, " oc_ops ", true); err != nil {
		t.Fatalf("set group: %v", err)
	}
	if err := store.SetGroupEnabled(context.Background(), chat.PlatformLark, "", true); err == nil {
		t.Fatal("expected error for empty group id")
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAppendInvocationWritesRow(t *testing.T) {
	pool := newMock(t)
	store := NewAuditStore(pool)

	rec := chat.InvocationRecord{
		ID:           "inv-1",
		Conversation: chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_1"},
		AccountID:    "acct-1",
		Model:        "sonnet",
		Prompt:       "disk usage?",
		Tools:        []string{"Bash"},
		Success:      true,
		Context:      chat.ContextPersonal,
		ToolCalls:    []chat.ToolCall{{ID: "tu_1", Name: "Bash", Duration: 1500 * time.Millisecond}},
		Duration:     2 * time.Second,
		CreatedAt:    fixedNow,
	}

	args := make([]any, 21)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	args[0] = "inv-1"
	args[11] = int64(2000)
	pool.ExpectExec("INSERT INTO bot_invocations").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))

	if err := store.AppendInvocation(context.Background(), rec); err != nil {
		t.Fatalf("append invocation: %v", err)
	}
	if err := pool.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetAccountDecodesPermissions(t *testing.T) {
	pool := newMock(t)
	dir := NewAccountDirectory(pool)

	pool.ExpectQuery("SELECT id, role, permissions").WithArgs("acct-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "role", "permissions"}).
			AddRow("acct-1", "member", []byte(`{"Bash":true,"Write":false}`)))

	account, err := dir.GetAccount(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !account.Permissions["Bash"] || account.Permissions["Write"] {
		t.Fatalf("unexpected permissions %+v", account.Permissions)
	}
}
