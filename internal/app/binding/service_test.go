package binding

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"opsbot/internal/domain/chat"
	"opsbot/internal/infra/storage/local"
	boterrors "opsbot/internal/shared/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *Service
	store  *local.BindingStore
	groups *local.GroupPolicyStore
	clock  *clock
}

func newFixture(t *testing.T, opts ...Option) fixture {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := local.NewBindingMemoryStore()
	groups := local.NewGroupPolicyMemoryStore()
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	return fixture{
		svc:    NewService(store, groups, nil, opts...),
		store:  store,
		groups: groups,
		clock:  clk,
	}
}

func larkUser(id string) chat.Identity {
	return chat.Identity{Platform: chat.PlatformLark, UserID: id}
}

func TestIssueCodeProducesSixDigitsWithFiveMinuteExpiry(t *testing.T) {
	f := newFixture(t)
	code, err := f.svc.IssueCode(context.Background(), "acct-1", chat.PlatformLark)
	require.NoError(t, err)

	normalized, ok := NormalizeCode(code.Code)
	require.True(t, ok)
	assert.Equal(t, code.Code, normalized)
	assert.Equal(t, f.clock.Now().Add(5*time.Minute), code.ExpiresAt)
	assert.Equal(t, "acct-1", code.AccountID)
}

func TestIssueCodeInvalidatesPriorCodes(t *testing.T) {
	f := newFixture(t, WithRandom(bytes.NewReader([]byte{1, 1, 1, 1, 1, 1, 2, 2, 2, 2, 2, 2})))
	ctx := context.Background()

	first, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)
	second, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)
	assert.Equal(t, "111111", first.Code)
	assert.Equal(t, "222222", second.Code)

	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), first.Code)
	assert.ErrorIs(t, err, boterrors.ErrBindingCodeInvalidOrExpired)

	binding, err := f.svc.VerifyCode(ctx, larkUser("ou_1"), second.Code)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", binding.AccountID)
}

func TestIssueCodeRegeneratesOnCollision(t *testing.T) {
	f := newFixture(t, WithRandom(bytes.NewReader([]byte{
		3, 3, 3, 3, 3, 3,
		3, 3, 3, 3, 3, 3,
		255, 4, 4, 4, 4, 4, 4,
	})))
	ctx := context.Background()

	a, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	b, err := f.svc.IssueCode(ctx, "acct-b", chat.PlatformLark)
	require.NoError(t, err)
	assert.Equal(t, "333333", a.Code)
	assert.Equal(t, "444444", b.Code)
}

func TestIssueCodeRequiresAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.IssueCode(context.Background(), "  ", chat.PlatformLark)
	require.Error(t, err)
}

func TestVerifyCodeRejectsMalformedCodesWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)

	for _, raw := range []string{"", "12345", "1234567", "abcdef", "12 345", "１２３４５６"} {
		_, err := f.svc.VerifyCode(ctx, larkUser("ou_1"), raw)
		assert.ErrorIs(t, err, boterrors.ErrBindingCodeInvalidOrExpired, "code %q", raw)
	}

	_, err = f.store.GetBindingByIdentity(ctx, larkUser("ou_1"))
	assert.ErrorIs(t, err, chat.ErrNotFound)
	_, err = f.store.FindActiveCode(ctx, code.Code, f.clock.Now())
	assert.NoError(t, err)
}

func TestVerifyCodeAcceptsSurroundingWhitespace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)

	binding, err := f.svc.VerifyCode(ctx, larkUser("ou_1"), "  "+code.Code+"\n")
	require.NoError(t, err)
	assert.Equal(t, larkUser("ou_1"), binding.Identity)
}

func TestVerifyCodeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)

	f.clock.Advance(CodeTTL + time.Second)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), code.Code)
	assert.ErrorIs(t, err, boterrors.ErrBindingCodeInvalidOrExpired)
	_, err = f.store.GetBindingByIdentity(ctx, larkUser("ou_1"))
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestVerifyCodeIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), code.Code)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_2"), code.Code)
	assert.ErrorIs(t, err, boterrors.ErrBindingCodeInvalidOrExpired)
	_, err = f.store.GetBindingByIdentity(ctx, larkUser("ou_2"))
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestVerifyCodeConcurrentRedemptionHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, "acct-1", chat.PlatformLark)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := f.svc.VerifyCode(ctx, larkUser(string(rune('a'+n))), code.Code)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, boterrors.ErrBindingCodeInvalidOrExpired) || errors.Is(err, boterrors.ErrBindingConflict), "unexpected error %v", err)
	}
	assert.Equal(t, 1, wins)
}

func TestVerifyCodeIdentityBoundElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), first.Code)
	require.NoError(t, err)

	other, err := f.svc.IssueCode(ctx, "acct-b", chat.PlatformLark)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), other.Code)
	require.ErrorIs(t, err, boterrors.ErrBindingConflict)
	var conflict *boterrors.BindingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, boterrors.ConflictIdentityBoundElsewhere, conflict.Reason)

	binding, err := f.store.GetBindingByIdentity(ctx, larkUser("ou_1"))
	require.NoError(t, err)
	assert.Equal(t, "acct-a", binding.AccountID)
	_, err = f.store.FindActiveCode(ctx, other.Code, f.clock.Now())
	assert.NoError(t, err, "a conflicting attempt must not consume the code")
}

func TestVerifyCodeAccountBoundOnPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), first.Code)
	require.NoError(t, err)

	again, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_2"), again.Code)
	var conflict *boterrors.BindingConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, boterrors.ConflictAccountBoundOnPlatform, conflict.Reason)

	_, err = f.store.GetBindingByIdentity(ctx, larkUser("ou_2"))
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestVerifyCodeRebindSameAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), first.Code)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	again, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	binding, err := f.svc.VerifyCode(ctx, larkUser("ou_1"), again.Code)
	require.NoError(t, err)
	assert.Equal(t, "acct-a", binding.AccountID)
}

func TestVerifyCodeWrongPlatform(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)

	_, err = f.svc.VerifyCode(ctx, chat.Identity{Platform: chat.PlatformWeChat, UserID: "wx_1"}, code.Code)
	assert.ErrorIs(t, err, boterrors.ErrBindingCodeInvalidOrExpired)
}

func TestCheckAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dm := chat.Conversation{Key: chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_dm"}}
	group := chat.Conversation{Key: chat.ConversationKey{Platform: chat.PlatformLark, ThreadID: "oc_group"}, IsGroup: true}

	_, err := f.svc.CheckAccess(ctx, larkUser("ou_1"), dm)
	assert.ErrorIs(t, err, boterrors.ErrIdentityNotBound)

	code, err := f.svc.IssueCode(ctx, "acct-a", chat.PlatformLark)
	require.NoError(t, err)
	_, err = f.svc.VerifyCode(ctx, larkUser("ou_1"), code.Code)
	require.NoError(t, err)

	binding, err := f.svc.CheckAccess(ctx, larkUser("ou_1"), dm)
	require.NoError(t, err)
	assert.Equal(t, "acct-a", binding.AccountID)

	_, err = f.svc.CheckAccess(ctx, larkUser("ou_1"), group)
	assert.ErrorIs(t, err, boterrors.ErrGroupNotPermitted)
	assert.True(t, boterrors.IsAccessDenied(err))

	require.NoError(t, f.groups.SetGroupEnabled(ctx, chat.PlatformLark, "oc_group", true))
	_, err = f.svc.CheckAccess(ctx, larkUser("ou_1"), group)
	require.NoError(t, err)
}
