package binding

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"opsbot/internal/domain/chat"
	boterrors "opsbot/internal/shared/errors"
	"opsbot/internal/shared/logging"
)

const (
	// CodeLength is the number of ASCII digits in a binding code.
	CodeLength = 6
	// CodeTTL is how long an issued code stays redeemable.
	CodeTTL = 5 * time.Minute

	maxIssueAttempts = 8
)

// Service links external chat identities to internal accounts and gates
// access for every inbound message.
type Service struct {
	store  chat.BindingStore
	groups chat.GroupPolicyStore
	logger logging.Logger
	now    func() time.Time
	random io.Reader
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRandom overrides the entropy source used for codes.
func WithRandom(r io.Reader) Option {
	return func(s *Service) {
		if r != nil {
			s.random = r
		}
	}
}

func NewService(store chat.BindingStore, groups chat.GroupPolicyStore, logger logging.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		groups: groups,
		logger: logging.OrNop(logger),
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IssueCode creates a fresh code for accountID on platform. Prior unused
// codes of the account stop working.
func (s *Service) IssueCode(ctx context.Context, accountID string, platform chat.Platform) (chat.BindingCode, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return chat.BindingCode{}, fmt.Errorf("account id is required")
	}
	if platform == "" {
		return chat.BindingCode{}, fmt.Errorf("platform is required")
	}
	now := s.now()

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code, err := s.generateCode()
		if err != nil {
			return chat.BindingCode{}, err
		}
		// Active codes must stay unique across accounts.
		if _, err := s.store.FindActiveCode(ctx, code, now); err == nil {
			continue
		} else if !errors.Is(err, chat.ErrNotFound) {
			return chat.BindingCode{}, fmt.Errorf("check code collision: %w", err)
		}

		issued := chat.BindingCode{
			Code:      code,
			AccountID: accountID,
			Platform:  platform,
			CreatedAt: now,
			ExpiresAt: now.Add(CodeTTL),
		}
		if err := s.store.IssueCode(ctx, issued, now); err != nil {
			return chat.BindingCode{}, fmt.Errorf("issue binding code: %w", err)
		}
		s.logger.Info("issued binding code for account %s on %s", accountID, platform)
		return issued, nil
	}
	return chat.BindingCode{}, fmt.Errorf("issue binding code: no free code after %d attempts", maxIssueAttempts)
}

// VerifyCode redeems code for identity. Invalid, expired, already used and
// conflicting attempts leave every binding untouched.
func (s *Service) VerifyCode(ctx context.Context, identity chat.Identity, code string) (chat.Binding, error) {
	code, ok := NormalizeCode(code)
	if !ok {
		return chat.Binding{}, boterrors.ErrBindingCodeInvalidOrExpired
	}
	if strings.TrimSpace(identity.UserID) == "" {
		return chat.Binding{}, fmt.Errorf("identity user id is required")
	}
	now := s.now()

	issued, err := s.store.FindActiveCode(ctx, code, now)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Binding{}, boterrors.ErrBindingCodeInvalidOrExpired
		}
		return chat.Binding{}, fmt.Errorf("find binding code: %w", err)
	}
	if issued.Platform != identity.Platform {
		return chat.Binding{}, boterrors.ErrBindingCodeInvalidOrExpired
	}

	if err := s.checkConflicts(ctx, identity, issued.AccountID); err != nil {
		return chat.Binding{}, err
	}

	binding := chat.Binding{
		Identity:  identity,
		AccountID: issued.AccountID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.ConsumeCodeAndBind(ctx, code, binding, now); err != nil {
		switch {
		case errors.Is(err, chat.ErrNotFound):
			return chat.Binding{}, boterrors.ErrBindingCodeInvalidOrExpired
		case errors.Is(err, chat.ErrBindingExists):
			// A concurrent bind won; report whichever rule it now violates.
			if conflict := s.checkConflicts(ctx, identity, issued.AccountID); conflict != nil {
				return chat.Binding{}, conflict
			}
			return chat.Binding{}, &boterrors.BindingConflictError{
				Reason:    boterrors.ConflictIdentityBoundElsewhere,
				Platform:  string(identity.Platform),
				AccountID: issued.AccountID,
			}
		default:
			return chat.Binding{}, fmt.Errorf("bind identity: %w", err)
		}
	}

	if stored, err := s.store.GetBindingByIdentity(ctx, identity); err == nil {
		binding = stored
	}
	s.logger.Info("bound %s to account %s", identity, issued.AccountID)
	return binding, nil
}

func (s *Service) checkConflicts(ctx context.Context, identity chat.Identity, accountID string) error {
	existing, err := s.store.GetBindingByIdentity(ctx, identity)
	switch {
	case err == nil:
		if existing.AccountID != accountID {
			return &boterrors.BindingConflictError{
				Reason:    boterrors.ConflictIdentityBoundElsewhere,
				Platform:  string(identity.Platform),
				AccountID: accountID,
			}
		}
	case !errors.Is(err, chat.ErrNotFound):
		return fmt.Errorf("lookup identity binding: %w", err)
	}

	byAccount, err := s.store.GetBindingByAccount(ctx, accountID, identity.Platform)
	switch {
	case err == nil:
		if byAccount.Identity.UserID != identity.UserID {
			return &boterrors.BindingConflictError{
				Reason:    boterrors.ConflictAccountBoundOnPlatform,
				Platform:  string(identity.Platform),
				AccountID: accountID,
			}
		}
	case !errors.Is(err, chat.ErrNotFound):
		return fmt.Errorf("lookup account binding: %w", err)
	}
	return nil
}

// CheckAccess resolves the account behind identity and enforces the group
// opt-in for group conversations.
func (s *Service) CheckAccess(ctx context.Context, identity chat.Identity, conv chat.Conversation) (chat.Binding, error) {
	binding, err := s.store.GetBindingByIdentity(ctx, identity)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			return chat.Binding{}, boterrors.ErrIdentityNotBound
		}
		return chat.Binding{}, fmt.Errorf("lookup identity binding: %w", err)
	}
	if !conv.IsGroup {
		return binding, nil
	}
	if s.groups == nil {
		return chat.Binding{}, boterrors.ErrGroupNotPermitted
	}
	enabled, err := s.groups.IsGroupEnabled(ctx, conv.Key.Platform, conv.Key.ThreadID)
	if err != nil {
		return chat.Binding{}, fmt.Errorf("lookup group policy: %w", err)
	}
	if !enabled {
		return chat.Binding{}, boterrors.ErrGroupNotPermitted
	}
	return binding, nil
}

// NormalizeCode trims raw and reports whether it is exactly six ASCII digits.
func NormalizeCode(raw string) (string, bool) {
	code := strings.TrimSpace(raw)
	if len(code) != CodeLength {
		return "", false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return "", false
		}
	}
	return code, true
}

func (s *Service) generateCode() (string, error) {
	// Rejection sampling keeps every digit uniform.
	var out [CodeLength]byte
	buf := make([]byte, 1)
	for i := 0; i < CodeLength; {
		if _, err := io.ReadFull(s.random, buf); err != nil {
			return "", fmt.Errorf("generate binding code: %w", err)
		}
		if buf[0] >= 250 {
			continue
		}
		out[i] = '0' + buf[0]%10
		i++
	}
	return string(out[:]), nil
}
