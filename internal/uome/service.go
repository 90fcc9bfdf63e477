// Package uome runs the UOMe lifecycle on behalf of authenticated members:
// issue, confirm, cancel, accept and the pending and totals queries.
package uome

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/groupbank/groupbank/internal/ledger"
	"github.com/groupbank/groupbank/internal/metrics"
	"github.com/groupbank/groupbank/internal/notification"
	"github.com/groupbank/groupbank/internal/protocol"
)

// ErrIdentityMismatch is returned when the request author is not the user
// named in the payload.
var ErrIdentityMismatch = errors.New("author does not match user")

// Service coordinates signature checks, the ledger and notifications.
type Service struct {
	ledger   ledger.Ledger
	verifier *protocol.Verifier
	notifier notification.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeout  time.Duration
}

// Option customizes a Service.
type Option func(*Service)

// WithNotifier sets the notifier used on confirm and accept.
func WithNotifier(n notification.Notifier) Option { return func(s *Service) { s.notifier = n } }

// WithMetrics records transitions on m.
func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithTimeout bounds every ledger call.
func WithTimeout(d time.Duration) Option { return func(s *Service) { s.timeout = d } }

// NewService constructs a UOMe service.
func NewService(l ledger.Ledger, verifier *protocol.Verifier, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{ledger: l, verifier: verifier, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Caller identifies who is acting: the verified request author and the
// user the payload claims to be.
type Caller struct {
	Author  string
	GroupID string
	User    string
}

func (c Caller) check() error {
	if c.Author != c.User {
		return ErrIdentityMismatch
	}
	return nil
}

// IssueInput describes a new UOMe from the caller to Borrower.
type IssueInput struct {
	Caller
	Borrower      string
	Value         int64
	Description   string
	UserSignature string
}

// Issue creates a draft UOMe with the caller as lender.
func (s *Service) Issue(ctx context.Context, in IssueInput) (u ledger.UOMe, err error) {
	defer func() { s.observe(ctx, "issue", in.Caller, u.ID, err) }()

	if err := in.check(); err != nil {
		return ledger.UOMe{}, err
	}
	if err := s.verifier.VerifyAuth(in.GroupID, in.User, in.UserSignature); err != nil {
		return ledger.UOMe{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	return s.ledger.IssueUOMe(ctx, ledger.IssueRequest{
		GroupID:     in.GroupID,
		Lender:      in.User,
		Borrower:    in.Borrower,
		Value:       in.Value,
		Description: in.Description,
	})
}

// SignedInput names a UOMe and carries the caller's signature over its terms.
type SignedInput struct {
	Caller
	UOMeID        string
	UserSignature string
}

// Confirm records the lender's signature over the stored terms.
func (s *Service) Confirm(ctx context.Context, in SignedInput) (u ledger.UOMe, err error) {
	defer func() { s.observe(ctx, "confirm", in.Caller, in.UOMeID, err) }()

	if err := in.check(); err != nil {
		return ledger.UOMe{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stored, err := s.load(ctx, in.Caller, in.UOMeID)
	if err != nil {
		return ledger.UOMe{}, err
	}
	if stored.Lender != in.User {
		return ledger.UOMe{}, ledger.ErrNotLender
	}
	terms := stored.Terms()
	if err := s.verifier.VerifyTerms(in.User, terms, in.UserSignature); err != nil {
		return ledger.UOMe{}, err
	}

	u, err = s.ledger.ConfirmUOMe(ctx, terms, in.UserSignature)
	if err != nil {
		return ledger.UOMe{}, err
	}

	s.notify(ctx, notification.Message{
		Kind:        notification.KindUOMeConfirmed,
		GroupID:     u.GroupID,
		UOMeID:      u.ID,
		Destination: u.Borrower,
		Body:        fmt.Sprintf("UOMe of %d from %s awaits your acceptance", u.Value, u.Lender),
	})
	return u, nil
}

// CancelInput names the UOMe to delete.
type CancelInput struct {
	Caller
	UOMeID string
}

// Cancel deletes a UOMe the borrower has not accepted. Only the lender may cancel.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (err error) {
	defer func() { s.observe(ctx, "cancel", in.Caller, in.UOMeID, err) }()

	if err := in.check(); err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.ledger.GetUser(ctx, in.GroupID, in.User); err != nil {
		return err
	}
	return s.ledger.CancelUOMe(ctx, in.GroupID, in.UOMeID, in.User)
}

// Accept records the borrower's signature, moves the balances and rebuilds
// the group's debts.
func (s *Service) Accept(ctx context.Context, in SignedInput) (acc ledger.Acceptance, err error) {
	defer func() { s.observe(ctx, "accept", in.Caller, in.UOMeID, err) }()

	if err := in.check(); err != nil {
		return ledger.Acceptance{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	stored, err := s.load(ctx, in.Caller, in.UOMeID)
	if err != nil {
		return ledger.Acceptance{}, err
	}
	if stored.Borrower != in.User {
		return ledger.Acceptance{}, ledger.ErrNotBorrower
	}
	terms := stored.Terms()
	if err := s.verifier.VerifyTerms(in.User, terms, in.UserSignature); err != nil {
		return ledger.Acceptance{}, err
	}

	acc, err = s.ledger.AcceptUOMe(ctx, terms, in.UserSignature)
	if err != nil {
		return ledger.Acceptance{}, err
	}
	s.metrics.SettlementEdges(len(acc.Debts))

	s.notify(ctx, notification.Message{
		Kind:        notification.KindUOMeAccepted,
		GroupID:     acc.UOMe.GroupID,
		UOMeID:      acc.UOMe.ID,
		Destination: acc.UOMe.Lender,
		Body:        fmt.Sprintf("%s accepted your UOMe of %d", acc.UOMe.Borrower, acc.UOMe.Value),
	})
	return acc, nil
}

// AuthInput carries the caller's signature over {group, user}.
type AuthInput struct {
	Caller
	UserSignature string
}

// Pending lists confirmed UOMes awaiting acceptance in which the caller is a party.
func (s *Service) Pending(ctx context.Context, in AuthInput) (ledger.Pending, error) {
	if err := s.authorize(ctx, in); err != nil {
		return ledger.Pending{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	return s.ledger.Pending(ctx, in.GroupID, in.User)
}

// TotalsResult is the caller's balance and who to settle it with.
type TotalsResult struct {
	Balance int64
	// Suggested maps a counterparty to the amount to pay them when the
	// balance is negative, or to collect from them when it is positive.
	Suggested map[string]int64
}

// Totals reports the caller's balance and suggested settlement transactions.
func (s *Service) Totals(ctx context.Context, in AuthInput) (TotalsResult, error) {
	if err := s.authorize(ctx, in); err != nil {
		return TotalsResult{}, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	totals, err := s.ledger.Totals(ctx, in.GroupID, in.User)
	if err != nil {
		return TotalsResult{}, err
	}
	return TotalsResult{Balance: totals.Balance, Suggested: Suggest(in.User, totals)}, nil
}

// Suggest turns the debts touching user into counterparty amounts.
func Suggest(user string, totals ledger.Totals) map[string]int64 {
	out := make(map[string]int64)
	for _, d := range totals.Debts {
		switch {
		case totals.Balance < 0 && d.Borrower == user:
			out[d.Lender] = d.Value
		case totals.Balance > 0 && d.Lender == user:
			out[d.Borrower] = d.Value
		}
	}
	return out
}

func (s *Service) authorize(ctx context.Context, in AuthInput) error {
	if err := in.check(); err != nil {
		return err
	}

	lookupCtx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.ledger.GetUser(lookupCtx, in.GroupID, in.User); err != nil {
		return err
	}
	if err := s.verifier.VerifyAuth(in.GroupID, in.User, in.UserSignature); err != nil {
		s.logger.InfoContext(ctx, "auth claim rejected", "group_id", in.GroupID, "user", in.User)
		return err
	}
	return nil
}

// load resolves the caller's membership and the UOMe.
func (s *Service) load(ctx context.Context, caller Caller, uomeID string) (ledger.UOMe, error) {
	if _, err := s.ledger.GetUser(ctx, caller.GroupID, caller.User); err != nil {
		return ledger.UOMe{}, err
	}
	return s.ledger.GetUOMe(ctx, caller.GroupID, uomeID)
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Service) notify(ctx context.Context, msg notification.Message) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "notification failed", "kind", msg.Kind, "uome_id", msg.UOMeID, "error", err)
	}
}

func (s *Service) observe(ctx context.Context, op string, caller Caller, uomeID string, err error) {
	attrs := []any{"operation", op, "group_id", caller.GroupID, "user", caller.User}
	if uomeID != "" {
		attrs = append(attrs, "uome_id", uomeID)
	}
	switch {
	case err == nil:
		s.metrics.Transition(op, metrics.OutcomeOK)
		s.logger.InfoContext(ctx, "uome transition", attrs...)
	case IsRejection(err):
		s.metrics.Transition(op, metrics.OutcomeRejected)
		s.logger.InfoContext(ctx, "uome transition rejected", append(attrs, "error", err)...)
	default:
		s.metrics.Transition(op, metrics.OutcomeError)
		s.logger.ErrorContext(ctx, "uome transition failed", append(attrs, "error", err)...)
	}
}

// IsRejection reports whether err is the caller's fault rather than a
// failure of the server or its store.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrIdentityMismatch,
		protocol.ErrAuthClaim,
		protocol.ErrTermsClaim,
		ledger.ErrNotFound,
		ledger.ErrInvalidValue,
		ledger.ErrSelfLoan,
		ledger.ErrDescriptionTooLong,
		ledger.ErrBalanceOverflow,
		ledger.ErrAlreadyConfirmed,
		ledger.ErrNotConfirmed,
		ledger.ErrFinalized,
		ledger.ErrNotLender,
		ledger.ErrNotBorrower,
		ledger.ErrTermsMismatch,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
