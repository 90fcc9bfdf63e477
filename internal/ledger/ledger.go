package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DescriptionMaxLength bounds a UOMe description, counted in characters.
const DescriptionMaxLength = 80

var (
	// ErrNotFound is wrapped by every lookup failure. Identifiers that are not
	// valid UUIDs are reported as not found.
	ErrNotFound      = errors.New("not found")
	ErrGroupNotFound = fmt.Errorf("group %w", ErrNotFound)
	ErrUserNotFound  = fmt.Errorf("user %w", ErrNotFound)
	ErrUOMeNotFound  = fmt.Errorf("uome %w", ErrNotFound)

	// ErrGroupExists occurs when a group key is registered twice.
	ErrGroupExists = errors.New("group already registered")
	// ErrUserExists occurs when a user key is already a member of some group.
	ErrUserExists = errors.New("user already registered")
	// ErrGroupInUse blocks deleting a group that still owns UOMes.
	ErrGroupInUse = errors.New("group is referenced by uomes")

	ErrInvalidValue       = errors.New("value must be positive")
	ErrSelfLoan           = errors.New("lender and borrower must differ")
	ErrDescriptionTooLong = fmt.Errorf("description longer than %d characters", DescriptionMaxLength)
	// ErrBalanceOverflow rejects an acceptance that would push a balance
	// outside ±MaxInt64.
	ErrBalanceOverflow = errors.New("balance out of range")

	// ErrAlreadyConfirmed is returned when confirming a UOMe that is not a draft.
	ErrAlreadyConfirmed = errors.New("uome already confirmed")
	// ErrNotConfirmed is returned when accepting a draft.
	ErrNotConfirmed = errors.New("uome not confirmed by lender")
	// ErrFinalized is returned for any transition on an accepted UOMe.
	ErrFinalized = errors.New("uome already accepted")

	ErrNotLender     = errors.New("only the lender may perform this operation")
	ErrNotBorrower   = errors.New("only the borrower may perform this operation")
	ErrTermsMismatch = errors.New("terms differ from the stored uome")
)

// State is the lifecycle position of a UOMe, derived from its signatures.
type State string

const (
	StateDraft     State = "draft"
	StateConfirmed State = "confirmed"
	StateAccepted  State = "accepted"
)

// Group is a set of users sharing one ledger.
type Group struct {
	ID        string
	Name      string
	Key       string
	CreatedAt time.Time
}

// User is a group member. Its public key is its identity.
type User struct {
	Key       string
	GroupID   string
	Balance   int64
	CreatedAt time.Time
}

// UOMe records that Borrower owes Lender Value cents.
type UOMe struct {
	ID                string
	GroupID           string
	Lender            string
	Borrower          string
	Value             int64
	Description       string
	IssuerSignature   string
	BorrowerSignature string
	CreatedAt         time.Time
}

// State derives the lifecycle state from the signatures.
func (u UOMe) State() State {
	switch {
	case u.BorrowerSignature != "":
		return StateAccepted
	case u.IssuerSignature != "":
		return StateConfirmed
	default:
		return StateDraft
	}
}

// Terms returns the fields both parties sign.
func (u UOMe) Terms() Terms {
	return Terms{
		GroupID:     u.GroupID,
		UOMeID:      u.ID,
		Lender:      u.Lender,
		Borrower:    u.Borrower,
		Value:       u.Value,
		Description: u.Description,
	}
}

// Terms are the immutable, signed fields of a UOMe.
type Terms struct {
	GroupID     string
	UOMeID      string
	Lender      string
	Borrower    string
	Value       int64
	Description string
}

// IssueRequest describes a new draft UOMe.
type IssueRequest struct {
	GroupID     string
	Lender      string
	Borrower    string
	Value       int64
	Description string
}

// Debt is one edge of a group's simplified debt graph.
type Debt struct {
	GroupID  string
	Borrower string
	Lender   string
	Value    int64
}

// Acceptance is the outcome of accepting a UOMe: the final record, the
// group's balances and the recomputed debt graph.
type Acceptance struct {
	UOMe     UOMe
	Balances map[string]int64
	Debts    []Debt
}

// Pending lists confirmed UOMes that still wait for the borrower.
type Pending struct {
	IssuedByUser   []UOMe
	WaitingForUser []UOMe
}

// Totals is a user's balance and the simplified debts touching them.
type Totals struct {
	Balance int64
	Debts   []Debt
}

// Ledger defines the contract implemented by ledger backends. Every
// mutation of a UOMe is exclusive on that record and AcceptUOMe is
// serialized per group.
type Ledger interface {
	CreateGroup(ctx context.Context, name, key string) (Group, error)
	GetGroup(ctx context.Context, groupID string) (Group, error)
	DeleteGroup(ctx context.Context, groupID string) error

	AddUser(ctx context.Context, groupID, key string) (User, error)
	GetUser(ctx context.Context, groupID, key string) (User, error)

	IssueUOMe(ctx context.Context, req IssueRequest) (UOMe, error)
	GetUOMe(ctx context.Context, groupID, uomeID string) (UOMe, error)
	// ConfirmUOMe stores the lender's signature over terms.
	ConfirmUOMe(ctx context.Context, terms Terms, signature string) (UOMe, error)
	// CancelUOMe deletes a UOMe the borrower has not accepted yet.
	CancelUOMe(ctx context.Context, groupID, uomeID, user string) error
	// AcceptUOMe stores the borrower's signature over terms, moves the value
	// between the two balances and replaces the group's debt graph.
	AcceptUOMe(ctx context.Context, terms Terms, signature string) (Acceptance, error)

	Pending(ctx context.Context, groupID, user string) (Pending, error)
	Totals(ctx context.Context, groupID, user string) (Totals, error)
	Balances(ctx context.Context, groupID string) (map[string]int64, error)
	Debts(ctx context.Context, groupID string) ([]Debt, error)
}
