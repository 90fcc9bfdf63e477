package ledger

import (
	"math"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/groupbank/groupbank/internal/settle"
)

// ValidateIssue applies the business rules for a new UOMe.
func ValidateIssue(req IssueRequest) error {
	if req.Value <= 0 {
		return ErrInvalidValue
	}
	if req.Lender == req.Borrower {
		return ErrSelfLoan
	}
	if utf8.RuneCountInString(req.Description) > DescriptionMaxLength {
		return ErrDescriptionTooLong
	}
	return nil
}

func checkConfirm(u UOMe, terms Terms) error {
	switch u.State() {
	case StateAccepted:
		return ErrFinalized
	case StateConfirmed:
		return ErrAlreadyConfirmed
	}
	if terms.Lender != u.Lender {
		return ErrNotLender
	}
	if terms != u.Terms() {
		return ErrTermsMismatch
	}
	return nil
}

func checkCancel(u UOMe, user string) error {
	if user != u.Lender {
		return ErrNotLender
	}
	if u.State() == StateAccepted {
		return ErrFinalized
	}
	return nil
}

func checkAccept(u UOMe, terms Terms) error {
	switch u.State() {
	case StateAccepted:
		return ErrFinalized
	case StateDraft:
		return ErrNotConfirmed
	}
	if terms.Borrower != u.Borrower {
		return ErrNotBorrower
	}
	if terms != u.Terms() {
		return ErrTermsMismatch
	}
	return nil
}

// ApplyAcceptance moves value from borrower to lender. The sum of balances
// is unchanged. Balances stay within ±MaxInt64 so every one can be negated;
// otherwise balances is left untouched and ErrBalanceOverflow is returned.
func ApplyAcceptance(balances map[string]int64, borrower, lender string, value int64) error {
	b, l := balances[borrower], balances[lender]
	if value <= 0 || b < -math.MaxInt64+value || l > math.MaxInt64-value {
		return ErrBalanceOverflow
	}
	balances[borrower] = b - value
	balances[lender] = l + value
	return nil
}

// simplifyDebts rebuilds a group's debt graph from its balances.
func simplifyDebts(groupID string, balances map[string]int64) []Debt {
	edges := settle.Simplify(balances)
	debts := make([]Debt, 0, len(edges))
	for _, e := range edges {
		debts = append(debts, Debt{GroupID: groupID, Borrower: e.Borrower, Lender: e.Lender, Value: e.Value})
	}
	return debts
}

// touching keeps the debts in which user is a party.
func touching(debts []Debt, user string) []Debt {
	var out []Debt
	for _, d := range debts {
		if d.Borrower == user || d.Lender == user {
			out = append(out, d)
		}
	}
	return out
}

// normalizeID returns the canonical form of a UUID or notFound.
func normalizeID(id string, notFound error) (string, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return "", notFound
	}
	return parsed.String(), nil
}

func sortUOMes(list []UOMe) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func sortDebts(list []Debt) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Borrower != list[j].Borrower {
			return list[i].Borrower < list[j].Borrower
		}
		return list[i].Lender < list[j].Lender
	})
}
