package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type inMemoryLedger struct {
	mu     sync.RWMutex
	now    func() time.Time
	groups map[string]Group
	users  map[string]User
	uomes  map[string]UOMe
	debts  map[string][]Debt
}

// NewInMemory creates a concurrency-safe in-memory ledger useful for unit
// tests and development. A single lock serializes every mutation.
func NewInMemory() Ledger {
	return &inMemoryLedger{
		now:    func() time.Time { return time.Now().UTC() },
		groups: make(map[string]Group),
		users:  make(map[string]User),
		uomes:  make(map[string]UOMe),
		debts:  make(map[string][]Debt),
	}
}

func (l *inMemoryLedger) CreateGroup(ctx context.Context, name, key string) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, g := range l.groups {
		if g.Key == key {
			return Group{}, ErrGroupExists
		}
	}
	g := Group{ID: uuid.NewString(), Name: name, Key: key, CreatedAt: l.now()}
	l.groups[g.ID] = g
	return g, nil
}

func (l *inMemoryLedger) GetGroup(ctx context.Context, groupID string) (Group, error) {
	if err := ctx.Err(); err != nil {
		return Group{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.group(groupID)
}

func (l *inMemoryLedger) group(groupID string) (Group, error) {
	id, err := normalizeID(groupID, ErrGroupNotFound)
	if err != nil {
		return Group{}, err
	}
	g, ok := l.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (l *inMemoryLedger) DeleteGroup(ctx context.Context, groupID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(groupID)
	if err != nil {
		return err
	}
	for _, u := range l.uomes {
		if u.GroupID == g.ID {
			return ErrGroupInUse
		}
	}
	for key, u := range l.users {
		if u.GroupID == g.ID {
			delete(l.users, key)
		}
	}
	delete(l.debts, g.ID)
	delete(l.groups, g.ID)
	return nil
}

func (l *inMemoryLedger) AddUser(ctx context.Context, groupID, key string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(groupID)
	if err != nil {
		return User{}, err
	}
	if _, exists := l.users[key]; exists {
		return User{}, ErrUserExists
	}
	u := User{Key: key, GroupID: g.ID, CreatedAt: l.now()}
	l.users[key] = u
	return u, nil
}

func (l *inMemoryLedger) GetUser(ctx context.Context, groupID, key string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, err := l.group(groupID)
	if err != nil {
		return User{}, err
	}
	return l.member(g.ID, key)
}

func (l *inMemoryLedger) member(groupID, key string) (User, error) {
	u, ok := l.users[key]
	if !ok || u.GroupID != groupID {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (l *inMemoryLedger) IssueUOMe(ctx context.Context, req IssueRequest) (UOMe, error) {
	if err := ValidateIssue(req); err != nil {
		return UOMe{}, err
	}
	if err := ctx.Err(); err != nil {
		return UOMe{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	g, err := l.group(req.GroupID)
	if err != nil {
		return UOMe{}, err
	}
	if _, err := l.member(g.ID, req.Lender); err != nil {
		return UOMe{}, err
	}
	if _, err := l.member(g.ID, req.Borrower); err != nil {
		return UOMe{}, err
	}

	u := UOMe{
		ID:          uuid.NewString(),
		GroupID:     g.ID,
		Lender:      req.Lender,
		Borrower:    req.Borrower,
		Value:       req.Value,
		Description: req.Description,
		CreatedAt:   l.now(),
	}
	l.uomes[u.ID] = u
	return u, nil
}

func (l *inMemoryLedger) GetUOMe(ctx context.Context, groupID, uomeID string) (UOMe, error) {
	if err := ctx.Err(); err != nil {
		return UOMe{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.uome(groupID, uomeID)
}

func (l *inMemoryLedger) uome(groupID, uomeID string) (UOMe, error) {
	g, err := l.group(groupID)
	if err != nil {
		return UOMe{}, err
	}
	id, err := normalizeID(uomeID, ErrUOMeNotFound)
	if err != nil {
		return UOMe{}, err
	}
	u, ok := l.uomes[id]
	if !ok || u.GroupID != g.ID {
		return UOMe{}, ErrUOMeNotFound
	}
	return u, nil
}

func (l *inMemoryLedger) ConfirmUOMe(ctx context.Context, terms Terms, signature string) (UOMe, error) {
	if err := ctx.Err(); err != nil {
		return UOMe{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.uome(terms.GroupID, terms.UOMeID)
	if err != nil {
		return UOMe{}, err
	}
	if err := checkConfirm(u, terms); err != nil {
		return UOMe{}, err
	}
	u.IssuerSignature = signature
	l.uomes[u.ID] = u
	return u, nil
}

func (l *inMemoryLedger) CancelUOMe(ctx context.Context, groupID, uomeID, user string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.uome(groupID, uomeID)
	if err != nil {
		return err
	}
	if err := checkCancel(u, user); err != nil {
		return err
	}
	delete(l.uomes, u.ID)
	return nil
}

func (l *inMemoryLedger) AcceptUOMe(ctx context.Context, terms Terms, signature string) (Acceptance, error) {
	if err := ctx.Err(); err != nil {
		return Acceptance{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	u, err := l.uome(terms.GroupID, terms.UOMeID)
	if err != nil {
		return Acceptance{}, err
	}
	if err := checkAccept(u, terms); err != nil {
		return Acceptance{}, err
	}

	balances := l.balances(u.GroupID)
	if err := ApplyAcceptance(balances, u.Borrower, u.Lender, u.Value); err != nil {
		return Acceptance{}, err
	}
	debts := simplifyDebts(u.GroupID, balances)
	sortDebts(debts)

	u.BorrowerSignature = signature
	l.uomes[u.ID] = u
	for key, balance := range balances {
		member := l.users[key]
		member.Balance = balance
		l.users[key] = member
	}
	l.debts[u.GroupID] = debts

	return Acceptance{UOMe: u, Balances: balances, Debts: append([]Debt(nil), debts...)}, nil
}

func (l *inMemoryLedger) balances(groupID string) map[string]int64 {
	out := make(map[string]int64)
	for key, u := range l.users {
		if u.GroupID == groupID {
			out[key] = u.Balance
		}
	}
	return out
}

func (l *inMemoryLedger) Pending(ctx context.Context, groupID, user string) (Pending, error) {
	if err := ctx.Err(); err != nil {
		return Pending{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, err := l.group(groupID)
	if err != nil {
		return Pending{}, err
	}
	if _, err := l.member(g.ID, user); err != nil {
		return Pending{}, err
	}

	var p Pending
	for _, u := range l.uomes {
		if u.GroupID != g.ID || u.State() != StateConfirmed {
			continue
		}
		switch user {
		case u.Lender:
			p.IssuedByUser = append(p.IssuedByUser, u)
		case u.Borrower:
			p.WaitingForUser = append(p.WaitingForUser, u)
		}
	}
	sortUOMes(p.IssuedByUser)
	sortUOMes(p.WaitingForUser)
	return p, nil
}

func (l *inMemoryLedger) Totals(ctx context.Context, groupID, user string) (Totals, error) {
	if err := ctx.Err(); err != nil {
		return Totals{}, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, err := l.group(groupID)
	if err != nil {
		return Totals{}, err
	}
	member, err := l.member(g.ID, user)
	if err != nil {
		return Totals{}, err
	}
	return Totals{Balance: member.Balance, Debts: touching(l.debts[g.ID], user)}, nil
}

func (l *inMemoryLedger) Balances(ctx context.Context, groupID string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, err := l.group(groupID)
	if err != nil {
		return nil, err
	}
	return l.balances(g.ID), nil
}

func (l *inMemoryLedger) Debts(ctx context.Context, groupID string) ([]Debt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	g, err := l.group(groupID)
	if err != nil {
		return nil, err
	}
	return append([]Debt(nil), l.debts[g.ID]...), nil
}
