package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PostgresLedger persists groups, users, UOMes and debts in PostgreSQL.
// AcceptUOMe holds the group row lock for the whole balance update.
type PostgresLedger struct {
	db *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgresLedger constructs a Postgres-backed ledger implementation.
func NewPostgresLedger(db *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{db: db}
}

// Migrate creates the ledger tables if they do not exist.
func (l *PostgresLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// CreateGroup registers a group under its public key.
func (l *PostgresLedger) CreateGroup(ctx context.Context, name, key string) (Group, error) {
	g := Group{ID: uuid.NewString(), Name: name, Key: key}
	err := l.db.QueryRow(ctx,
		`INSERT INTO groups (id, name, key) VALUES ($1, $2, $3) RETURNING created_at`,
		g.ID, g.Name, g.Key).Scan(&g.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return Group{}, ErrGroupExists
		}
		return Group{}, err
	}
	return g, nil
}

// GetGroup loads a group by id.
func (l *PostgresLedger) GetGroup(ctx context.Context, groupID string) (Group, error) {
	id, err := normalizeID(groupID, ErrGroupNotFound)
	if err != nil {
		return Group{}, err
	}
	var g Group
	err = l.db.QueryRow(ctx, `SELECT id, name, key, created_at FROM groups WHERE id = $1`, id).
		Scan(&g.ID, &g.Name, &g.Key, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, err
	}
	return g, nil
}

// DeleteGroup removes a group and its users once no UOMe references it.
func (l *PostgresLedger) DeleteGroup(ctx context.Context, groupID string) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	id, err := lockGroup(ctx, tx, groupID, "FOR UPDATE")
	if err != nil {
		return err
	}

	var referenced bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM uomes WHERE group_id = $1)`, id).Scan(&referenced); err != nil {
		return err
	}
	if referenced {
		return ErrGroupInUse
	}

	if _, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, id); err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrGroupInUse
		}
		return err
	}
	return tx.Commit(ctx)
}

// AddUser makes key a member of the group.
func (l *PostgresLedger) AddUser(ctx context.Context, groupID, key string) (User, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	id, err := lockGroup(ctx, tx, groupID, "FOR KEY SHARE")
	if err != nil {
		return User{}, err
	}

	u := User{Key: key, GroupID: id}
	err = tx.QueryRow(ctx,
		`INSERT INTO users (key, group_id) VALUES ($1, $2) RETURNING created_at`,
		key, id).Scan(&u.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return u, nil
}

// GetUser loads a member of the group.
func (l *PostgresLedger) GetUser(ctx context.Context, groupID, key string) (User, error) {
	id, err := normalizeID(groupID, ErrGroupNotFound)
	if err != nil {
		return User{}, err
	}
	return pgMember(ctx, l.db, id, key, "")
}

// IssueUOMe stores a new draft.
func (l *PostgresLedger) IssueUOMe(ctx context.Context, req IssueRequest) (UOMe, error) {
	if err := ValidateIssue(req); err != nil {
		return UOMe{}, err
	}

	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UOMe{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	id, err := lockGroup(ctx, tx, req.GroupID, "FOR KEY SHARE")
	if err != nil {
		return UOMe{}, err
	}
	if _, err := pgMember(ctx, tx, id, req.Lender, "FOR KEY SHARE"); err != nil {
		return UOMe{}, err
	}
	if _, err := pgMember(ctx, tx, id, req.Borrower, "FOR KEY SHARE"); err != nil {
		return UOMe{}, err
	}

	u := UOMe{
		ID:          uuid.NewString(),
		GroupID:     id,
		Lender:      req.Lender,
		Borrower:    req.Borrower,
		Value:       req.Value,
		Description: req.Description,
	}
	err = tx.QueryRow(ctx, `
        INSERT INTO uomes (id, group_id, lender, borrower, value, description)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at`,
		u.ID, u.GroupID, u.Lender, u.Borrower, u.Value, u.Description).Scan(&u.CreatedAt)
	if err != nil {
		return UOMe{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UOMe{}, err
	}
	return u, nil
}

// GetUOMe loads a UOMe of the group.
func (l *PostgresLedger) GetUOMe(ctx context.Context, groupID, uomeID string) (UOMe, error) {
	return pgUOMe(ctx, l.db, groupID, uomeID, "")
}

// ConfirmUOMe stores the lender's signature on a draft.
func (l *PostgresLedger) ConfirmUOMe(ctx context.Context, terms Terms, signature string) (UOMe, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return UOMe{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	u, err := pgUOMe(ctx, tx, terms.GroupID, terms.UOMeID, "FOR UPDATE")
	if err != nil {
		return UOMe{}, err
	}
	if err := checkConfirm(u, terms); err != nil {
		return UOMe{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE uomes SET issuer_signature = $1 WHERE id = $2`, signature, u.ID); err != nil {
		return UOMe{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return UOMe{}, err
	}
	u.IssuerSignature = signature
	return u, nil
}

// CancelUOMe deletes a draft or confirmed UOMe on behalf of its lender.
func (l *PostgresLedger) CancelUOMe(ctx context.Context, groupID, uomeID, user string) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	u, err := pgUOMe(ctx, tx, groupID, uomeID, "FOR UPDATE")
	if err != nil {
		return err
	}
	if err := checkCancel(u, user); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM uomes WHERE id = $1`, u.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AcceptUOMe finalizes a confirmed UOMe, updates both balances and replaces
// the group's debts in one transaction.
func (l *PostgresLedger) AcceptUOMe(ctx context.Context, terms Terms, signature string) (Acceptance, error) {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Acceptance{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	groupID, err := lockGroup(ctx, tx, terms.GroupID, "FOR NO KEY UPDATE")
	if err != nil {
		return Acceptance{}, err
	}
	u, err := pgUOMe(ctx, tx, groupID, terms.UOMeID, "FOR UPDATE")
	if err != nil {
		return Acceptance{}, err
	}
	if err := checkAccept(u, terms); err != nil {
		return Acceptance{}, err
	}

	balances, err := pgBalances(ctx, tx, groupID, "FOR UPDATE")
	if err != nil {
		return Acceptance{}, err
	}
	if err := ApplyAcceptance(balances, u.Borrower, u.Lender, u.Value); err != nil {
		return Acceptance{}, err
	}
	debts := simplifyDebts(groupID, balances)
	sortDebts(debts)

	if _, err := tx.Exec(ctx, `UPDATE uomes SET borrower_signature = $1 WHERE id = $2`, signature, u.ID); err != nil {
		return Acceptance{}, err
	}
	const updateBalance = `UPDATE users SET balance = $1 WHERE key = $2`
	for _, key := range []string{u.Borrower, u.Lender} {
		if _, err := tx.Exec(ctx, updateBalance, balances[key], key); err != nil {
			return Acceptance{}, err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM debts WHERE group_id = $1`, groupID); err != nil {
		return Acceptance{}, err
	}
	if len(debts) > 0 {
		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"debts"},
			[]string{"group_id", "borrower", "lender", "value"},
			pgx.CopyFromSlice(len(debts), func(i int) ([]any, error) {
				d := debts[i]
				return []any{d.GroupID, d.Borrower, d.Lender, d.Value}, nil
			}))
		if err != nil {
			return Acceptance{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Acceptance{}, err
	}
	u.BorrowerSignature = signature
	return Acceptance{UOMe: u, Balances: balances, Debts: debts}, nil
}

// Pending lists confirmed UOMes awaiting acceptance in which user is a party.
func (l *PostgresLedger) Pending(ctx context.Context, groupID, user string) (Pending, error) {
	var p Pending
	err := l.snapshot(ctx, func(tx pgx.Tx) error {
		id, err := normalizeID(groupID, ErrGroupNotFound)
		if err != nil {
			return err
		}
		if _, err := pgMember(ctx, tx, id, user, ""); err != nil {
			return err
		}
		rows, err := tx.Query(ctx, uomeColumns+`
            WHERE group_id = $1 AND issuer_signature <> '' AND borrower_signature = ''
              AND (lender = $2 OR borrower = $2)
            ORDER BY created_at, id`, id, user)
		if err != nil {
			return err
		}
		list, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (UOMe, error) {
			return scanUOMe(row)
		})
		if err != nil {
			return err
		}
		for _, u := range list {
			if u.Lender == user {
				p.IssuedByUser = append(p.IssuedByUser, u)
			} else {
				p.WaitingForUser = append(p.WaitingForUser, u)
			}
		}
		return nil
	})
	return p, err
}

// Totals returns the user's balance and the debts touching them.
func (l *PostgresLedger) Totals(ctx context.Context, groupID, user string) (Totals, error) {
	var t Totals
	err := l.snapshot(ctx, func(tx pgx.Tx) error {
		id, err := normalizeID(groupID, ErrGroupNotFound)
		if err != nil {
			return err
		}
		member, err := pgMember(ctx, tx, id, user, "")
		if err != nil {
			return err
		}
		debts, err := pgDebts(ctx, tx, id)
		if err != nil {
			return err
		}
		t = Totals{Balance: member.Balance, Debts: touching(debts, user)}
		return nil
	})
	return t, err
}

// Balances returns every member's balance.
func (l *PostgresLedger) Balances(ctx context.Context, groupID string) (map[string]int64, error) {
	var out map[string]int64
	err := l.snapshot(ctx, func(tx pgx.Tx) error {
		id, err := lockGroup(ctx, tx, groupID, "")
		if err != nil {
			return err
		}
		out, err = pgBalances(ctx, tx, id, "")
		return err
	})
	return out, err
}

// Debts returns the group's simplified debt graph.
func (l *PostgresLedger) Debts(ctx context.Context, groupID string) ([]Debt, error) {
	var out []Debt
	err := l.snapshot(ctx, func(tx pgx.Tx) error {
		id, err := lockGroup(ctx, tx, groupID, "")
		if err != nil {
			return err
		}
		out, err = pgDebts(ctx, tx, id)
		return err
	})
	return out, err
}

// snapshot runs fn in a read-only repeatable read transaction so reads
// never observe half of an acceptance.
func (l *PostgresLedger) snapshot(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// querier is satisfied by both the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func lockGroup(ctx context.Context, q querier, groupID, lock string) (string, error) {
	id, err := normalizeID(groupID, ErrGroupNotFound)
	if err != nil {
		return "", err
	}
	if err := q.QueryRow(ctx, `SELECT id FROM groups WHERE id = $1 `+lock, id).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrGroupNotFound
		}
		return "", err
	}
	return id, nil
}

func pgMember(ctx context.Context, q querier, groupID, key, lock string) (User, error) {
	var u User
	err := q.QueryRow(ctx,
		`SELECT key, group_id, balance, created_at FROM users WHERE key = $1 AND group_id = $2 `+lock,
		key, groupID).Scan(&u.Key, &u.GroupID, &u.Balance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := lockGroup(ctx, q, groupID, ""); gerr != nil {
				return User{}, gerr
			}
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

const uomeColumns = `
    SELECT id, group_id, lender, borrower, value, description,
           issuer_signature, borrower_signature, created_at
    FROM uomes`

func scanUOMe(row pgx.Row) (UOMe, error) {
	var u UOMe
	err := row.Scan(&u.ID, &u.GroupID, &u.Lender, &u.Borrower, &u.Value, &u.Description,
		&u.IssuerSignature, &u.BorrowerSignature, &u.CreatedAt)
	return u, err
}

func pgUOMe(ctx context.Context, q querier, groupID, uomeID, lock string) (UOMe, error) {
	gid, err := normalizeID(groupID, ErrGroupNotFound)
	if err != nil {
		return UOMe{}, err
	}
	id, err := normalizeID(uomeID, ErrUOMeNotFound)
	if err != nil {
		return UOMe{}, err
	}
	u, err := scanUOMe(q.QueryRow(ctx, uomeColumns+` WHERE id = $1 AND group_id = $2 `+lock, id, gid))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, gerr := lockGroup(ctx, q, gid, ""); gerr != nil {
				return UOMe{}, gerr
			}
			return UOMe{}, ErrUOMeNotFound
		}
		return UOMe{}, err
	}
	return u, nil
}

func pgBalances(ctx context.Context, q querier, groupID, lock string) (map[string]int64, error) {
	rows, err := q.Query(ctx, `SELECT key, balance FROM users WHERE group_id = $1 ORDER BY key `+lock, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var balance int64
		if err := rows.Scan(&key, &balance); err != nil {
			return nil, err
		}
		out[key] = balance
	}
	return out, rows.Err()
}

func pgDebts(ctx context.Context, q querier, groupID string) ([]Debt, error) {
	rows, err := q.Query(ctx,
		`SELECT group_id, borrower, lender, value FROM debts WHERE group_id = $1 ORDER BY borrower, lender`,
		groupID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Debt, error) {
		var d Debt
		err := row.Scan(&d.GroupID, &d.Borrower, &d.Lender, &d.Value)
		return d, err
	})
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
