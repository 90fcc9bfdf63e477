package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SQLiteLedger is an embedded single-node backend. The database handle is
// expected to hold one connection, which serializes every transaction.
type SQLiteLedger struct {
	db  *sql.DB
	now func() time.Time
}

var _ Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger wraps an open SQLite handle.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the ledger tables if they do not exist.
func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (l *SQLiteLedger) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() // nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (l *SQLiteLedger) CreateGroup(ctx context.Context, name, key string) (Group, error) {
	g := Group{ID: uuid.NewString(), Name: name, Key: key, CreatedAt: l.now()}
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM groups WHERE key = ?)`, key).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrGroupExists
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO groups (id, name, key, created_at) VALUES (?, ?, ?, ?)`,
			g.ID, g.Name, g.Key, g.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return Group{}, err
	}
	return g, nil
}

func (l *SQLiteLedger) GetGroup(ctx context.Context, groupID string) (Group, error) {
	var g Group
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		g, err = sqliteGroup(ctx, tx, groupID)
		return err
	})
	return g, err
}

func (l *SQLiteLedger) DeleteGroup(ctx context.Context, groupID string) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		g, err := sqliteGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		var referenced bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM uomes WHERE group_id = ?)`, g.ID).Scan(&referenced); err != nil {
			return err
		}
		if referenced {
			return ErrGroupInUse
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, g.ID)
		return err
	})
}

func (l *SQLiteLedger) AddUser(ctx context.Context, groupID, key string) (User, error) {
	var u User
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		g, err := sqliteGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE key = ?)`, key).Scan(&exists); err != nil {
			return err
		}
		if exists {
			return ErrUserExists
		}
		u = User{Key: key, GroupID: g.ID, CreatedAt: l.now()}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO users (key, group_id, balance, created_at) VALUES (?, ?, 0, ?)`,
			u.Key, u.GroupID, u.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (l *SQLiteLedger) GetUser(ctx context.Context, groupID, key string) (User, error) {
	var u User
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		u, err = sqliteMember(ctx, tx, groupID, key)
		return err
	})
	return u, err
}

func (l *SQLiteLedger) IssueUOMe(ctx context.Context, req IssueRequest) (UOMe, error) {
	if err := ValidateIssue(req); err != nil {
		return UOMe{}, err
	}
	var u UOMe
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		g, err := sqliteGroup(ctx, tx, req.GroupID)
		if err != nil {
			return err
		}
		for _, key := range []string{req.Lender, req.Borrower} {
			if _, err := sqliteMember(ctx, tx, g.ID, key); err != nil {
				return err
			}
		}
		u = UOMe{
			ID:          uuid.NewString(),
			GroupID:     g.ID,
			Lender:      req.Lender,
			Borrower:    req.Borrower,
			Value:       req.Value,
			Description: req.Description,
			CreatedAt:   l.now(),
		}
		_, err = tx.ExecContext(ctx, `
            INSERT INTO uomes (id, group_id, lender, borrower, value, description, created_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.GroupID, u.Lender, u.Borrower, u.Value, u.Description, u.CreatedAt.UnixNano())
		return err
	})
	if err != nil {
		return UOMe{}, err
	}
	return u, nil
}

func (l *SQLiteLedger) GetUOMe(ctx context.Context, groupID, uomeID string) (UOMe, error) {
	var u UOMe
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		u, err = sqliteUOMe(ctx, tx, groupID, uomeID)
		return err
	})
	return u, err
}

func (l *SQLiteLedger) ConfirmUOMe(ctx context.Context, terms Terms, signature string) (UOMe, error) {
	var u UOMe
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		u, err = sqliteUOMe(ctx, tx, terms.GroupID, terms.UOMeID)
		if err != nil {
			return err
		}
		if err := checkConfirm(u, terms); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `UPDATE uomes SET issuer_signature = ? WHERE id = ?`, signature, u.ID)
		return err
	})
	if err != nil {
		return UOMe{}, err
	}
	u.IssuerSignature = signature
	return u, nil
}

func (l *SQLiteLedger) CancelUOMe(ctx context.Context, groupID, uomeID, user string) error {
	return l.inTx(ctx, func(tx *sql.Tx) error {
		u, err := sqliteUOMe(ctx, tx, groupID, uomeID)
		if err != nil {
			return err
		}
		if err := checkCancel(u, user); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM uomes WHERE id = ?`, u.ID)
		return err
	})
}

func (l *SQLiteLedger) AcceptUOMe(ctx context.Context, terms Terms, signature string) (Acceptance, error) {
	var acc Acceptance
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		u, err := sqliteUOMe(ctx, tx, terms.GroupID, terms.UOMeID)
		if err != nil {
			return err
		}
		if err := checkAccept(u, terms); err != nil {
			return err
		}

		balances, err := sqliteBalances(ctx, tx, u.GroupID)
		if err != nil {
			return err
		}
		if err := ApplyAcceptance(balances, u.Borrower, u.Lender, u.Value); err != nil {
			return err
		}
		debts := simplifyDebts(u.GroupID, balances)
		sortDebts(debts)

		if _, err := tx.ExecContext(ctx, `UPDATE uomes SET borrower_signature = ? WHERE id = ?`, signature, u.ID); err != nil {
			return err
		}
		for _, key := range []string{u.Borrower, u.Lender} {
			if _, err := tx.ExecContext(ctx, `UPDATE users SET balance = ? WHERE key = ?`, balances[key], key); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM debts WHERE group_id = ?`, u.GroupID); err != nil {
			return err
		}
		if len(debts) > 0 {
			placeholders := make([]string, 0, len(debts))
			args := make([]any, 0, 4*len(debts))
			for _, d := range debts {
				placeholders = append(placeholders, "(?, ?, ?, ?)")
				args = append(args, d.GroupID, d.Borrower, d.Lender, d.Value)
			}
			query := `INSERT INTO debts (group_id, borrower, lender, value) VALUES ` + strings.Join(placeholders, ", ")
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return err
			}
		}

		u.BorrowerSignature = signature
		acc = Acceptance{UOMe: u, Balances: balances, Debts: debts}
		return nil
	})
	if err != nil {
		return Acceptance{}, err
	}
	return acc, nil
}

func (l *SQLiteLedger) Pending(ctx context.Context, groupID, user string) (Pending, error) {
	var p Pending
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		member, err := sqliteMember(ctx, tx, groupID, user)
		if err != nil {
			return err
		}
		rows, err := tx.QueryContext(ctx, sqliteUOMeColumns+`
            WHERE group_id = ? AND issuer_signature <> '' AND borrower_signature = ''
              AND (lender = ? OR borrower = ?)
            ORDER BY created_at, id`, member.GroupID, user, user)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			u, err := scanSQLiteUOMe(rows)
			if err != nil {
				return err
			}
			if u.Lender == user {
				p.IssuedByUser = append(p.IssuedByUser, u)
			} else {
				p.WaitingForUser = append(p.WaitingForUser, u)
			}
		}
		return rows.Err()
	})
	return p, err
}

func (l *SQLiteLedger) Totals(ctx context.Context, groupID, user string) (Totals, error) {
	var t Totals
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		member, err := sqliteMember(ctx, tx, groupID, user)
		if err != nil {
			return err
		}
		debts, err := sqliteDebts(ctx, tx, member.GroupID)
		if err != nil {
			return err
		}
		t = Totals{Balance: member.Balance, Debts: touching(debts, user)}
		return nil
	})
	return t, err
}

func (l *SQLiteLedger) Balances(ctx context.Context, groupID string) (map[string]int64, error) {
	var out map[string]int64
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		g, err := sqliteGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		out, err = sqliteBalances(ctx, tx, g.ID)
		return err
	})
	return out, err
}

func (l *SQLiteLedger) Debts(ctx context.Context, groupID string) ([]Debt, error) {
	var out []Debt
	err := l.inTx(ctx, func(tx *sql.Tx) error {
		g, err := sqliteGroup(ctx, tx, groupID)
		if err != nil {
			return err
		}
		out, err = sqliteDebts(ctx, tx, g.ID)
		return err
	})
	return out, err
}

func sqliteGroup(ctx context.Context, q sqlQuerier, groupID string) (Group, error) {
	id, err := normalizeID(groupID, ErrGroupNotFound)
	if err != nil {
		return Group{}, err
	}
	var g Group
	var created int64
	err = q.QueryRowContext(ctx, `SELECT id, name, key, created_at FROM groups WHERE id = ?`, id).
		Scan(&g.ID, &g.Name, &g.Key, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, err
	}
	g.CreatedAt = time.Unix(0, created).UTC()
	return g, nil
}

func sqliteMember(ctx context.Context, q sqlQuerier, groupID, key string) (User, error) {
	g, err := sqliteGroup(ctx, q, groupID)
	if err != nil {
		return User{}, err
	}
	var u User
	var created int64
	err = q.QueryRowContext(ctx,
		`SELECT key, group_id, balance, created_at FROM users WHERE key = ? AND group_id = ?`,
		key, g.ID).Scan(&u.Key, &u.GroupID, &u.Balance, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

const sqliteUOMeColumns = `
    SELECT id, group_id, lender, borrower, value, description,
           issuer_signature, borrower_signature, created_at
    FROM uomes`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUOMe(row rowScanner) (UOMe, error) {
	var u UOMe
	var created int64
	err := row.Scan(&u.ID, &u.GroupID, &u.Lender, &u.Borrower, &u.Value, &u.Description,
		&u.IssuerSignature, &u.BorrowerSignature, &created)
	if err != nil {
		return UOMe{}, err
	}
	u.CreatedAt = time.Unix(0, created).UTC()
	return u, nil
}

func sqliteUOMe(ctx context.Context, q sqlQuerier, groupID, uomeID string) (UOMe, error) {
	g, err := sqliteGroup(ctx, q, groupID)
	if err != nil {
		return UOMe{}, err
	}
	id, err := normalizeID(uomeID, ErrUOMeNotFound)
	if err != nil {
		return UOMe{}, err
	}
	u, err := scanSQLiteUOMe(q.QueryRowContext(ctx, sqliteUOMeColumns+` WHERE id = ? AND group_id = ?`, id, g.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UOMe{}, ErrUOMeNotFound
		}
		return UOMe{}, err
	}
	return u, nil
}

func sqliteBalances(ctx context.Context, q sqlQuerier, groupID string) (map[string]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, balance FROM users WHERE group_id = ?`, groupID)
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

func sqliteDebts(ctx context.Context, q sqlQuerier, groupID string) ([]Debt, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT group_id, borrower, lender, value FROM debts WHERE group_id = ? ORDER BY borrower, lender`,
		groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Debt
	for rows.Next() {
		var d Debt
		if err := rows.Scan(&d.GroupID, &d.Borrower, &d.Lender, &d.Value); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
