package postgres

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cory-johannsen/actioncards/internal/game/session"
)

// Account roles. They are the session operator roles; gm and admin are
// privileged.
const (
	RolePlayer = session.RolePlayer
	RoleGM     = session.RoleGM
	RoleAdmin  = session.RoleAdmin
)

var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidRole        = errors.New("invalid role")
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

const accountColumns = `id, username, password_hash, role, created_at`

// passwordCost is the bcrypt cost used by HashPassword.
var passwordCost = bcrypt.DefaultCost

// ValidRole reports whether role is player, gm, or admin.
func ValidRole(role string) bool {
	return role == RolePlayer || role == RoleGM || role == RoleAdmin
}

// Account is an operator's login. Its role decides whether the operator's
// action cards apply directly or wait for approval.
type Account struct {
	ID           int64     `db:"id"`
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	Role         string    `db:"role"`
	CreatedAt    time.Time `db:"created_at"`
}

// Operator seats the account at tableID.
//
// Postcondition: UserID is the decimal account ID; Inbox is nil until the
// session manager registers the operator.
func (a Account) Operator(tableID string) *session.Operator {
	return &session.Operator{
		UserID:   strconv.FormatInt(a.ID, 10),
		Username: a.Username,
		Role:     a.Role,
		TableID:  tableID,
	}
}

// AccountRepository persists accounts.
type AccountRepository struct {
	db *pgxpool.Pool
}

// NewAccountRepository creates an AccountRepository.
//
// Precondition: db must be open.
func NewAccountRepository(db *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) one(ctx context.Context, sql string, args ...any) (Account, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return Account{}, err
	}
	acct, err := pgx.CollectOneRow(rows, pgx.RowToStructByName[Account])
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	return acct, err
}

// Create inserts a player account with a bcrypt-hashed password.
//
// Precondition: username and password must be non-empty.
// Postcondition: Returns the stored account, or ErrAccountExists when the
// username is taken.
func (r *AccountRepository) Create(ctx context.Context, username, password string) (Account, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return Account{}, fmt.Errorf("hashing password: %w", err)
	}
	acct, err := r.one(ctx,
		`INSERT INTO accounts (username, password_hash) VALUES ($1, $2) RETURNING `+accountColumns,
		username, hash,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return Account{}, ErrAccountExists
	}
	if err != nil {
		return Account{}, fmt.Errorf("inserting account %q: %w", username, err)
	}
	return acct, nil
}

// GetByUsername returns the account named username, or ErrAccountNotFound.
func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (Account, error) {
	acct, err := r.one(ctx, `SELECT `+accountColumns+` FROM accounts WHERE username = $1`, username)
	if err != nil && !errors.Is(err, ErrAccountNotFound) {
		return Account{}, fmt.Errorf("querying account %q: %w", username, err)
	}
	return acct, err
}

// Authenticate returns the account when password matches.
//
// Postcondition: Returns ErrAccountNotFound for an unknown username and
// ErrInvalidCredentials for a wrong password.
func (r *AccountRepository) Authenticate(ctx context.Context, username, password string) (Account, error) {
	acct, err := r.GetByUsername(ctx, username)
	if err != nil {
		return Account{}, err
	}
	if !CheckPassword(password, acct.PasswordHash) {
		return Account{}, ErrInvalidCredentials
	}
	return acct, nil
}

// ListByRole returns every account holding role, ordered by username.
//
// Postcondition: Returns ErrInvalidRole for an unknown role.
func (r *AccountRepository) ListByRole(ctx context.Context, role string) ([]Account, error) {
	if !ValidRole(role) {
		return nil, ErrInvalidRole
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE role = $1 ORDER BY username`, role)
	if err != nil {
		return nil, fmt.Errorf("listing %s accounts: %w", role, err)
	}
	return pgx.CollectRows(rows, pgx.RowToStructByName[Account])
}

// SetRole changes an account's role.
//
// Postcondition: Returns ErrInvalidRole or ErrAccountNotFound without
// changing anything.
func (r *AccountRepository) SetRole(ctx context.Context, accountID int64, role string) error {
	if !ValidRole(role) {
		return ErrInvalidRole
	}
	tag, err := r.db.Exec(ctx, `UPDATE accounts SET role = $1 WHERE id = $2`, role, accountID)
	if err != nil {
		return fmt.Errorf("updating role of account %d: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// HashPassword bcrypt-hashes password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	return string(hash), err
}

// CheckPassword reports whether password matches hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
