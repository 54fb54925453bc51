package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"github.com/mwielgosz/userhub/internal/database"
)

var (
	ErrNotFound          = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("email address already exists")
	ErrDuplicateUsername = errors.New("username already exists")
)

// pq unique_violation
const uniqueViolationCode = "23505"

// Repository handles user persistence. Uniqueness of email and username
// is enforced by the table's constraints; a racing create has exactly
// one winner and the loser observes a duplicate error.
type Repository struct {
	db *bun.DB
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new user. The password hash must already be computed;
// plaintext never reaches this layer.
func (r *Repository) Create(ctx context.Context, u *User) (*User, error) {
	dbUser := &database.User{
		Name:         u.Name,
		Surname:      u.Surname,
		Birthdate:    u.Birthdate,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Confirmed:    false,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if dupErr := translateDuplicate(err); dupErr != nil {
			return nil, dupErr
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return fromDBUser(dbUser), nil
}

// GetByEmail retrieves a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	return r.getWhere(ctx, "email = ?", email)
}

// GetByUsername retrieves a user by username.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*User, error) {
	return r.getWhere(ctx, "username = ?", username)
}

// GetByIdentifier retrieves a user by email or username, whichever matches.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where("email = ?", identifier).
		WhereOr("username = ?", identifier).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user by identifier: %w", err)
	}

	return fromDBUser(dbUser), nil
}

// GetByID retrieves a user by its numeric identifier.
func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	return r.getWhere(ctx, "id = ?", id)
}

// List returns all users ordered by creation.
func (r *Repository) List(ctx context.Context) ([]User, error) {
	var dbUsers []database.User
	err := r.db.NewSelect().
		Model(&dbUsers).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	users := make([]User, 0, len(dbUsers))
	for i := range dbUsers {
		users = append(users, *fromDBUser(&dbUsers[i]))
	}
	return users, nil
}

// MarkConfirmed flips the confirmed flag. The flag only ever goes from
// false to true; confirming an already confirmed user is a no-op at
// this layer.
func (r *Repository) MarkConfirmed(ctx context.Context, userID int64) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("confirmed = ?", true).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to mark user confirmed: %w", err)
	}

	return requireRowsAffected(result)
}

// UpdatePassword replaces a user's password hash.
func (r *Repository) UpdatePassword(ctx context.Context, userID int64, passwordHash string) error {
	result, err := r.db.NewUpdate().
		Model((*database.User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = NOW()").
		Where("id = ?", userID).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	return requireRowsAffected(result)
}

func (r *Repository) getWhere(ctx context.Context, clause string, arg any) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where(clause, arg).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return fromDBUser(dbUser), nil
}

// translateDuplicate maps a Postgres unique violation to the matching
// sentinel, using the constraint name to tell email from username.
func translateDuplicate(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || string(pqErr.Code) != uniqueViolationCode {
		return nil
	}
	switch pqErr.Constraint {
	case "users_username_key":
		return ErrDuplicateUsername
	default:
		return ErrDuplicateEmail
	}
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func fromDBUser(dbu *database.User) *User {
	return &User{
		ID:           dbu.ID,
		Name:         dbu.Name,
		Surname:      dbu.Surname,
		Birthdate:    dbu.Birthdate,
		Username:     dbu.Username,
		Email:        dbu.Email,
		PasswordHash: dbu.PasswordHash,
		Confirmed:    dbu.Confirmed,
		CreatedAt:    dbu.CreatedAt,
		UpdatedAt:    dbu.UpdatedAt,
	}
}
