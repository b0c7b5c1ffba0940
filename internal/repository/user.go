package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

var ErrEmailTaken = errors.New("email already registered")

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
}

type pgUserRepo struct{ pool *pgxpool.Pool }

func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &pgUserRepo{pool: pool}
}

const userColumns = `id, email, password_hash, first_name, last_name, role, created_at, updated_at`

// Create stores the user with a lowercased email. Registering an address that
// differs only in case from an existing one yields ErrEmailTaken.
func (r *pgUserRepo) Create(ctx context.Context, user *model.User) error {
	user.ID = uuid.New()
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	if user.Role == "" {
		user.Role = "customer"
	}

	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 RETURNING created_at, updated_at`,
		user.ID, user.Email, user.Password, user.FirstName, user.LastName, user.Role,
	).Scan(&user.CreatedAt, &user.UpdatedAt)

	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return ErrEmailTaken
	default:
		return fmt.Errorf("create user: %w", err)
	}
}

func (r *pgUserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *pgUserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findOne(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (r *pgUserRepo) findOne(ctx context.Context, column string, value any) (*model.User, error) {
	where, args := Criteria{Eq(column, value)}.Where(1)
	var u model.User
	err := conn(ctx, r.pool).QueryRow(ctx, `SELECT `+userColumns+` FROM users `+where, args...).Scan(
		&u.ID, &u.Email, &u.Password, &u.FirstName, &u.LastName, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by %s: %w", column, err)
	}
	return &u, nil
}
