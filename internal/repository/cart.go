package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

type CartRepository interface {
	ListLines(ctx context.Context, owner model.Owner) ([]model.CartLine, error)
	FindLine(ctx context.Context, owner model.Owner, productID uuid.UUID, variantID *uuid.UUID) (*model.CartLine, error)
	GetLine(ctx context.Context, id uuid.UUID) (*model.CartLine, error)
	AddLine(ctx context.Context, line *model.CartLine) error
	UpdateQuantity(ctx context.Context, id uuid.UUID, quantity int) error
	DeleteLine(ctx context.Context, id uuid.UUID) error
	Clear(ctx context.Context, owner model.Owner) error
	Reassign(ctx context.Context, id uuid.UUID, owner model.Owner) error
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

const cartLineColumns = `id, user_id, session_id, product_id, variant_id, quantity, unit_price, created_at, updated_at`

func scanCartLine(row pgx.Row) (*model.CartLine, error) {
	var (
		l         model.CartLine
		userID    *uuid.UUID
		sessionID *string
	)
	if err := row.Scan(&l.ID, &userID, &sessionID, &l.ProductID, &l.VariantID,
		&l.Quantity, &l.UnitPrice, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	if userID != nil {
		l.Owner = model.UserOwner(*userID)
	} else if sessionID != nil {
		l.Owner = model.GuestOwner(*sessionID)
	}
	return &l, nil
}

func (r *pgCartRepo) ListLines(ctx context.Context, owner model.Owner) ([]model.CartLine, error) {
	where, args := OwnerCriteria(owner).Where(1)
	rows, err := conn(ctx, r.pool).Query(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	defer rows.Close()

	var lines []model.CartLine
	for rows.Next() {
		l, err := scanCartLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, *l)
	}
	return lines, rows.Err()
}

func (r *pgCartRepo) FindLine(ctx context.Context, owner model.Owner, productID uuid.UUID, variantID *uuid.UUID) (*model.CartLine, error) {
	where, args := OwnerCriteria(owner).
		And(Eq("product_id", productID), VariantCriterion(variantID)).
		Where(1)
	l, err := scanCartLine(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find cart line: %w", err)
	}
	return l, nil
}

func (r *pgCartRepo) GetLine(ctx context.Context, id uuid.UUID) (*model.CartLine, error) {
	l, err := scanCartLine(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+cartLineColumns+` FROM cart_lines WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart line: %w", err)
	}
	return l, nil
}

// lineConflict names the unique index a new line can collide with; the
// target has to repeat the index expression and predicate verbatim.
func lineConflict(o model.Owner) string {
	col := "session_id"
	if o.IsUser() {
		col = "user_id"
	}
	return `(` + col + `, product_id, COALESCE(variant_id, '00000000-0000-0000-0000-000000000000'))
		 WHERE ` + col + ` IS NOT NULL`
}

// AddLine inserts the line, or grows the owner's existing line for the same
// product and variant by line.Quantity. The existing line keeps its unit
// price. line is updated with the stored row.
func (r *pgCartRepo) AddLine(ctx context.Context, line *model.CartLine) error {
	if line.Quantity < 1 {
		return ErrInvalidQuantity
	}
	userID, sessionID := ownerColumns(line.Owner)
	err := conn(ctx, r.pool).QueryRow(ctx,
		`INSERT INTO cart_lines (id, user_id, session_id, product_id, variant_id, quantity, unit_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 ON CONFLICT `+lineConflict(line.Owner)+`
		 DO UPDATE SET quantity = cart_lines.quantity + EXCLUDED.quantity, updated_at = NOW()
		 RETURNING id, quantity, unit_price, created_at, updated_at`,
		uuid.New(), userID, sessionID, line.ProductID, line.VariantID, line.Quantity, line.UnitPrice,
	).Scan(&line.ID, &line.Quantity, &line.UnitPrice, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return fmt.Errorf("add cart line: %w", err)
	}
	return nil
}

func (r *pgCartRepo) UpdateQuantity(ctx context.Context, id uuid.UUID, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE cart_lines SET quantity = $2, updated_at = NOW() WHERE id = $1`, id, quantity)
	if err != nil {
		return fmt.Errorf("update cart line: %w", err)
	}
	return nil
}

func (r *pgCartRepo) DeleteLine(ctx context.Context, id uuid.UUID) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete cart line: %w", err)
	}
	return nil
}

func (r *pgCartRepo) Clear(ctx context.Context, owner model.Owner) error {
	where, args := OwnerCriteria(owner).Where(1)
	_, err := conn(ctx, r.pool).Exec(ctx, `DELETE FROM cart_lines `+where, args...)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Reassign moves a line to another owner.
func (r *pgCartRepo) Reassign(ctx context.Context, id uuid.UUID, owner model.Owner) error {
	userID, sessionID := ownerColumns(owner)
	_, err := conn(ctx, r.pool).Exec(ctx,
		`UPDATE cart_lines SET user_id = $2, session_id = $3, updated_at = NOW() WHERE id = $1`,
		id, userID, sessionID)
	if err != nil {
		return fmt.Errorf("reassign cart line: %w", err)
	}
	return nil
}
