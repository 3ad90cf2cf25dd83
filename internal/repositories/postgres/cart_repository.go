package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	domain "github.com/Arpitray/commerce/internal/domain"
	"github.com/Arpitray/commerce/internal/repositories"
)

const (
	incrementLineSQL = `INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING quantity, created_at, updated_at`
	setLineSQL = `INSERT INTO cart_items (user_id, product_id, quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = EXCLUDED.updated_at
		RETURNING quantity, created_at, updated_at`
	lockLineSQL   = `SELECT quantity, created_at FROM cart_items WHERE user_id = $1 AND product_id = $2 FOR UPDATE`
	updateLineSQL = `UPDATE cart_items SET quantity = $3, updated_at = $4 WHERE user_id = $1 AND product_id = $2`
	deleteLineSQL = `DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`
	deleteAllSQL  = `DELETE FROM cart_items WHERE user_id = $1`
	listLinesSQL  = `SELECT product_id, quantity, created_at, updated_at FROM cart_items WHERE user_id = $1 ORDER BY created_at, product_id`
)

// CartRepository stores cart lines in the cart_items table.
type CartRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCartRepository wraps an open database handle.
func NewCartRepository(db *sql.DB) (*CartRepository, error) {
	if db == nil {
		return nil, errors.New("cart repository requires database handle")
	}
	return &CartRepository{db: db, now: time.Now}, nil
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// IncrementLine upserts the line adding delta to any stored quantity. Negative deltas update in
// place and drop the row once it is no longer positive.
func (r *CartRepository) IncrementLine(ctx context.Context, userID string, productID domain.ProductID, delta int) (domain.RemoteCartLine, error) {
	userID, pid, err := lineKey(userID, productID)
	if err != nil {
		return domain.RemoteCartLine{}, err
	}
	now := r.now().UTC()
	line := domain.RemoteCartLine{UserID: userID, ProductID: productID}

	if delta > 0 {
		err = r.db.QueryRowContext(ctx, incrementLineSQL, userID, pid, delta, now).
			Scan(&line.Quantity, &line.CreatedAt, &line.UpdatedAt)
		if err != nil {
			return domain.RemoteCartLine{}, wrapError("cart_items.increment", err)
		}
		return line, nil
	}

	err = r.inTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx, lockLineSQL, userID, pid).
			Scan(&current, &line.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			line.UpdatedAt = now
			return nil
		}
		if err != nil {
			return err
		}
		line.Quantity = current + delta
		line.UpdatedAt = now
		if line.Quantity <= 0 {
			line.Quantity = 0
			_, err = tx.ExecContext(ctx, deleteLineSQL, userID, pid)
			return err
		}
		_, err = tx.ExecContext(ctx, updateLineSQL, userID, pid, line.Quantity, now)
		return err
	})
	if err != nil {
		return domain.RemoteCartLine{}, wrapError("cart_items.increment", err)
	}
	return line, nil
}

// SetLineQuantity overwrites the stored quantity. Non-positive quantities delete the row.
func (r *CartRepository) SetLineQuantity(ctx context.Context, userID string, productID domain.ProductID, quantity int) (domain.RemoteCartLine, error) {
	userID, pid, err := lineKey(userID, productID)
	if err != nil {
		return domain.RemoteCartLine{}, err
	}
	now := r.now().UTC()
	if quantity <= 0 {
		if _, err := r.db.ExecContext(ctx, deleteLineSQL, userID, pid); err != nil {
			return domain.RemoteCartLine{}, wrapError("cart_items.set_quantity", err)
		}
		return domain.RemoteCartLine{UserID: userID, ProductID: productID, UpdatedAt: now}, nil
	}
	line := domain.RemoteCartLine{UserID: userID, ProductID: productID}
	err = r.db.QueryRowContext(ctx, setLineSQL, userID, pid, quantity, now).
		Scan(&line.Quantity, &line.CreatedAt, &line.UpdatedAt)
	if err != nil {
		return domain.RemoteCartLine{}, wrapError("cart_items.set_quantity", err)
	}
	return line, nil
}

// DeleteLine removes one line; absent lines are not an error.
func (r *CartRepository) DeleteLine(ctx context.Context, userID string, productID domain.ProductID) error {
	userID, pid, err := lineKey(userID, productID)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, deleteLineSQL, userID, pid); err != nil {
		return wrapError("cart_items.delete", err)
	}
	return nil
}

// DeleteAll removes every line owned by userID.
func (r *CartRepository) DeleteAll(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("cart repository: user id is required")
	}
	if _, err := r.db.ExecContext(ctx, deleteAllSQL, userID); err != nil {
		return wrapError("cart_items.delete_all", err)
	}
	return nil
}

// ListLines returns the user's lines ordered by creation time.
func (r *CartRepository) ListLines(ctx context.Context, userID string) ([]domain.RemoteCartLine, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("cart repository: user id is required")
	}
	rows, err := r.db.QueryContext(ctx, listLinesSQL, userID)
	if err != nil {
		return nil, wrapError("cart_items.list", err)
	}
	defer rows.Close()

	var lines []domain.RemoteCartLine
	for rows.Next() {
		var (
			pid  string
			line = domain.RemoteCartLine{UserID: userID}
		)
		if err := rows.Scan(&pid, &line.Quantity, &line.CreatedAt, &line.UpdatedAt); err != nil {
			return nil, wrapError("cart_items.list", err)
		}
		line.ProductID = domain.ProductID(pid)
		line.CreatedAt = line.CreatedAt.UTC()
		line.UpdatedAt = line.UpdatedAt.UTC()
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("cart_items.list", err)
	}
	return lines, nil
}

// Ping verifies connectivity for readiness probes.
func (r *CartRepository) Ping(ctx context.Context) error {
	return wrapError("cart_items.ping", r.db.PingContext(ctx))
}

func (r *CartRepository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func lineKey(userID string, productID domain.ProductID) (string, string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", "", errors.New("cart repository: user id is required")
	}
	pid := strings.TrimSpace(productID.String())
	if pid == "" {
		return "", "", errors.New("cart repository: product id is required")
	}
	return userID, pid, nil
}
