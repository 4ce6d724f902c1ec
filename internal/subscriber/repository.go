package subscriber

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound  = errors.New("subscriber not found")
	ErrDuplicate = errors.New("subscription already exists")
)

const uniqueViolation = "23505"

// DBPool matches the methods from *pgxpool.Pool that we use.
// This allows us to mock the database in tests.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	ListByShop(ctx context.Context, shopDomain string) ([]Subscriber, error)
	Create(ctx context.Context, sub Subscriber) (Subscriber, error)
	UpdateEmailFlag(ctx context.Context, key Key, sent int) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ListByShop(ctx context.Context, shopDomain string) ([]Subscriber, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, email, product_id, variant_id, shop, auto_email_enabled, email_sent, created_at, updated_at
		FROM subscribers
		WHERE shop=$1
		ORDER BY id
	`, shopDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscriber
	for rows.Next() {
		var s Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.ProductID, &s.VariantID, &s.Shop,
			&s.AutoEmailEnabled, &s.EmailSent, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

func (r *PostgresRepository) Create(ctx context.Context, sub Subscriber) (Subscriber, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO subscribers (email, product_id, variant_id, shop, auto_email_enabled)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, email, product_id, variant_id, shop, auto_email_enabled, email_sent, created_at, updated_at
	`, normalizeEmail(sub.Email), strings.TrimSpace(sub.ProductID), strings.TrimSpace(sub.VariantID), sub.Shop, sub.AutoEmailEnabled)

	var created Subscriber
	err := row.Scan(&created.ID, &created.Email, &created.ProductID, &created.VariantID, &created.Shop,
		&created.AutoEmailEnabled, &created.EmailSent, &created.CreatedAt, &created.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Subscriber{}, ErrDuplicate
		}
		return Subscriber{}, err
	}
	return created, nil
}

// UpdateEmailFlag sets email_sent for the row matched by the full
// subscription key. The dispatch loop calls this with sent=1 after each
// confirmed send.
func (r *PostgresRepository) UpdateEmailFlag(ctx context.Context, key Key, sent int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE subscribers
		SET email_sent=$5, updated_at=now()
		WHERE email=$1 AND product_id=$2 AND variant_id=$3 AND shop=$4
	`, normalizeEmail(key.Email), strings.TrimSpace(key.ProductID), strings.TrimSpace(key.VariantID), key.Shop, sent)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
