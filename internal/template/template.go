package template

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("email template not found")

// EmailTemplate is the stored restock email for one shop. HTML carries
// the named insertion slots consumed by Render.
type EmailTemplate struct {
	Shop      string    `json:"shop"`
	Subject   string    `json:"subject"`
	FromEmail string    `json:"fromEmail"`
	FromName  string    `json:"fromName"`
	HTML      string    `json:"htmlTemplate"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	ForShop(ctx context.Context, shopDomain string) (EmailTemplate, error)
	Save(ctx context.Context, tmpl EmailTemplate) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) ForShop(ctx context.Context, shopDomain string) (EmailTemplate, error) {
	var t EmailTemplate
	row := r.pool.QueryRow(ctx, `
		SELECT shop, subject, from_email, from_name, html_template, updated_at
		FROM email_templates WHERE shop=$1
	`, shopDomain)
	if err := row.Scan(&t.Shop, &t.Subject, &t.FromEmail, &t.FromName, &t.HTML, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EmailTemplate{}, ErrNotFound
		}
		return EmailTemplate{}, err
	}
	return t, nil
}

func (r *PostgresRepository) Save(ctx context.Context, tmpl EmailTemplate) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_templates (shop, subject, from_email, from_name, html_template)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (shop) DO UPDATE SET
			subject=EXCLUDED.subject,
			from_email=EXCLUDED.from_email,
			from_name=EXCLUDED.from_name,
			html_template=EXCLUDED.html_template,
			updated_at=now()
	`, tmpl.Shop, tmpl.Subject, tmpl.FromEmail, tmpl.FromName, tmpl.HTML)
	return err
}
