package shop

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoSession means no access token is stored for a shop. For a
// webhook invocation this is fatal: the cycle fails and redelivery is
// left to the platform.
var ErrNoSession = errors.New("no session found for shop")

// Session holds the offline access token stored when a shop installs
// the app.
type Session struct {
	Shop        string
	AccessToken string
	CreatedAt   time.Time
}

// Settings are the per-shop switches gating the pipeline. A shop with
// no row behaves as fully disabled.
type Settings struct {
	Shop             string    `json:"shop"`
	AutoEmailEnabled bool      `json:"autoEmailGloballyEnabled"`
	WebhookActive    bool      `json:"webhookActive"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// DBPool matches the methods from *pgxpool.Pool that we use.
type DBPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

type Repository interface {
	SessionFor(ctx context.Context, shopDomain string) (Session, error)
	SaveSession(ctx context.Context, sess Session) error
	SettingsFor(ctx context.Context, shopDomain string) (Settings, error)
	SaveSettings(ctx context.Context, settings Settings) error
}

type PostgresRepository struct {
	pool DBPool
}

func NewPostgresRepository(pool DBPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) SessionFor(ctx context.Context, shopDomain string) (Session, error) {
	var sess Session
	row := r.pool.QueryRow(ctx, `
		SELECT shop, access_token, created_at FROM shop_sessions WHERE shop=$1
	`, shopDomain)
	if err := row.Scan(&sess.Shop, &sess.AccessToken, &sess.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, ErrNoSession
		}
		return Session{}, err
	}
	return sess, nil
}

func (r *PostgresRepository) SaveSession(ctx context.Context, sess Session) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shop_sessions (shop, access_token)
		VALUES ($1, $2)
		ON CONFLICT (shop) DO UPDATE SET access_token=EXCLUDED.access_token
	`, sess.Shop, sess.AccessToken)
	return err
}

// SettingsFor returns the stored settings for a shop. An absent row is
// not an error: the zero Settings (everything off) is returned, which
// keeps the pipeline a no-op for unconfigured shops.
func (r *PostgresRepository) SettingsFor(ctx context.Context, shopDomain string) (Settings, error) {
	var s Settings
	row := r.pool.QueryRow(ctx, `
		SELECT shop, auto_email_enabled, webhook_active, updated_at
		FROM shop_settings WHERE shop=$1
	`, shopDomain)
	if err := row.Scan(&s.Shop, &s.AutoEmailEnabled, &s.WebhookActive, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Settings{Shop: shopDomain}, nil
		}
		return Settings{}, err
	}
	return s, nil
}

func (r *PostgresRepository) SaveSettings(ctx context.Context, settings Settings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shop_settings (shop, auto_email_enabled, webhook_active)
		VALUES ($1, $2, $3)
		ON CONFLICT (shop) DO UPDATE SET
			auto_email_enabled=EXCLUDED.auto_email_enabled,
			webhook_active=EXCLUDED.webhook_active,
			updated_at=now()
	`, settings.Shop, settings.AutoEmailEnabled, settings.WebhookActive)
	return err
}
