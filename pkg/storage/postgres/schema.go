package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one idempotent schema step
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the credential store schema in order
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create user_profiles and user_credentials tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_profiles (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL UNIQUE,
					full_name TEXT NOT NULL DEFAULT '',
					role TEXT NOT NULL DEFAULT 'viewer'
						CHECK (role IN ('super_admin', 'admin', 'manager', 'analyst', 'viewer')),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					email_verified BOOLEAN NOT NULL DEFAULT FALSE,
					two_factor_enabled BOOLEAN NOT NULL DEFAULT FALSE,
					failed_login_attempts INTEGER NOT NULL DEFAULT 0,
					locked_until TIMESTAMPTZ,
					password_changed_at TIMESTAMPTZ,
					login_count INTEGER NOT NULL DEFAULT 0,
					last_login_at TIMESTAMPTZ,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_credentials (
					user_id TEXT PRIMARY KEY REFERENCES user_profiles(id),
					password_hash TEXT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     2,
			Description: "Create companies and user_company_access tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS companies (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS user_company_access (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES user_profiles(id),
					company_id TEXT NOT NULL REFERENCES companies(id),
					role TEXT NOT NULL,
					permissions JSONB NOT NULL DEFAULT '{}',
					granted_by TEXT REFERENCES user_profiles(id),
					granted_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMPTZ,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					UNIQUE (user_id, company_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_company_access_user ON user_company_access(user_id) WHERE is_active;
			`,
		},
		{
			Version:     3,
			Description: "Create user_sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_sessions (
					id TEXT PRIMARY KEY,
					user_id TEXT NOT NULL REFERENCES user_profiles(id),
					session_token_hash TEXT NOT NULL,
					refresh_token_hash TEXT NOT NULL UNIQUE,
					expires_at TIMESTAMPTZ NOT NULL,
					refresh_expires_at TIMESTAMPTZ NOT NULL,
					last_activity_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					login_method TEXT NOT NULL,
					ip_address TEXT NOT NULL DEFAULT '',
					user_agent TEXT NOT NULL DEFAULT '',
					logout_at TIMESTAMPTZ,
					logout_reason TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_user_sessions_user ON user_sessions(user_id) WHERE is_active;
			`,
		},
		{
			Version:     4,
			Description: "Create invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invitations (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL,
					invited_by TEXT NOT NULL REFERENCES user_profiles(id),
					company_id TEXT REFERENCES companies(id),
					role TEXT NOT NULL,
					permissions JSONB NOT NULL DEFAULT '{}',
					token_hash TEXT NOT NULL UNIQUE,
					status TEXT NOT NULL DEFAULT 'pending'
						CHECK (status IN ('pending', 'accepted', 'expired', 'revoked')),
					expires_at TIMESTAMPTZ NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					accepted_at TIMESTAMPTZ,
					accepted_by TEXT REFERENCES user_profiles(id)
				);

				CREATE INDEX IF NOT EXISTS idx_invitations_pending ON invitations(expires_at) WHERE status = 'pending';
			`,
		},
		{
			Version:     5,
			Description: "Create audit_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_logs (
					id BIGSERIAL PRIMARY KEY,
					user_id TEXT,
					session_id TEXT,
					action TEXT NOT NULL,
					resource_type TEXT NOT NULL,
					resource_id TEXT,
					old_values JSONB,
					new_values JSONB,
					metadata JSONB,
					ip_address TEXT,
					user_agent TEXT,
					request_id TEXT,
					success BOOLEAN NOT NULL,
					error_message TEXT,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_audit_logs_created_at ON audit_logs(created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action);
				CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
			`,
		},
	}
}

// EnsureSchema applies every migration not yet recorded in schema_migrations
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range Migrations() {
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var applied bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
	).Scan(&applied); err != nil {
		return fmt.Errorf("failed to check migration: %w", err)
	}
	if applied {
		return nil
	}

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to apply: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`, m.Version, m.Description,
	); err != nil {
		return fmt.Errorf("failed to record: %w", err)
	}

	return tx.Commit()
}
