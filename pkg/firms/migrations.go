package firms

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the schema for users, firms, invitations and join requests.
// It must run before the rbac set, which references firms and users.
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "firms",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create users and firms tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS users (
						id TEXT PRIMARY KEY,
						email TEXT NOT NULL UNIQUE,
						full_name TEXT,
						firm_id TEXT,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE TABLE IF NOT EXISTS firms (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						admin_id TEXT NOT NULL REFERENCES users(id),
						plan_id TEXT,
						subscription_status TEXT NOT NULL DEFAULT 'trial'
							CHECK (subscription_status IN ('trial', 'active', 'past_due', 'canceled', 'expired', 'read_only')),
						trial_ends_at TIMESTAMPTZ,
						max_users INTEGER,
						current_users INTEGER NOT NULL DEFAULT 0,
						max_storage_bytes BIGINT,
						storage_used_bytes BIGINT NOT NULL DEFAULT 0 CHECK (storage_used_bytes >= 0),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						deleted_at TIMESTAMPTZ
					);

					ALTER TABLE users ADD CONSTRAINT fk_users_firm
						FOREIGN KEY (firm_id) REFERENCES firms(id) ON DELETE SET NULL;

					CREATE INDEX IF NOT EXISTS idx_users_firm ON users(firm_id);
					CREATE INDEX IF NOT EXISTS idx_firms_trial ON firms(subscription_status, trial_ends_at)
						WHERE deleted_at IS NULL;
				`,
			},
			{
				Version:     2,
				Description: "Create invitations and join_requests tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS invitations (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						email TEXT NOT NULL,
						role_id TEXT,
						token TEXT NOT NULL UNIQUE,
						invited_by TEXT NOT NULL REFERENCES users(id),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						expires_at TIMESTAMPTZ NOT NULL,
						accepted_at TIMESTAMPTZ,
						accepted_by TEXT REFERENCES users(id),
						revoked_at TIMESTAMPTZ
					);

					CREATE INDEX IF NOT EXISTS idx_invitations_firm ON invitations(firm_id);
					CREATE INDEX IF NOT EXISTS idx_invitations_expires ON invitations(expires_at)
						WHERE accepted_at IS NULL;

					CREATE TABLE IF NOT EXISTS join_requests (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						user_id TEXT NOT NULL REFERENCES users(id),
						message TEXT,
						status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected')),
						decided_by TEXT REFERENCES users(id),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE UNIQUE INDEX IF NOT EXISTS idx_join_requests_pending
						ON join_requests(firm_id, user_id) WHERE status = 'pending';
				`,
			},
		},
	}
}
