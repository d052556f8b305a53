package rbac

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the schema for roles and memberships
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "rbac",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create roles and firm_users tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS roles (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						name TEXT NOT NULL,
						description TEXT,
						permissions TEXT[] NOT NULL DEFAULT '{}',
						policy JSONB NOT NULL DEFAULT '{"resources": []}',
						is_system BOOLEAN NOT NULL DEFAULT FALSE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						UNIQUE (firm_id, name)
					);

					CREATE TABLE IF NOT EXISTS firm_users (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						user_id TEXT NOT NULL REFERENCES users(id),
						role_id TEXT REFERENCES roles(id) ON DELETE SET NULL,
						status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'pending', 'deleted')),
						custom_permissions TEXT[] NOT NULL DEFAULT '{}',
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						UNIQUE (firm_id, user_id)
					);

					CREATE INDEX IF NOT EXISTS idx_firm_users_user ON firm_users(user_id);
					CREATE INDEX IF NOT EXISTS idx_firm_users_firm_status ON firm_users(firm_id, status);
					CREATE INDEX IF NOT EXISTS idx_firm_users_role ON firm_users(role_id);
				`,
			},
		},
	}
}
