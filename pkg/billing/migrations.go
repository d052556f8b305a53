package billing

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the catalog and purchase tables. It runs after the
// firms set; firms.plan_id carries no foreign key to plans.
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "billing",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create plans, storage_addons and firm_addons tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS plans (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						max_users INTEGER CHECK (max_users IS NULL OR max_users > 0),
						storage_per_user_gb INTEGER NOT NULL DEFAULT 0 CHECK (storage_per_user_gb >= 0),
						price_cents BIGINT NOT NULL DEFAULT 0,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE TABLE IF NOT EXISTS storage_addons (
						id TEXT PRIMARY KEY,
						name TEXT NOT NULL,
						storage_gb INTEGER NOT NULL CHECK (storage_gb > 0),
						price_cents BIGINT NOT NULL DEFAULT 0,
						active BOOLEAN NOT NULL DEFAULT TRUE,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE TABLE IF NOT EXISTS firm_addons (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						addon_id TEXT NOT NULL REFERENCES storage_addons(id),
						status TEXT NOT NULL DEFAULT 'active' CHECK (status IN ('active', 'canceled')),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						canceled_at TIMESTAMPTZ
					);

					CREATE INDEX IF NOT EXISTS idx_firm_addons_firm ON firm_addons(firm_id, status);
				`,
			},
		},
	}
}
