package practice

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the clients, cases and general_work tables
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "practice",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create clients, cases and general_work tables",
				SQL: `
					CREATE TABLE IF NOT EXISTS clients (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						created_by TEXT NOT NULL REFERENCES users(id),
						name TEXT NOT NULL,
						email TEXT NOT NULL DEFAULT '',
						phone TEXT NOT NULL DEFAULT '',
						address TEXT NOT NULL DEFAULT '',
						notes TEXT NOT NULL DEFAULT '',
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
					CREATE INDEX IF NOT EXISTS idx_clients_firm ON clients(firm_id, created_at DESC);

					CREATE TABLE IF NOT EXISTS cases (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						created_by TEXT NOT NULL REFERENCES users(id),
						title TEXT NOT NULL,
						number TEXT NOT NULL DEFAULT '',
						client_id TEXT REFERENCES clients(id) ON DELETE SET NULL,
						court TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'pending', 'closed')),
						description TEXT NOT NULL DEFAULT '',
						opened_at TIMESTAMPTZ,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
					CREATE INDEX IF NOT EXISTS idx_cases_firm ON cases(firm_id, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_cases_client ON cases(client_id);

					CREATE TABLE IF NOT EXISTS general_work (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						created_by TEXT NOT NULL REFERENCES users(id),
						title TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'todo' CHECK (status IN ('todo', 'in_progress', 'done')),
						due_date TIMESTAMPTZ,
						case_id TEXT REFERENCES cases(id) ON DELETE SET NULL,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);
					CREATE INDEX IF NOT EXISTS idx_general_work_firm ON general_work(firm_id, created_at DESC);
				`,
			},
		},
	}
}
