package calendar

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the calendar_entries table
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "calendar",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create calendar_entries table",
				SQL: `
					CREATE TABLE IF NOT EXISTS calendar_entries (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						kind TEXT NOT NULL CHECK (kind IN ('event', 'reminder')),
						scope TEXT NOT NULL CHECK (scope IN ('personal', 'firm')),
						title TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						location TEXT NOT NULL DEFAULT '',
						starts_at TIMESTAMPTZ NOT NULL,
						ends_at TIMESTAMPTZ,
						status TEXT NOT NULL,
						assigned_to JSONB NOT NULL DEFAULT '[]'::jsonb,
						case_id TEXT REFERENCES cases(id) ON DELETE SET NULL,
						created_by TEXT NOT NULL REFERENCES users(id),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
						updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_calendar_entries_firm_start ON calendar_entries(firm_id, starts_at);
					CREATE INDEX IF NOT EXISTS idx_calendar_entries_creator ON calendar_entries(created_by) WHERE scope = 'personal';
				`,
			},
		},
	}
}
