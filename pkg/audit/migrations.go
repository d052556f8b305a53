package audit

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the schema for the audit trail
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "audit",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create audit_events table",
				SQL: `
					CREATE TABLE IF NOT EXISTS audit_events (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						actor_id TEXT NOT NULL DEFAULT '',
						event_type TEXT NOT NULL,
						status TEXT NOT NULL,
						resource_type TEXT NOT NULL DEFAULT '',
						resource_id TEXT NOT NULL DEFAULT '',
						request_id TEXT NOT NULL DEFAULT '',
						ip_address TEXT NOT NULL DEFAULT '',
						user_agent TEXT NOT NULL DEFAULT '',
						method TEXT NOT NULL DEFAULT '',
						path TEXT NOT NULL DEFAULT '',
						message TEXT NOT NULL DEFAULT '',
						metadata JSONB,
						changes JSONB,
						created_at TIMESTAMPTZ NOT NULL
					);

					CREATE INDEX IF NOT EXISTS idx_audit_events_firm_time ON audit_events(firm_id, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(firm_id, event_type);
				`,
			},
		},
	}
}
