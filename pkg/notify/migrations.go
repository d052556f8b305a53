package notify

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the notifications table
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "notify",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create notifications table",
				SQL: `
					CREATE TABLE IF NOT EXISTS notifications (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
						kind TEXT NOT NULL,
						title TEXT NOT NULL,
						body TEXT NOT NULL,
						data JSONB,
						read_at TIMESTAMPTZ,
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(firm_id, user_id, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(firm_id, user_id) WHERE read_at IS NULL;
				`,
			},
		},
	}
}
