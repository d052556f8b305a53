package documents

import "github.com/platinummonkey/caseload/pkg/database"

// Migrations returns the documents table
func Migrations() database.MigrationSet {
	return database.MigrationSet{
		Component: "documents",
		Migrations: []database.Migration{
			{
				Version:     1,
				Description: "Create documents table",
				SQL: `
					CREATE TABLE IF NOT EXISTS documents (
						id TEXT PRIMARY KEY,
						firm_id TEXT NOT NULL REFERENCES firms(id) ON DELETE CASCADE,
						case_id TEXT REFERENCES cases(id) ON DELETE SET NULL,
						name TEXT NOT NULL,
						content_type TEXT NOT NULL,
						size_bytes BIGINT NOT NULL CHECK (size_bytes > 0),
						checksum TEXT NOT NULL,
						blob_key TEXT NOT NULL UNIQUE,
						uploaded_by TEXT NOT NULL REFERENCES users(id),
						created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
					);

					CREATE INDEX IF NOT EXISTS idx_documents_firm ON documents(firm_id, created_at DESC);
					CREATE INDEX IF NOT EXISTS idx_documents_case ON documents(case_id);
				`,
			},
		},
	}
}
