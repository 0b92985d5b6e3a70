package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create entities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entities (
					id UUID PRIMARY KEY,
					kind VARCHAR(32) NOT NULL,
					owner_id UUID NOT NULL,
					publisher_id UUID,
					template_id VARCHAR(255) NOT NULL,
					resolved_roles JSONB NOT NULL DEFAULT '{}',
					can_list VARCHAR(16) NOT NULL,
					access_network_id UUID,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE INDEX idx_entities_kind ON entities(kind);
				CREATE INDEX idx_entities_owner_id ON entities(owner_id);
				CREATE INDEX idx_entities_publisher_id ON entities(publisher_id);
				CREATE INDEX idx_entities_can_list_network ON entities(can_list, access_network_id);
				CREATE INDEX idx_entities_created_at ON entities(created_at DESC);
			`,
		},
		{
			Version:     2,
			Description: "Create network_links table",
			SQL: `
				CREATE TABLE IF NOT EXISTS network_links (
					client_id UUID NOT NULL,
					target_id UUID NOT NULL,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (client_id, target_id)
				);

				CREATE INDEX idx_network_links_target_id ON network_links(target_id);
			`,
		},
		{
			Version:     3,
			Description: "Create community_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS community_members (
					community_id UUID NOT NULL,
					account_id UUID NOT NULL,
					is_manager BOOLEAN NOT NULL DEFAULT FALSE,
					joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (community_id, account_id)
				);

				CREATE INDEX idx_community_members_account_id ON community_members(account_id);
			`,
		},
		{
			Version:     4,
			Description: "Create profiles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS profiles (
					account_id UUID PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					email VARCHAR(255),
					bio TEXT,
					api_token VARCHAR(255),
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE UNIQUE INDEX idx_profiles_api_token ON profiles(api_token)
					WHERE api_token IS NOT NULL AND api_token <> '';
			`,
		},
		{
			Version:     5,
			Description: "Create bodies table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bodies (
					entity_id UUID PRIMARY KEY,
					title TEXT,
					body_text TEXT,
					mime_type VARCHAR(255),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}
