package database

import (
	"context"
	"fmt"
)

// schemaStatements create the relational layout used by PostgresStore. List
// shaped attributes live in JSONB columns and are schema-checked on write.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS profiles (
		id UUID PRIMARY KEY,
		age INT NOT NULL,
		gender TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		attributes JSONB NOT NULL DEFAULT '{}',
		preferences JSONB NOT NULL DEFAULT '{}',
		popularity DOUBLE PRECISION NOT NULL DEFAULT 0,
		last_active_at TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS images (
		id UUID PRIMARY KEY,
		category TEXT NOT NULL,
		url TEXT NOT NULL,
		tags JSONB NOT NULL DEFAULT '[]',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS images_category_idx ON images (category) WHERE active`,
	`CREATE TABLE IF NOT EXISTS interactions (
		user_id UUID NOT NULL,
		target_id UUID NOT NULL,
		action TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS interactions_pair_idx ON interactions (user_id, target_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS tournament_sessions (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		category TEXT NOT NULL,
		status TEXT NOT NULL,
		current_round INT NOT NULL,
		total_rounds INT NOT NULL,
		state JSONB NOT NULL,
		version INT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS tournament_sessions_active_idx
		ON tournament_sessions (user_id, category) WHERE status = 'active'`,
	`CREATE TABLE IF NOT EXISTS tournament_results (
		id UUID PRIMARY KEY,
		session_id UUID NOT NULL UNIQUE,
		user_id UUID NOT NULL,
		category TEXT NOT NULL,
		champion UUID NOT NULL,
		finalist UUID NOT NULL,
		top_choices JSONB NOT NULL,
		elimination_order JSONB NOT NULL,
		preference_strength DOUBLE PRECISION NOT NULL,
		avg_choice_latency_ms DOUBLE PRECISION NOT NULL,
		rounds_played INT NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS style_profiles (
		user_id UUID PRIMARY KEY,
		categories JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_weights (
		user_id UUID PRIMARY KEY,
		weights JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS weight_adjustments (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		attribute TEXT NOT NULL,
		old_weight DOUBLE PRECISION NOT NULL,
		new_weight DOUBLE PRECISION NOT NULL,
		reason TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		sample_size INT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS learning_profiles (
		user_id UUID PRIMARY KEY,
		total_adjustments INT NOT NULL,
		learning_velocity DOUBLE PRECISION NOT NULL,
		adaptation_rate DOUBLE PRECISION NOT NULL,
		last_adjustment_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS feedback_events (
		id UUID PRIMARY KEY,
		user_id UUID NOT NULL,
		target_user_id UUID NOT NULL,
		action TEXT NOT NULL,
		polarity TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		context JSONB NOT NULL,
		match_score DOUBLE PRECISION NOT NULL,
		weights_snapshot JSONB,
		target_attributes JSONB
	)`,
	`CREATE INDEX IF NOT EXISTS feedback_events_user_idx ON feedback_events (user_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS feedback_daily_aggregates (
		user_id UUID NOT NULL,
		day DATE NOT NULL,
		positive INT NOT NULL DEFAULT 0,
		negative INT NOT NULL DEFAULT 0,
		neutral INT NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, day)
	)`,
}

// Migrate creates any missing tables and indexes.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
