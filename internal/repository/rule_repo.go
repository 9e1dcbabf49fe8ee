package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agent-event-relay/backend/internal/model"
)

// RuleRepository persists rate-limit rules so the limiter survives
// restarts.
type RuleRepository struct {
	db *sql.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Save inserts or replaces a rule.
func (r *RuleRepository) Save(ctx context.Context, rule *model.RateLimitRule) error {
	query := `
		INSERT OR REPLACE INTO rate_limit_rules
			(id, name, scope, target, max_events, window_seconds, action, enabled, violation_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.Scope,
		rule.Target,
		rule.Limit,
		rule.WindowSeconds,
		rule.Action,
		rule.Enabled,
		rule.ViolationCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save rule: %w", err)
	}

	return nil
}

// Delete removes a rule.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rate_limit_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return model.ErrRuleNotFound
	}

	return nil
}

// List retrieves all persisted rules.
func (r *RuleRepository) List(ctx context.Context) ([]*model.RateLimitRule, error) {
	query := `
		SELECT id, name, scope, target, max_events, window_seconds, action, enabled, violation_count
		FROM rate_limit_rules
		ORDER BY name ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*model.RateLimitRule
	for rows.Next() {
		rule := &model.RateLimitRule{}
		var target sql.NullString

		err := rows.Scan(
			&rule.ID,
			&rule.Name,
			&rule.Scope,
			&target,
			&rule.Limit,
			&rule.WindowSeconds,
			&rule.Action,
			&rule.Enabled,
			&rule.ViolationCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		if target.Valid {
			rule.Target = target.String
		}

		rules = append(rules, rule)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rules, nil
}
