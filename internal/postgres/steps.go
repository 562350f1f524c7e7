package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/step-groups/internal/domain"
)

// DailySteps is one user's step count for one calendar date.
type DailySteps struct {
	UserID string
	Date   time.Time
	Steps  int64
}

// GetTotals sums daily steps per user over the inclusive period. Users with
// no rows in range are absent from the result.
func (r *Repository) GetTotals(ctx context.Context, userIDs []string, period domain.Period) ([]domain.StepTotal, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, COALESCE(SUM(steps), 0)::BIGINT
		FROM daily_steps
		WHERE user_id = ANY($1) AND step_date BETWEEN $2 AND $3
		GROUP BY user_id
	`, userIDs, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("summing steps: %w", err)
	}
	defer rows.Close()

	var totals []domain.StepTotal
	for rows.Next() {
		var t domain.StepTotal
		if err := rows.Scan(&t.UserID, &t.TotalSteps); err != nil {
			return nil, fmt.Errorf("scanning step total: %w", err)
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// GetByIDs resolves display profiles in one query.
func (r *Repository) GetByIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, display_name, avatar_url
		FROM profiles
		WHERE user_id = ANY($1)
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("getting profiles: %w", err)
	}
	defer rows.Close()

	var profiles []domain.Profile
	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// BatchUpsertSteps writes daily step counts, replacing existing values
func (r *Repository) BatchUpsertSteps(ctx context.Context, entries []DailySteps) error {
	if len(entries) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO daily_steps (user_id, step_date, steps)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, step_date)
		DO UPDATE SET steps = $3
	`
	for _, e := range entries {
		batch.Queue(query, e.UserID, e.Date, e.Steps)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting steps: %w", err)
		}
	}
	return nil
}

// UpsertProfiles inserts or replaces display profiles
func (r *Repository) UpsertProfiles(ctx context.Context, profiles []domain.Profile) error {
	if len(profiles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO profiles (user_id, display_name, avatar_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id)
		DO UPDATE SET display_name = $2, avatar_url = $3
	`
	for _, p := range profiles {
		batch.Queue(query, p.UserID, p.DisplayName, p.AvatarURL)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range profiles {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch upserting profiles: %w", err)
		}
	}
	return nil
}
