package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/step-groups/internal/domain"
)

const groupColumns = `id, name, description, created_by_id, is_public, join_code, period_type, created_at, updated_at, member_count`

func scanGroup(row pgx.Row, g *domain.Group) error {
	return row.Scan(
		&g.ID,
		&g.Name,
		&g.Description,
		&g.CreatedByID,
		&g.IsPublic,
		&g.JoinCode,
		&g.PeriodType,
		&g.CreatedAt,
		&g.UpdatedAt,
		&g.MemberCount,
	)
}

// CreateGroupWithOwner inserts a group and its owner membership in one
// transaction. A failed owner insert rolls the group back.
func (r *Repository) CreateGroupWithOwner(ctx context.Context, group *domain.Group, owner *domain.GroupMembership) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO groups (id, name, description, created_by_id, is_public, join_code, period_type, member_count, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
		`,
			group.ID,
			group.Name,
			group.Description,
			group.CreatedByID,
			group.IsPublic,
			group.JoinCode,
			string(group.PeriodType),
			group.CreatedAt,
			group.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err, constraintJoinCode) {
				return domain.AlreadyExists("join_code", "join code already in use")
			}
			return fmt.Errorf("creating group: %w", err)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO group_memberships (id, group_id, user_id, role, joined_at)
			VALUES ($1, $2, $3, $4, $5)
		`, owner.ID, owner.GroupID, owner.UserID, string(owner.Role), owner.JoinedAt)
		if err != nil {
			return domain.InvariantViolation("creating owner membership", err).WithGroup(group.ID)
		}
		return nil
	})
}

// GetGroup retrieves a group by ID
func (r *Repository) GetGroup(ctx context.Context, groupID string) (*domain.Group, error) {
	var g domain.Group
	err := scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, groupID), &g)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("group not found").WithGroup(groupID)
		}
		return nil, fmt.Errorf("getting group: %w", err)
	}
	return &g, nil
}

// GetGroupByJoinCode retrieves the group using a join code. Codes are
// compared case-sensitively.
func (r *Repository) GetGroupByJoinCode(ctx context.Context, code string) (*domain.Group, error) {
	var g domain.Group
	err := scanGroup(r.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM groups WHERE join_code = $1`, code), &g)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("group not found")
		}
		return nil, fmt.Errorf("getting group by join code: %w", err)
	}
	return &g, nil
}

// UpdateGroup writes a group's mutable settings. Visibility and join code
// change in the same statement.
func (r *Repository) UpdateGroup(ctx context.Context, group *domain.Group) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE groups
		SET name = $2, description = $3, is_public = $4, join_code = $5, updated_at = $6
		WHERE id = $1
	`,
		group.ID,
		group.Name,
		group.Description,
		group.IsPublic,
		group.JoinCode,
		group.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, constraintJoinCode) {
			return domain.AlreadyExists("join_code", "join code already in use")
		}
		return fmt.Errorf("updating group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFound("group not found").WithGroup(group.ID)
	}
	return nil
}

// DeleteGroup removes a group; memberships and join requests cascade.
func (r *Repository) DeleteGroup(ctx context.Context, groupID string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM groups WHERE id = $1`, groupID)
	if err != nil {
		return fmt.Errorf("deleting group: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFound("group not found").WithGroup(groupID)
	}
	return nil
}

// SearchPublicGroups matches public groups whose name contains query,
// largest groups first.
func (r *Repository) SearchPublicGroups(ctx context.Context, query string, limit int) ([]domain.Group, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+groupColumns+`
		FROM groups
		WHERE is_public AND name ILIKE $1
		ORDER BY member_count DESC, name ASC
		LIMIT $2
	`, containsPattern(strings.TrimSpace(query)), limit)
	if err != nil {
		return nil, fmt.Errorf("searching groups: %w", err)
	}
	defer rows.Close()

	groups := make([]domain.Group, 0, limit)
	for rows.Next() {
		var g domain.Group
		if err := scanGroup(rows, &g); err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// ListUserGroups returns the groups a user belongs to with the user's role.
func (r *Repository) ListUserGroups(ctx context.Context, userID string) ([]domain.UserGroup, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT g.id, g.name, g.description, g.created_by_id, g.is_public, g.join_code,
			g.period_type, g.created_at, g.updated_at, g.member_count, m.role
		FROM group_memberships m
		JOIN groups g ON g.id = m.group_id
		WHERE m.user_id = $1
		ORDER BY m.joined_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing user groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.UserGroup
	for rows.Next() {
		var ug domain.UserGroup
		err := rows.Scan(
			&ug.ID,
			&ug.Name,
			&ug.Description,
			&ug.CreatedByID,
			&ug.IsPublic,
			&ug.JoinCode,
			&ug.PeriodType,
			&ug.CreatedAt,
			&ug.UpdatedAt,
			&ug.MemberCount,
			&ug.Role,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning user group: %w", err)
		}
		groups = append(groups, ug)
	}
	return groups, rows.Err()
}

// ReconcileMemberCounts rewrites member_count from the membership rows for
// every group whose stored count has drifted, returning how many changed.
func (r *Repository) ReconcileMemberCounts(ctx context.Context) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		UPDATE groups g
		SET member_count = c.n
		FROM (
			SELECT g2.id, COUNT(m.id)::INT AS n
			FROM groups g2
			LEFT JOIN group_memberships m ON m.group_id = g2.id
			GROUP BY g2.id
		) c
		WHERE g.id = c.id AND g.member_count <> c.n
	`)
	if err != nil {
		return 0, fmt.Errorf("reconciling member counts: %w", err)
	}
	return result.RowsAffected(), nil
}
