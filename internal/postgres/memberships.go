package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/step-groups/internal/domain"
)

// GetMembership retrieves a user's membership in a group
func (r *Repository) GetMembership(ctx context.Context, groupID, userID string) (*domain.GroupMembership, error) {
	var m domain.GroupMembership
	err := r.pool.QueryRow(ctx, `
		SELECT id, group_id, user_id, role, joined_at
		FROM group_memberships
		WHERE group_id = $1 AND user_id = $2
	`, groupID, userID).Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NotFound("membership not found").WithGroup(groupID)
		}
		return nil, fmt.Errorf("getting membership: %w", err)
	}
	return &m, nil
}

// ListMemberships returns every membership row of a group
func (r *Repository) ListMemberships(ctx context.Context, groupID string) ([]domain.GroupMembership, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, user_id, role, joined_at
		FROM group_memberships
		WHERE group_id = $1
		ORDER BY joined_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing memberships: %w", err)
	}
	defer rows.Close()

	var members []domain.GroupMembership
	for rows.Next() {
		var m domain.GroupMembership
		if err := rows.Scan(&m.ID, &m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning membership: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// lockGroup takes a row lock on the group so membership changes of the same
// group are serialized.
func lockGroup(ctx context.Context, tx pgx.Tx, groupID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM groups WHERE id = $1 FOR UPDATE`, groupID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotFound("group not found").WithGroup(groupID)
		}
		return fmt.Errorf("locking group: %w", err)
	}
	return nil
}

// insertMember adds a member row, returning AlreadyMember when one exists.
func insertMember(ctx context.Context, tx pgx.Tx, m *domain.GroupMembership) error {
	result, err := tx.Exec(ctx, `
		INSERT INTO group_memberships (id, group_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT ON CONSTRAINT `+constraintMembership+` DO NOTHING
	`, m.ID, m.GroupID, m.UserID, string(m.Role), m.JoinedAt)
	if err != nil {
		if isUniqueViolation(err, constraintOneOwner) {
			return domain.InvariantViolation("second owner membership", err).WithGroup(m.GroupID)
		}
		return fmt.Errorf("adding membership: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.AlreadyMember(m.GroupID)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM group_join_requests WHERE group_id = $1 AND user_id = $2`, m.GroupID, m.UserID); err != nil {
		return fmt.Errorf("clearing join request: %w", err)
	}
	return adjustMemberCount(ctx, tx, m.GroupID, 1)
}

func adjustMemberCount(ctx context.Context, tx pgx.Tx, groupID string, delta int) error {
	_, err := tx.Exec(ctx, `
		UPDATE groups SET member_count = GREATEST(member_count + $2, 0) WHERE id = $1
	`, groupID, delta)
	if err != nil {
		return fmt.Errorf("updating member count: %w", err)
	}
	return nil
}

// AddMembership inserts a membership. Concurrent inserts for the same user
// and group resolve to one row; the loser gets AlreadyMember.
func (r *Repository) AddMembership(ctx context.Context, m *domain.GroupMembership) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockGroup(ctx, tx, m.GroupID); err != nil {
			return err
		}
		return insertMember(ctx, tx, m)
	})
}

// RemoveMembership deletes a non-owner membership.
func (r *Repository) RemoveMembership(ctx context.Context, groupID, userID string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `
			DELETE FROM group_memberships
			WHERE group_id = $1 AND user_id = $2 AND role <> 'owner'
		`, groupID, userID)
		if err != nil {
			return fmt.Errorf("removing membership: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.NotFound("membership not found").WithGroup(groupID)
		}
		return adjustMemberCount(ctx, tx, groupID, -1)
	})
}

// LeaveGroup removes the user's membership. An owner may leave only when
// alone, which deletes the group.
func (r *Repository) LeaveGroup(ctx context.Context, groupID, userID string) (bool, error) {
	var deleted bool
	err := r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}

		var role domain.Role
		err := tx.QueryRow(ctx, `
			SELECT role FROM group_memberships WHERE group_id = $1 AND user_id = $2
		`, groupID, userID).Scan(&role)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.NotFound("membership not found").WithGroup(groupID)
			}
			return fmt.Errorf("getting membership role: %w", err)
		}

		if role == domain.RoleOwner {
			var count int
			if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM group_memberships WHERE group_id = $1`, groupID).Scan(&count); err != nil {
				return fmt.Errorf("counting members: %w", err)
			}
			if count > 1 {
				return domain.InvalidState("the owner cannot leave while other members remain").WithGroup(groupID)
			}
			if _, err := tx.Exec(ctx, `DELETE FROM groups WHERE id = $1`, groupID); err != nil {
				return fmt.Errorf("deleting group: %w", err)
			}
			deleted = true
			return nil
		}

		if _, err := tx.Exec(ctx, `DELETE FROM group_memberships WHERE group_id = $1 AND user_id = $2`, groupID, userID); err != nil {
			return fmt.Errorf("leaving group: %w", err)
		}
		return adjustMemberCount(ctx, tx, groupID, -1)
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// UpdateMemberRole sets a non-owner member's role. Owner rows are never
// matched, so ownership cannot be gained or lost here.
func (r *Repository) UpdateMemberRole(ctx context.Context, groupID, userID string, role domain.Role) error {
	if role == domain.RoleOwner {
		return domain.Validation("role", "must be admin or member")
	}
	result, err := r.pool.Exec(ctx, `
		UPDATE group_memberships
		SET role = $3
		WHERE group_id = $1 AND user_id = $2 AND role <> 'owner'
	`, groupID, userID, string(role))
	if err != nil {
		return fmt.Errorf("updating member role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.NotFound("membership not found").WithGroup(groupID)
	}
	return nil
}

// CreateJoinRequest stores a pending request, failing with AlreadyExists
// when one is already pending.
func (r *Repository) CreateJoinRequest(ctx context.Context, req *domain.JoinRequest) error {
	result, err := r.pool.Exec(ctx, `
		INSERT INTO group_join_requests (id, group_id, user_id, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT ON CONSTRAINT group_join_requests_group_user_key DO NOTHING
	`, req.ID, req.GroupID, req.UserID, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating join request: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.AlreadyExists("user_id", "a join request is already pending").WithGroup(req.GroupID)
	}
	return nil
}

// ListJoinRequests returns a group's pending requests, oldest first
func (r *Repository) ListJoinRequests(ctx context.Context, groupID string) ([]domain.JoinRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, group_id, user_id, created_at
		FROM group_join_requests
		WHERE group_id = $1
		ORDER BY created_at ASC
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("listing join requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.JoinRequest
	for rows.Next() {
		var jr domain.JoinRequest
		if err := rows.Scan(&jr.ID, &jr.GroupID, &jr.UserID, &jr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning join request: %w", err)
		}
		requests = append(requests, jr)
	}
	return requests, rows.Err()
}

// ApproveJoinRequest consumes a pending request and inserts the membership
// in one transaction.
func (r *Repository) ApproveJoinRequest(ctx context.Context, groupID, userID string, m *domain.GroupMembership) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := lockGroup(ctx, tx, groupID); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `
			DELETE FROM group_join_requests WHERE group_id = $1 AND user_id = $2
		`, groupID, userID)
		if err != nil {
			return fmt.Errorf("consuming join request: %w", err)
		}
		if result.RowsAffected() == 0 {
			return domain.NotFound("join request not found").WithGroup(groupID)
		}
		return insertMember(ctx, tx, m)
	})
}
