package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"atbadges/internal/database"
	"atbadges/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const badgeColumns = `id, name, description, content, progress, status,
	created_at, updated_at, start_date, target_date, external_id, external_source`

var requirementColumns = []string{"id", "badge_id", "description", "completed", "position", "created_at", "updated_at"}

type badgeRepository struct {
	*BaseRepository
	now func() time.Time
}

// NewBadgeRepository creates a Postgres-backed badge repository
func NewBadgeRepository(db *database.Manager, logger *zap.Logger) BadgeRepository {
	return &badgeRepository{
		BaseRepository: NewBaseRepository(db, logger),
		now:            dbNow,
	}
}

// dbNow matches the microsecond precision of timestamptz so values returned
// from Create compare equal to a later read.
func dbNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// ===============================
// READS
// ===============================

// GetAll returns every badge with its requirements attached
func (r *badgeRepository) GetAll(ctx context.Context) ([]*models.Badge, error) {
	query := `SELECT ` + badgeColumns + ` FROM badges ORDER BY created_at ASC, id ASC`

	rows, err := r.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list badges: %w", err)
	}
	defer rows.Close()

	badges := make([]*models.Badge, 0)
	index := make(map[string]*models.Badge)
	ids := make([]string, 0)

	for rows.Next() {
		badge, err := scanBadge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan badge: %w", err)
		}
		badges = append(badges, badge)
		index[badge.ID] = badge
		ids = append(ids, badge.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate badges: %w", err)
	}

	if len(ids) == 0 {
		return badges, nil
	}

	reqRows, err := r.QueryContext(ctx, `
		SELECT badge_id, id, description, completed
		FROM badge_requirements
		WHERE badge_id = ANY($1)
		ORDER BY badge_id, position, created_at`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to list badge requirements: %w", err)
	}
	defer reqRows.Close()

	for reqRows.Next() {
		var badgeID string
		var req models.BadgeRequirement
		if err := reqRows.Scan(&badgeID, &req.ID, &req.Description, &req.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan badge requirement: %w", err)
		}
		if badge, ok := index[badgeID]; ok {
			badge.Requirements = append(badge.Requirements, req)
		}
	}
	if err := reqRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate badge requirements: %w", err)
	}

	return badges, nil
}

// GetByID returns nil when the badge does not exist
func (r *badgeRepository) GetByID(ctx context.Context, id string) (*models.Badge, error) {
	query := `SELECT ` + badgeColumns + ` FROM badges WHERE id = $1`

	badge, err := scanBadge(r.QueryRowContext(ctx, query, id))
	if err != nil {
		if r.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get badge by ID: %w", err)
	}

	reqs, err := r.getRequirements(ctx, id)
	if err != nil {
		return nil, err
	}
	badge.Requirements = reqs

	return badge, nil
}

func (r *badgeRepository) getRequirements(ctx context.Context, badgeID string) ([]models.BadgeRequirement, error) {
	rows, err := r.QueryContext(ctx, `
		SELECT id, description, completed
		FROM badge_requirements
		WHERE badge_id = $1
		ORDER BY position, created_at`, badgeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get badge requirements: %w", err)
	}
	defer rows.Close()

	reqs := make([]models.BadgeRequirement, 0)
	for rows.Next() {
		var req models.BadgeRequirement
		if err := rows.Scan(&req.ID, &req.Description, &req.Completed); err != nil {
			return nil, fmt.Errorf("failed to scan badge requirement: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate badge requirements: %w", err)
	}

	return reqs, nil
}

// ===============================
// WRITES
// ===============================

// Create inserts the badge and its requirements in one transaction
func (r *badgeRepository) Create(ctx context.Context, req *models.CreateBadgeRequest, externalID, externalSource *string) (*models.Badge, error) {
	id, err := NewID()
	if err != nil {
		return nil, err
	}

	progress := 0
	if req.Progress != nil {
		progress = *req.Progress
	}

	now := r.now()
	reqs, err := materializeRequirements(req.Requirements)
	if err != nil {
		return nil, err
	}

	badge := &models.Badge{
		ID:             id,
		Name:           req.Name,
		Description:    req.Description,
		Content:        nonEmpty(req.Content),
		Progress:       progress,
		Status:         models.ResolveStatus(progress, req.Status),
		Requirements:   reqs,
		CreatedAt:      now,
		UpdatedAt:      now,
		StartDate:      nonEmpty(req.StartDate),
		TargetDate:     nonEmpty(req.TargetDate),
		ExternalID:     nonEmpty(externalID),
		ExternalSource: nonEmpty(externalSource),
	}

	err = r.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO badges (`+badgeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			badge.ID, badge.Name, badge.Description, emptyAsNull(badge.Content),
			badge.Progress, string(badge.Status), badge.CreatedAt, badge.UpdatedAt,
			emptyAsNull(badge.StartDate), emptyAsNull(badge.TargetDate),
			emptyAsNull(badge.ExternalID), emptyAsNull(badge.ExternalSource),
		)
		if err != nil {
			return fmt.Errorf("failed to insert badge: %w", err)
		}

		return r.insertRequirements(ctx, tx, badge.ID, reqs, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create badge: %w", err)
	}

	r.logger.Debug("Badge created",
		zap.String("badge_id", badge.ID),
		zap.Int("requirements", len(reqs)),
	)

	return badge, nil
}

// Update applies the present fields of req. A present requirement list
// replaces the stored one wholesale.
func (r *badgeRepository) Update(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error) {
	found := true

	err := r.WithTransaction(ctx, func(tx *sql.Tx) error {
		currentProgress, err := lockBadge(ctx, tx, id)
		if err != nil {
			if r.IsNotFound(err) {
				found = false
				return nil
			}
			return err
		}

		now := r.now()
		set, args := buildBadgeUpdate(req, currentProgress, now)
		args = append(args, id)

		query := fmt.Sprintf("UPDATE badges SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to update badge: %w", err)
		}

		if req.Requirements == nil {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM badge_requirements WHERE badge_id = $1`, id); err != nil {
			return fmt.Errorf("failed to clear badge requirements: %w", err)
		}

		reqs, err := materializeRequirements(*req.Requirements)
		if err != nil {
			return err
		}
		return r.insertRequirements(ctx, tx, id, reqs, now)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update badge %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

// UpdateProgress sets progress with its derived status and flips the
// completion flag of listed requirements. Unknown requirement ids are ignored.
func (r *badgeRepository) UpdateProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error) {
	found := true

	err := r.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := lockBadge(ctx, tx, id); err != nil {
			if r.IsNotFound(err) {
				found = false
				return nil
			}
			return err
		}

		now := r.now()
		if req.Progress != nil {
			_, err := tx.ExecContext(ctx,
				`UPDATE badges SET progress = $1, status = $2, updated_at = $3 WHERE id = $4`,
				*req.Progress, string(models.DeriveStatus(*req.Progress)), now, id)
			if err != nil {
				return fmt.Errorf("failed to update badge progress: %w", err)
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE badges SET updated_at = $1 WHERE id = $2`, now, id); err != nil {
				return fmt.Errorf("failed to touch badge: %w", err)
			}
		}

		for _, rp := range req.Requirements {
			_, err := tx.ExecContext(ctx,
				`UPDATE badge_requirements SET completed = $1, updated_at = $2 WHERE badge_id = $3 AND id = $4`,
				rp.Completed, now, id, rp.ID)
			if err != nil {
				return fmt.Errorf("failed to update requirement %s: %w", rp.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update progress of badge %s: %w", id, err)
	}
	if !found {
		return nil, nil
	}

	return r.GetByID(ctx, id)
}

// Delete removes the badge; requirements go with it through ON DELETE CASCADE
func (r *badgeRepository) Delete(ctx context.Context, id string) (bool, error) {
	var affected int64

	err := r.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `DELETE FROM badges WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("failed to delete badge: %w", err)
		}
		affected, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete badge %s: %w", id, err)
	}

	return affected > 0, nil
}

// ===============================
// HELPERS
// ===============================

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanBadge(row rowScanner) (*models.Badge, error) {
	var (
		badge                                                     models.Badge
		status                                                    string
		content, startDate, targetDate, externalID, externalSource sql.NullString
	)

	err := row.Scan(
		&badge.ID, &badge.Name, &badge.Description, &content,
		&badge.Progress, &status, &badge.CreatedAt, &badge.UpdatedAt,
		&startDate, &targetDate, &externalID, &externalSource,
	)
	if err != nil {
		return nil, err
	}

	badge.Status = models.BadgeStatus(status)
	badge.Content = nullString(content)
	badge.StartDate = nullString(startDate)
	badge.TargetDate = nullString(targetDate)
	badge.ExternalID = nullString(externalID)
	badge.ExternalSource = nullString(externalSource)
	badge.Requirements = make([]models.BadgeRequirement, 0)

	return &badge, nil
}

// lockBadge takes a row lock on the badge and returns its current progress
func lockBadge(ctx context.Context, tx *sql.Tx, id string) (int, error) {
	var progress int
	err := tx.QueryRowContext(ctx, `SELECT progress FROM badges WHERE id = $1 FOR UPDATE`, id).Scan(&progress)
	return progress, err
}

func (r *badgeRepository) insertRequirements(ctx context.Context, tx *sql.Tx, badgeID string, reqs []models.BadgeRequirement, now time.Time) error {
	if len(reqs) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(reqs))
	for i, req := range reqs {
		values = append(values, []interface{}{req.ID, badgeID, req.Description, req.Completed, i, now, now})
	}

	if _, err := r.BulkInsertTx(ctx, tx, "badge_requirements", requirementColumns, values); err != nil {
		return fmt.Errorf("failed to insert badge requirements: %w", err)
	}
	return nil
}

// buildBadgeUpdate returns SET clauses with $n placeholders for the present
// fields of req, always ending with updated_at.
func buildBadgeUpdate(req *models.UpdateBadgeRequest, currentProgress int, now time.Time) ([]string, []interface{}) {
	set := make([]string, 0, 9)
	args := make([]interface{}, 0, 9)

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		add("name", *req.Name)
	}
	if req.Description != nil {
		add("description", *req.Description)
	}
	if req.Content != nil {
		add("content", emptyAsNull(req.Content))
	}
	if req.Progress != nil {
		add("progress", *req.Progress)
		add("status", string(models.ResolveStatus(*req.Progress, req.Status)))
	} else if req.Status != nil {
		add("status", string(models.ResolveStatus(currentProgress, req.Status)))
	}
	if req.StartDate != nil {
		add("start_date", emptyAsNull(req.StartDate))
	}
	if req.TargetDate != nil {
		add("target_date", emptyAsNull(req.TargetDate))
	}
	add("updated_at", now)

	return set, args
}

// materializeRequirements assigns ids to requirements submitted without one
func materializeRequirements(in []models.RequirementInput) ([]models.BadgeRequirement, error) {
	out := make([]models.BadgeRequirement, 0, len(in))
	for _, req := range in {
		id := req.ID
		if id == "" {
			generated, err := NewID()
			if err != nil {
				return nil, err
			}
			id = generated
		}
		out = append(out, models.BadgeRequirement{
			ID:          id,
			Description: req.Description,
			Completed:   req.Completed,
		})
	}
	return out, nil
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	v := *s
	return &v
}
