package models

import (
	"fmt"
	"time"

	"github.com/gofrs/uuid"
)

// BadgeStatus is the lifecycle state of a badge. It is always derived from
// progress when progress changes.
type BadgeStatus string

const (
	StatusNotStarted BadgeStatus = "NOT_STARTED"
	StatusInProgress BadgeStatus = "IN_PROGRESS"
	StatusCompleted  BadgeStatus = "COMPLETED"
	StatusArchived   BadgeStatus = "ARCHIVED"
)

// Progress bounds
const (
	MinProgress = 0
	MaxProgress = 100
)

// Badge represents a trackable unit of learning progress with a checklist
// of requirements.
type Badge struct {
	ID             string             `json:"id" db:"id"`
	Name           string             `json:"name" db:"name"`
	Description    string             `json:"description" db:"description"`
	Content        *string            `json:"content,omitempty" db:"content"`
	Progress       int                `json:"progress" db:"progress"`
	Status         BadgeStatus        `json:"status" db:"status"`
	Requirements   []BadgeRequirement `json:"requirements"`
	CreatedAt      time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time          `json:"updatedAt" db:"updated_at"`
	StartDate      *string            `json:"startDate,omitempty" db:"start_date"`
	TargetDate     *string            `json:"targetDate,omitempty" db:"target_date"`
	ExternalID     *string            `json:"externalId,omitempty" db:"external_id"`
	ExternalSource *string            `json:"externalSource,omitempty" db:"external_source"`
}

// BadgeRequirement is one checklist item of a badge.
type BadgeRequirement struct {
	ID          string `json:"id" db:"id"`
	Description string `json:"description" db:"description"`
	Completed   bool   `json:"completed" db:"completed"`
}

// HasExternalLink reports whether the badge points at a record in an
// external badge service.
func (b *Badge) HasExternalLink() bool {
	return b != nil && b.ExternalID != nil && *b.ExternalID != ""
}

// DeriveStatus maps a progress value onto its status.
func DeriveStatus(progress int) BadgeStatus {
	switch {
	case progress >= MaxProgress:
		return StatusCompleted
	case progress > MinProgress:
		return StatusInProgress
	default:
		return StatusNotStarted
	}
}

// ResolveStatus returns the status to store for a progress value. Archiving
// is the only state a client may set independently of progress.
func ResolveStatus(progress int, requested *BadgeStatus) BadgeStatus {
	if requested != nil && *requested == StatusArchived {
		return StatusArchived
	}
	return DeriveStatus(progress)
}

// MergeExternal overlays the externally tracked state (progress and
// requirements) on top of the local badge. Identity and bookkeeping fields
// stay local. Status follows the merged progress the same way a stored
// write does, so the merged badge matches the row it is reconciled into.
func MergeExternal(local, remote *Badge) *Badge {
	if local == nil {
		return nil
	}
	merged := *local
	if remote == nil {
		return &merged
	}
	merged.Progress = remote.Progress
	merged.Status = ResolveStatus(remote.Progress, &remote.Status)
	merged.Requirements = CloneRequirements(remote.Requirements)

	key := remote.ID
	if key == "" && local.ExternalID != nil {
		key = *local.ExternalID
	}
	for i := range merged.Requirements {
		if merged.Requirements[i].ID == "" {
			merged.Requirements[i].ID = externalRequirementID(key, i)
		}
	}
	return &merged
}

// externalRequirementID names a remote requirement that arrived without an
// id. The result depends only on the remote badge and the position, so
// repeated merges of the same payload keep the same ids.
func externalRequirementID(externalBadgeID string, position int) string {
	return uuid.NewV5(uuid.NamespaceURL, fmt.Sprintf("badge:%s/requirement:%d", externalBadgeID, position)).String()
}

// CloneRequirements returns a copy that never aliases the input. A nil input
// yields an empty, non-nil slice so it serialises as [].
func CloneRequirements(reqs []BadgeRequirement) []BadgeRequirement {
	out := make([]BadgeRequirement, len(reqs))
	copy(out, reqs)
	return out
}

// ===============================
// REQUEST DTOs
// ===============================

// RequirementInput is a requirement as submitted by a client. The id may be
// empty, in which case one is generated on insert.
type RequirementInput struct {
	ID          string `json:"id"`
	Description string `json:"description" validate:"required"`
	Completed   bool   `json:"completed"`
}

// CreateBadgeRequest is the payload for creating a badge.
type CreateBadgeRequest struct {
	Name         string             `json:"name" validate:"required,min=3,max=255"`
	Description  string             `json:"description" validate:"required"`
	Content      *string            `json:"content,omitempty"`
	Progress     *int               `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Status       *BadgeStatus       `json:"status,omitempty" validate:"omitempty,badge_status"`
	StartDate    *string            `json:"startDate,omitempty"`
	TargetDate   *string            `json:"targetDate,omitempty"`
	Requirements []RequirementInput `json:"requirements" validate:"dive"`
}

// UpdateBadgeRequest is a partial update. A nil field means "leave unchanged";
// a non-nil Requirements slice replaces the whole requirement set.
type UpdateBadgeRequest struct {
	Name         *string             `json:"name,omitempty" validate:"omitempty,min=3,max=255"`
	Description  *string             `json:"description,omitempty" validate:"omitempty,min=1"`
	Content      *string             `json:"content,omitempty"`
	Progress     *int                `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Status       *BadgeStatus        `json:"status,omitempty" validate:"omitempty,badge_status"`
	StartDate    *string             `json:"startDate,omitempty"`
	TargetDate   *string             `json:"targetDate,omitempty"`
	Requirements *[]RequirementInput `json:"requirements,omitempty"`
}

// RequirementProgress sets the completion flag of an existing requirement.
type RequirementProgress struct {
	ID        string `json:"id" validate:"required"`
	Completed bool   `json:"completed"`
}

// UpdateProgressRequest is the payload for progress updates.
type UpdateProgressRequest struct {
	Progress     *int                  `json:"progress,omitempty" validate:"omitempty,min=0,max=100"`
	Requirements []RequirementProgress `json:"requirements,omitempty" validate:"omitempty,dive"`
}

// ReconcileRequest builds the write-back payload used to persist merged
// external state onto the local row.
func ReconcileRequest(merged *Badge) *UpdateBadgeRequest {
	progress := merged.Progress
	status := merged.Status
	reqs := make([]RequirementInput, 0, len(merged.Requirements))
	for _, r := range merged.Requirements {
		reqs = append(reqs, RequirementInput{ID: r.ID, Description: r.Description, Completed: r.Completed})
	}
	return &UpdateBadgeRequest{
		Progress:     &progress,
		Status:       &status,
		Requirements: &reqs,
	}
}
