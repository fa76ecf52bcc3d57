// file: internal/services/interface.go
package services

import (
	"context"

	"atbadges/internal/models"
)

// BadgeService is the one synchronization entry point shared by every
// transport. Errors it returns are *ServiceError values.
type BadgeService interface {
	ListBadges(ctx context.Context) ([]*models.Badge, error)
	GetBadge(ctx context.Context, id string) (*models.Badge, error)
	CreateBadge(ctx context.Context, req *models.CreateBadgeRequest) (*models.Badge, error)
	UpdateBadge(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error)
	UpdateBadgeProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error)
	DeleteBadge(ctx context.Context, id string) error

	// Drain waits for background reconciliation writes to finish or ctx to end.
	Drain(ctx context.Context) error
}

// SyncRecorder receives sync outcomes for metrics. Outcomes are one of the
// Outcome* constants.
type SyncRecorder interface {
	SyncOutcome(operation, outcome string)
	ReconcileResult(err error)
}

// Sync outcomes
const (
	OutcomeLocalOnly     = "local_only"
	OutcomeMerged        = "merged"
	OutcomeLinked        = "linked"
	OutcomeExternalError = "external_error"
)

type noopRecorder struct{}

func (noopRecorder) SyncOutcome(string, string) {}
func (noopRecorder) ReconcileResult(error)      {}
