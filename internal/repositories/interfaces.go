// file: internal/repositories/interfaces.go
package repositories

import (
	"context"

	"atbadges/internal/models"
)

// BadgeRepository defines the contract for badge data operations. Lookups of
// a missing badge return (nil, nil); only storage failures are errors.
type BadgeRepository interface {
	GetAll(ctx context.Context) ([]*models.Badge, error)
	GetByID(ctx context.Context, id string) (*models.Badge, error)
	Create(ctx context.Context, req *models.CreateBadgeRequest, externalID, externalSource *string) (*models.Badge, error)
	Update(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error)
	UpdateProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error)
	Delete(ctx context.Context, id string) (bool, error)
}
