// file: internal/services/badge_service.go
package services

import (
	"context"
	"sync"

	"atbadges/internal/contextutils"
	"atbadges/internal/external"
	"atbadges/internal/models"
	"atbadges/internal/repositories"
	"atbadges/internal/validation"

	"go.uber.org/zap"
)

const badgeNotFoundMessage = "Badge not found"

// badgeService combines the local repository, which is the system of
// record, with an optional external badge service that is authoritative for
// progress, status and requirements of linked badges.
type badgeService struct {
	repo     repositories.BadgeRepository
	external external.BadgeService
	recorder SyncRecorder
	logger   *zap.Logger

	background sync.WaitGroup
}

// NewBadgeService creates the badge sync service. ext may be nil, in which
// case every operation is local only.
func NewBadgeService(
	repo repositories.BadgeRepository,
	ext external.BadgeService,
	recorder SyncRecorder,
	logger *zap.Logger,
) BadgeService {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &badgeService{
		repo:     repo,
		external: ext,
		recorder: recorder,
		logger:   logger,
	}
}

// ===============================
// READS
// ===============================

// ListBadges returns local badges, overlaid with external state for linked
// badges when the external service answers.
func (s *badgeService) ListBadges(ctx context.Context) ([]*models.Badge, error) {
	logger := s.log(ctx)

	local, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, NewStorageError("failed to list badges", err)
	}

	if !s.externalAvailable(ctx) {
		s.recorder.SyncOutcome("list", OutcomeLocalOnly)
		return local, nil
	}

	remote, err := s.external.GetAll(ctx)
	if err != nil {
		logger.Warn("External badge list failed, serving local badges", zap.Error(err))
		s.recorder.SyncOutcome("list", OutcomeExternalError)
		return local, nil
	}

	byID := make(map[string]*models.Badge, len(remote))
	for _, b := range remote {
		if b != nil {
			byID[b.ID] = b
		}
	}

	result := make([]*models.Badge, 0, len(local))
	merged := 0
	for _, badge := range local {
		rb, ok := s.remoteFor(badge, byID)
		if !ok {
			result = append(result, badge)
			continue
		}
		m, ok := s.merge(ctx, badge, rb)
		if !ok {
			result = append(result, badge)
			continue
		}
		s.reconcile(ctx, badge.ID, m)
		result = append(result, m)
		merged++
	}

	logger.Debug("Badge list synchronized",
		zap.Int("local", len(local)),
		zap.Int("remote", len(remote)),
		zap.Int("merged", merged),
	)
	s.recorder.SyncOutcome("list", OutcomeMerged)

	return result, nil
}

func (s *badgeService) remoteFor(badge *models.Badge, byID map[string]*models.Badge) (*models.Badge, bool) {
	if !s.linked(badge) {
		return nil, false
	}
	rb, ok := byID[*badge.ExternalID]
	return rb, ok
}

// linked reports whether badge is linked to the configured external
// service. Links recorded against another source are left alone.
func (s *badgeService) linked(badge *models.Badge) bool {
	if !badge.HasExternalLink() || s.external == nil {
		return false
	}
	return badge.ExternalSource != nil && *badge.ExternalSource == s.external.Source()
}

// merge overlays remote state on local and rejects results that break the
// badge rules, such as out of range progress or duplicate requirement ids.
func (s *badgeService) merge(ctx context.Context, local, remote *models.Badge) (*models.Badge, bool) {
	merged := models.MergeExternal(local, remote)
	if errs := merged.Validate(); errs.HasErrors() {
		s.log(ctx).Warn("Ignoring invalid external badge state",
			zap.String("badge_id", local.ID),
			zap.String("external_id", *local.ExternalID),
			zap.Error(errs),
		)
		return nil, false
	}
	return merged, true
}

// GetBadge returns the local badge, merged with its external counterpart
// when linked and reachable.
func (s *badgeService) GetBadge(ctx context.Context, id string) (*models.Badge, error) {
	local, err := s.getLocal(ctx, id)
	if err != nil {
		return nil, err
	}

	if !s.linked(local) || !s.externalAvailable(ctx) {
		s.recorder.SyncOutcome("get", OutcomeLocalOnly)
		return local, nil
	}

	remote, err := s.external.GetByID(ctx, *local.ExternalID)
	if err != nil {
		s.log(ctx).Warn("External badge fetch failed, serving local badge",
			zap.String("badge_id", id),
			zap.String("external_id", *local.ExternalID),
			zap.Error(err),
		)
		s.recorder.SyncOutcome("get", OutcomeExternalError)
		return local, nil
	}

	merged, ok := s.merge(ctx, local, remote)
	if !ok {
		s.recorder.SyncOutcome("get", OutcomeExternalError)
		return local, nil
	}
	s.reconcile(ctx, local.ID, merged)
	s.recorder.SyncOutcome("get", OutcomeMerged)

	return merged, nil
}

// ===============================
// WRITES
// ===============================

// CreateBadge registers the badge remotely when possible, then always
// creates it locally with whatever link was obtained.
func (s *badgeService) CreateBadge(ctx context.Context, req *models.CreateBadgeRequest) (*models.Badge, error) {
	if req == nil {
		return nil, NewValidationError("request body is required", nil)
	}
	if err := validation.Validate(req); err != nil {
		return nil, NewValidationError("invalid create badge request", err)
	}

	var externalID, externalSource *string
	outcome := OutcomeLocalOnly

	if s.externalAvailable(ctx) {
		remote, err := s.external.Create(ctx, req)
		if err != nil {
			s.log(ctx).Warn("External badge create failed, creating locally only", zap.Error(err))
			outcome = OutcomeExternalError
		} else {
			id := remote.ID
			source := s.external.Source()
			externalID, externalSource = &id, &source
			outcome = OutcomeLinked
		}
	}

	badge, err := s.repo.Create(ctx, req, externalID, externalSource)
	if err != nil {
		return nil, NewStorageError("failed to create badge", err)
	}

	s.recorder.SyncOutcome("create", outcome)
	s.log(ctx).Info("Badge created",
		zap.String("badge_id", badge.ID),
		zap.Bool("linked", badge.HasExternalLink()),
	)

	return badge, nil
}

// UpdateBadge forwards the update to the external service for linked badges
// and applies it locally regardless of the remote outcome.
func (s *badgeService) UpdateBadge(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error) {
	if req == nil {
		return nil, NewValidationError("request body is required", nil)
	}
	if err := validation.Validate(req); err != nil {
		return nil, NewValidationError("invalid update badge request", err)
	}

	local, err := s.getLocal(ctx, id)
	if err != nil {
		return nil, err
	}

	outcome := s.forward(ctx, "update", local, func(externalID string) error {
		_, err := s.external.Update(ctx, externalID, req)
		return err
	})

	updated, err := s.repo.Update(ctx, id, req)
	if err != nil {
		return nil, NewStorageError("failed to update badge", err)
	}
	if updated == nil {
		return nil, NewNotFoundError(badgeNotFoundMessage).WithDetail("id", id)
	}

	s.recorder.SyncOutcome("update", outcome)
	return updated, nil
}

// UpdateBadgeProgress is UpdateBadge narrowed to progress and requirement
// completion.
func (s *badgeService) UpdateBadgeProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error) {
	if req == nil {
		return nil, NewValidationError("request body is required", nil)
	}
	if err := validation.Validate(req); err != nil {
		return nil, NewValidationError("invalid progress update", err)
	}

	local, err := s.getLocal(ctx, id)
	if err != nil {
		return nil, err
	}

	outcome := s.forward(ctx, "updateProgress", local, func(externalID string) error {
		_, err := s.external.UpdateProgress(ctx, externalID, req)
		return err
	})

	updated, err := s.repo.UpdateProgress(ctx, id, req)
	if err != nil {
		return nil, NewStorageError("failed to update badge progress", err)
	}
	if updated == nil {
		return nil, NewNotFoundError(badgeNotFoundMessage).WithDetail("id", id)
	}

	s.recorder.SyncOutcome("updateProgress", outcome)
	return updated, nil
}

// DeleteBadge removes the remote copy of a linked badge on a best-effort
// basis, then deletes locally.
func (s *badgeService) DeleteBadge(ctx context.Context, id string) error {
	local, err := s.getLocal(ctx, id)
	if err != nil {
		return err
	}

	outcome := s.forward(ctx, "delete", local, func(externalID string) error {
		return s.external.Delete(ctx, externalID)
	})

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return NewStorageError("failed to delete badge", err)
	}
	if !deleted {
		// Removed by a concurrent request between the lookup and the delete.
		return NewNotFoundError(badgeNotFoundMessage).WithDetail("id", id)
	}

	s.recorder.SyncOutcome("delete", outcome)
	s.log(ctx).Info("Badge deleted", zap.String("badge_id", id))
	return nil
}

// Drain implements BadgeService
func (s *badgeService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ===============================
// HELPERS
// ===============================

func (s *badgeService) getLocal(ctx context.Context, id string) (*models.Badge, error) {
	if id == "" {
		return nil, NewValidationError("badge id is required", nil)
	}

	badge, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, NewStorageError("failed to get badge", err)
	}
	if badge == nil {
		return nil, NewNotFoundError(badgeNotFoundMessage).WithDetail("id", id)
	}
	return badge, nil
}

// externalAvailable reports whether an external service is configured and
// answers its availability probe.
func (s *badgeService) externalAvailable(ctx context.Context) bool {
	if s.external == nil {
		return false
	}
	return s.external.IsAvailable(ctx)
}

// forward runs call against the external copy of a linked badge. Failures
// are logged and absorbed; the returned outcome is for metrics only.
func (s *badgeService) forward(ctx context.Context, op string, local *models.Badge, call func(externalID string) error) string {
	if !s.linked(local) || !s.externalAvailable(ctx) {
		return OutcomeLocalOnly
	}

	if err := call(*local.ExternalID); err != nil {
		s.log(ctx).Warn("External badge call failed, continuing locally",
			zap.String("op", op),
			zap.String("badge_id", local.ID),
			zap.String("external_id", *local.ExternalID),
			zap.Error(err),
		)
		return OutcomeExternalError
	}
	return OutcomeLinked
}

// reconcile persists merged external state onto the local row in the
// background. The caller never waits for it; failures are only logged.
func (s *badgeService) reconcile(ctx context.Context, localID string, merged *models.Badge) {
	logger := s.log(ctx).With(zap.String("badge_id", localID))
	bg := context.WithoutCancel(ctx)
	update := models.ReconcileRequest(merged)

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		_, err := s.repo.Update(bg, localID, update)
		s.recorder.ReconcileResult(err)
		if err != nil {
			logger.Error("Failed to persist merged badge state", zap.Error(err))
			return
		}
		logger.Debug("Persisted merged badge state",
			zap.Int("progress", merged.Progress),
			zap.String("status", string(merged.Status)),
		)
	}()
}

func (s *badgeService) log(ctx context.Context) *zap.Logger {
	return contextutils.LoggerFrom(ctx, s.logger)
}
