package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"atbadges/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ===============================
// FAKES
// ===============================

// fakeBadgeRepository keeps badges in memory and mimics the status rules of
// the postgres repository.
type fakeBadgeRepository struct {
	mu      sync.Mutex
	badges  map[string]*models.Badge
	order   []string
	seq     int
	updates []*models.UpdateBadgeRequest

	failGetAll bool
	failUpdate bool
	lostDelete bool
}

func newFakeRepo(badges ...*models.Badge) *fakeBadgeRepository {
	r := &fakeBadgeRepository{badges: make(map[string]*models.Badge)}
	for _, b := range badges {
		r.badges[b.ID] = b
		r.order = append(r.order, b.ID)
	}
	return r
}

func (r *fakeBadgeRepository) GetAll(ctx context.Context) ([]*models.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGetAll {
		return nil, errors.New("connection refused")
	}
	out := make([]*models.Badge, 0, len(r.order))
	for _, id := range r.order {
		b := *r.badges[id]
		out = append(out, &b)
	}
	return out, nil
}

func (r *fakeBadgeRepository) GetByID(ctx context.Context, id string) (*models.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.badges[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBadgeRepository) Create(ctx context.Context, req *models.CreateBadgeRequest, externalID, externalSource *string) (*models.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	progress := 0
	if req.Progress != nil {
		progress = *req.Progress
	}
	b := &models.Badge{
		ID:             fmt.Sprintf("local-%d", r.seq),
		Name:           req.Name,
		Description:    req.Description,
		Progress:       progress,
		Status:         models.ResolveStatus(progress, req.Status),
		Requirements:   toRequirements(req.Requirements),
		ExternalID:     externalID,
		ExternalSource: externalSource,
	}
	r.badges[b.ID] = b
	r.order = append(r.order, b.ID)
	cp := *b
	return &cp, nil
}

func (r *fakeBadgeRepository) Update(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, req)
	if r.failUpdate {
		return nil, errors.New("disk full")
	}
	b, ok := r.badges[id]
	if !ok {
		return nil, nil
	}
	if req.Name != nil {
		b.Name = *req.Name
	}
	if req.Progress != nil {
		b.Progress = *req.Progress
	}
	if req.Progress != nil || req.Status != nil {
		b.Status = models.ResolveStatus(b.Progress, req.Status)
	}
	if req.Requirements != nil {
		b.Requirements = toRequirements(*req.Requirements)
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBadgeRepository) UpdateProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.badges[id]
	if !ok {
		return nil, nil
	}
	if req.Progress != nil {
		b.Progress = *req.Progress
		b.Status = models.DeriveStatus(b.Progress)
	}
	for _, rp := range req.Requirements {
		for i := range b.Requirements {
			if b.Requirements[i].ID == rp.ID {
				b.Requirements[i].Completed = rp.Completed
			}
		}
	}
	cp := *b
	return &cp, nil
}

func (r *fakeBadgeRepository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lostDelete {
		return false, nil
	}
	if _, ok := r.badges[id]; !ok {
		return false, nil
	}
	delete(r.badges, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

func (r *fakeBadgeRepository) updateCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.updates)
}

func toRequirements(in []models.RequirementInput) []models.BadgeRequirement {
	out := make([]models.BadgeRequirement, 0, len(in))
	for i, r := range in {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("req-%d", i+1)
		}
		out = append(out, models.BadgeRequirement{ID: id, Description: r.Description, Completed: r.Completed})
	}
	return out
}

// fakeExternal is a scripted external badge service.
type fakeExternal struct {
	mu        sync.Mutex
	available bool
	badges    map[string]*models.Badge
	err       error
	calls     []string
	createdID string
}

func newFakeExternal(badges ...*models.Badge) *fakeExternal {
	f := &fakeExternal{available: true, badges: make(map[string]*models.Badge), createdID: "E-new"}
	for _, b := range badges {
		f.badges[b.ID] = b
	}
	return f
}

func (f *fakeExternal) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeExternal) called(call string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == call {
			return true
		}
	}
	return false
}

func (f *fakeExternal) GetAll(ctx context.Context) ([]*models.Badge, error) {
	if err := f.record("getAll"); err != nil {
		return nil, err
	}
	out := make([]*models.Badge, 0, len(f.badges))
	for _, b := range f.badges {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeExternal) GetByID(ctx context.Context, id string) (*models.Badge, error) {
	if err := f.record("getById"); err != nil {
		return nil, err
	}
	b, ok := f.badges[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (f *fakeExternal) Create(ctx context.Context, req *models.CreateBadgeRequest) (*models.Badge, error) {
	if err := f.record("create"); err != nil {
		return nil, err
	}
	return &models.Badge{ID: f.createdID, Name: req.Name}, nil
}

func (f *fakeExternal) Update(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error) {
	if err := f.record("update"); err != nil {
		return nil, err
	}
	return &models.Badge{ID: id}, nil
}

func (f *fakeExternal) UpdateProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error) {
	if err := f.record("updateProgress"); err != nil {
		return nil, err
	}
	return &models.Badge{ID: id}, nil
}

func (f *fakeExternal) Delete(ctx context.Context, id string) error {
	return f.record("delete")
}

func (f *fakeExternal) IsAvailable(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeExternal) Source() string { return "badge-engine" }

type countingRecorder struct {
	mu         sync.Mutex
	outcomes   map[string]int
	reconciled int
	failed     int
}

func (c *countingRecorder) SyncOutcome(op, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = make(map[string]int)
	}
	c.outcomes[op+":"+outcome]++
}

func (c *countingRecorder) ReconcileResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.failed++
		return
	}
	c.reconciled++
}

// ===============================
// HELPERS
// ===============================

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func linkedBadge(id, externalID string, progress int) *models.Badge {
	return &models.Badge{
		ID:             id,
		Name:           "Go Basics",
		Description:    "Learn Go",
		Progress:       progress,
		Status:         models.DeriveStatus(progress),
		Requirements:   []models.BadgeRequirement{{ID: "r1", Description: "step1"}},
		CreatedAt:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ExternalID:     strPtr(externalID),
		ExternalSource: strPtr("badge-engine"),
	}
}

func localBadge(id string, progress int) *models.Badge {
	return &models.Badge{
		ID:           id,
		Name:         "Local only",
		Description:  "Only here",
		Progress:     progress,
		Status:       models.DeriveStatus(progress),
		Requirements: []models.BadgeRequirement{},
	}
}

func remoteBadge(id string, progress int, completed bool) *models.Badge {
	return &models.Badge{
		ID:           id,
		Name:         "Remote name",
		Description:  "Remote description",
		Progress:     progress,
		Status:       models.DeriveStatus(progress),
		Requirements: []models.BadgeRequirement{{ID: "r1", Description: "step1", Completed: completed}},
	}
}

func drain(t *testing.T, svc BadgeService) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, svc.Drain(ctx))
}

// ===============================
// TESTS
// ===============================

func TestGetBadgeMergesExternalState(t *testing.T) {
	repo := newFakeRepo(linkedBadge("L1", "E1", 40))
	ext := newFakeExternal(remoteBadge("E1", 90, true))
	rec := &countingRecorder{}
	svc := NewBadgeService(repo, ext, rec, zap.NewNop())

	badge, err := svc.GetBadge(context.Background(), "L1")
	require.NoError(t, err)

	assert.Equal(t, "L1", badge.ID)
	assert.Equal(t, "Go Basics", badge.Name)
	assert.Equal(t, "Learn Go", badge.Description)
	assert.Equal(t, 90, badge.Progress)
	assert.Equal(t, models.StatusInProgress, badge.Status)
	require.Len(t, badge.Requirements, 1)
	assert.True(t, badge.Requirements[0].Completed)
	assert.Equal(t, "E1", *badge.ExternalID)

	drain(t, svc)

	assert.Equal(t, 1, repo.updateCount())
	stored, _ := repo.GetByID(context.Background(), "L1")
	assert.Equal(t, 90, stored.Progress)
	assert.True(t, stored.Requirements[0].Completed)
	assert.Equal(t, 1, rec.reconciled)
	assert.Equal(t, 1, rec.outcomes["get:merged"])
}

func TestGetBadgeFallsBackToLocal(t *testing.T) {
	t.Run("external unavailable", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 40))
		ext := newFakeExternal(remoteBadge("E1", 90, true))
		ext.available = false
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badge, err := svc.GetBadge(context.Background(), "L1")
		require.NoError(t, err)
		assert.Equal(t, 40, badge.Progress)
		assert.False(t, ext.called("getById"))

		drain(t, svc)
		assert.Zero(t, repo.updateCount())
	})

	t.Run("external fetch fails", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 40))
		ext := newFakeExternal()
		ext.err = errors.New("timeout")
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badge, err := svc.GetBadge(context.Background(), "L1")
		require.NoError(t, err)
		assert.Equal(t, 40, badge.Progress)
		assert.Equal(t, models.StatusInProgress, badge.Status)
	})

	t.Run("unlinked badge never calls external", func(t *testing.T) {
		repo := newFakeRepo(localBadge("L2", 10))
		ext := newFakeExternal()
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		_, err := svc.GetBadge(context.Background(), "L2")
		require.NoError(t, err)
		assert.Empty(t, ext.calls)
	})

	t.Run("no external service configured", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 40))
		svc := NewBadgeService(repo, nil, nil, nil)

		badge, err := svc.GetBadge(context.Background(), "L1")
		require.NoError(t, err)
		assert.Equal(t, 40, badge.Progress)
	})
}

func TestGetBadgeNotFound(t *testing.T) {
	svc := NewBadgeService(newFakeRepo(), newFakeExternal(), nil, zap.NewNop())

	_, err := svc.GetBadge(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.Equal(t, "Badge not found", GetServiceError(err).Message)
	assert.Equal(t, 404, GetServiceError(err).GetStatusCode())
}

func TestListBadges(t *testing.T) {
	t.Run("merges linked badges and keeps local order", func(t *testing.T) {
		repo := newFakeRepo(localBadge("L0", 0), linkedBadge("L1", "E1", 10), linkedBadge("L3", "E-gone", 20))
		ext := newFakeExternal(remoteBadge("E1", 100, true), remoteBadge("E9", 50, false))
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badges, err := svc.ListBadges(context.Background())
		require.NoError(t, err)
		require.Len(t, badges, 3)

		assert.Equal(t, "L0", badges[0].ID)
		assert.Equal(t, 0, badges[0].Progress)

		assert.Equal(t, "L1", badges[1].ID)
		assert.Equal(t, 100, badges[1].Progress)
		assert.Equal(t, models.StatusCompleted, badges[1].Status)
		assert.Equal(t, "Go Basics", badges[1].Name)

		// Linked badge with no remote match stays local.
		assert.Equal(t, "L3", badges[2].ID)
		assert.Equal(t, 20, badges[2].Progress)

		drain(t, svc)
		assert.Equal(t, 1, repo.updateCount())
	})

	t.Run("external list failure serves local", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 10))
		ext := newFakeExternal()
		ext.err = errors.New("502")
		rec := &countingRecorder{}
		svc := NewBadgeService(repo, ext, rec, zap.NewNop())

		badges, err := svc.ListBadges(context.Background())
		require.NoError(t, err)
		require.Len(t, badges, 1)
		assert.Equal(t, 10, badges[0].Progress)
		assert.Equal(t, 1, rec.outcomes["list:external_error"])
	})

	t.Run("storage failure", func(t *testing.T) {
		repo := newFakeRepo()
		repo.failGetAll = true
		svc := NewBadgeService(repo, nil, nil, zap.NewNop())

		_, err := svc.ListBadges(context.Background())
		assert.True(t, IsStorageError(err))
	})

	t.Run("reconcile failure does not affect the response", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 10))
		repo.failUpdate = true
		ext := newFakeExternal(remoteBadge("E1", 70, false))
		rec := &countingRecorder{}
		svc := NewBadgeService(repo, ext, rec, zap.NewNop())

		badges, err := svc.ListBadges(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 70, badges[0].Progress)

		drain(t, svc)
		assert.Equal(t, 1, rec.failed)
	})
}

func TestCreateBadge(t *testing.T) {
	req := &models.CreateBadgeRequest{
		Name:         "Go Basics",
		Description:  "Learn Go",
		Requirements: []models.RequirementInput{{Description: "step1"}},
	}

	t.Run("links to external record", func(t *testing.T) {
		repo := newFakeRepo()
		ext := newFakeExternal()
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badge, err := svc.CreateBadge(context.Background(), req)
		require.NoError(t, err)
		require.NotNil(t, badge.ExternalID)
		assert.Equal(t, "E-new", *badge.ExternalID)
		assert.Equal(t, "badge-engine", *badge.ExternalSource)
		assert.Equal(t, 0, badge.Progress)
		assert.Equal(t, models.StatusNotStarted, badge.Status)
		require.Len(t, badge.Requirements, 1)
		assert.False(t, badge.Requirements[0].Completed)
	})

	t.Run("external unreachable creates unlinked badge", func(t *testing.T) {
		repo := newFakeRepo()
		ext := newFakeExternal()
		ext.err = errors.New("connection refused")
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badge, err := svc.CreateBadge(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, badge.ExternalID)
		assert.Nil(t, badge.ExternalSource)
	})

	t.Run("external unavailable skips remote create", func(t *testing.T) {
		ext := newFakeExternal()
		ext.available = false
		svc := NewBadgeService(newFakeRepo(), ext, nil, zap.NewNop())

		badge, err := svc.CreateBadge(context.Background(), req)
		require.NoError(t, err)
		assert.Nil(t, badge.ExternalID)
		assert.False(t, ext.called("create"))
	})

	t.Run("validation", func(t *testing.T) {
		ext := newFakeExternal()
		svc := NewBadgeService(newFakeRepo(), ext, nil, zap.NewNop())

		_, err := svc.CreateBadge(context.Background(), &models.CreateBadgeRequest{Name: "ab", Description: "d"})
		assert.True(t, IsValidationError(err))

		_, err = svc.CreateBadge(context.Background(), &models.CreateBadgeRequest{Name: "abc", Description: "d", Progress: intPtr(101)})
		assert.True(t, IsValidationError(err))

		_, err = svc.CreateBadge(context.Background(), nil)
		assert.True(t, IsValidationError(err))

		assert.Empty(t, ext.calls)
	})
}

func TestUpdateBadge(t *testing.T) {
	t.Run("forwards to external and applies locally", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 10))
		ext := newFakeExternal()
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badge, err := svc.UpdateBadge(context.Background(), "L1", &models.UpdateBadgeRequest{Name: strPtr("Renamed")})
		require.NoError(t, err)
		assert.Equal(t, "Renamed", badge.Name)
		assert.Equal(t, 10, badge.Progress)
		assert.True(t, ext.called("update"))
	})

	t.Run("external failure still updates locally", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 10))
		ext := newFakeExternal()
		ext.err = errors.New("boom")
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badge, err := svc.UpdateBadge(context.Background(), "L1", &models.UpdateBadgeRequest{Progress: intPtr(100)})
		require.NoError(t, err)
		assert.Equal(t, 100, badge.Progress)
		assert.Equal(t, models.StatusCompleted, badge.Status)
	})

	t.Run("unknown badge", func(t *testing.T) {
		svc := NewBadgeService(newFakeRepo(), newFakeExternal(), nil, zap.NewNop())

		_, err := svc.UpdateBadge(context.Background(), "nope", &models.UpdateBadgeRequest{Name: strPtr("Renamed")})
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("invalid progress", func(t *testing.T) {
		svc := NewBadgeService(newFakeRepo(localBadge("L1", 0)), nil, nil, zap.NewNop())

		_, err := svc.UpdateBadge(context.Background(), "L1", &models.UpdateBadgeRequest{Progress: intPtr(-1)})
		assert.True(t, IsValidationError(err))
	})
}

func TestUpdateBadgeProgress(t *testing.T) {
	repo := newFakeRepo(linkedBadge("L1", "E1", 0))
	ext := newFakeExternal()
	svc := NewBadgeService(repo, ext, nil, zap.NewNop())

	badge, err := svc.UpdateBadgeProgress(context.Background(), "L1", &models.UpdateProgressRequest{
		Progress:     intPtr(50),
		Requirements: []models.RequirementProgress{{ID: "r1", Completed: true}},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, badge.Progress)
	assert.Equal(t, models.StatusInProgress, badge.Status)
	assert.True(t, badge.Requirements[0].Completed)
	assert.True(t, ext.called("updateProgress"))

	_, err = svc.UpdateBadgeProgress(context.Background(), "missing", &models.UpdateProgressRequest{Progress: intPtr(5)})
	assert.True(t, IsNotFoundError(err))
}

func TestDeleteBadge(t *testing.T) {
	t.Run("delete then get is not found", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 0))
		ext := newFakeExternal()
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		require.NoError(t, svc.DeleteBadge(context.Background(), "L1"))
		assert.True(t, ext.called("delete"))

		_, err := svc.GetBadge(context.Background(), "L1")
		assert.True(t, IsNotFoundError(err))
	})

	t.Run("external failure still deletes locally", func(t *testing.T) {
		repo := newFakeRepo(linkedBadge("L1", "E1", 0))
		ext := newFakeExternal()
		ext.err = errors.New("boom")
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		require.NoError(t, svc.DeleteBadge(context.Background(), "L1"))
		b, _ := repo.GetByID(context.Background(), "L1")
		assert.Nil(t, b)
	})

	t.Run("unknown badge", func(t *testing.T) {
		svc := NewBadgeService(newFakeRepo(), nil, nil, zap.NewNop())
		assert.True(t, IsNotFoundError(svc.DeleteBadge(context.Background(), "nope")))
	})

	t.Run("lost race with concurrent delete", func(t *testing.T) {
		repo := newFakeRepo(localBadge("L1", 0))
		repo.lostDelete = true
		svc := NewBadgeService(repo, nil, nil, zap.NewNop())
		assert.True(t, IsNotFoundError(svc.DeleteBadge(context.Background(), "L1")))
	})
}

func TestForeignSourceLinksStayLocal(t *testing.T) {
	foreign := func() *models.Badge {
		b := linkedBadge("L1", "E1", 40)
		b.ExternalSource = strPtr("bun-badges")
		return b
	}

	t.Run("get", func(t *testing.T) {
		repo := newFakeRepo(foreign())
		ext := newFakeExternal(remoteBadge("E1", 90, true))
		rec := &countingRecorder{}
		svc := NewBadgeService(repo, ext, rec, zap.NewNop())

		badge, err := svc.GetBadge(context.Background(), "L1")
		require.NoError(t, err)
		assert.Equal(t, 40, badge.Progress)
		assert.False(t, ext.called("getById"))
		assert.Equal(t, 1, rec.outcomes["get:local_only"])

		drain(t, svc)
		assert.Zero(t, repo.updateCount())
	})

	t.Run("list", func(t *testing.T) {
		repo := newFakeRepo(foreign())
		ext := newFakeExternal(remoteBadge("E1", 90, true))
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		badges, err := svc.ListBadges(context.Background())
		require.NoError(t, err)
		require.Len(t, badges, 1)
		assert.Equal(t, 40, badges[0].Progress)

		drain(t, svc)
		assert.Zero(t, repo.updateCount())
	})

	t.Run("writes are not forwarded", func(t *testing.T) {
		repo := newFakeRepo(foreign())
		ext := newFakeExternal()
		svc := NewBadgeService(repo, ext, nil, zap.NewNop())

		_, err := svc.UpdateBadge(context.Background(), "L1", &models.UpdateBadgeRequest{Progress: intPtr(60)})
		require.NoError(t, err)
		_, err = svc.UpdateBadgeProgress(context.Background(), "L1", &models.UpdateProgressRequest{Progress: intPtr(70)})
		require.NoError(t, err)
		require.NoError(t, svc.DeleteBadge(context.Background(), "L1"))

		assert.Empty(t, ext.calls)
	})
}

func TestInvalidExternalStateIsIgnored(t *testing.T) {
	tests := []struct {
		name   string
		remote *models.Badge
	}{
		{"progress out of range", remoteBadge("E1", 150, true)},
		{"negative progress", remoteBadge("E1", -5, false)},
		{"duplicate requirement ids", &models.Badge{
			ID:       "E1",
			Progress: 50,
			Requirements: []models.BadgeRequirement{
				{ID: "r1", Description: "step1"},
				{ID: "r1", Description: "step1 again"},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepo(linkedBadge("L1", "E1", 40))
			ext := newFakeExternal(tt.remote)
			rec := &countingRecorder{}
			svc := NewBadgeService(repo, ext, rec, zap.NewNop())

			badge, err := svc.GetBadge(context.Background(), "L1")
			require.NoError(t, err)
			assert.Equal(t, 40, badge.Progress)
			assert.Equal(t, 1, rec.outcomes["get:external_error"])

			badges, err := svc.ListBadges(context.Background())
			require.NoError(t, err)
			require.Len(t, badges, 1)
			assert.Equal(t, 40, badges[0].Progress)

			drain(t, svc)
			assert.Zero(t, repo.updateCount())
		})
	}
}

func TestMergedStatusMatchesStoredStatus(t *testing.T) {
	remote := remoteBadge("E1", 90, true)
	remote.Status = models.StatusCompleted

	repo := newFakeRepo(linkedBadge("L1", "E1", 40))
	svc := NewBadgeService(repo, newFakeExternal(remote), nil, zap.NewNop())

	badge, err := svc.GetBadge(context.Background(), "L1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusInProgress, badge.Status)

	drain(t, svc)
	stored, _ := repo.GetByID(context.Background(), "L1")
	assert.Equal(t, badge.Status, stored.Status)
	assert.Equal(t, badge.Progress, stored.Progress)
}

func TestDrainHonoursContext(t *testing.T) {
	svc := NewBadgeService(newFakeRepo(), nil, nil, zap.NewNop()).(*badgeService)
	svc.background.Add(1)
	defer svc.background.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, svc.Drain(ctx), context.DeadlineExceeded)
}
