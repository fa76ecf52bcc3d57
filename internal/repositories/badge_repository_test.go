package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"atbadges/internal/config"
	"atbadges/internal/database"
	"atbadges/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func intPtr(i int) *int       { return &i }
func strPtr(s string) *string { return &s }

func TestBuildBulkInsert(t *testing.T) {
	query, args, err := buildBulkInsert("badge_requirements", []string{"id", "badge_id"}, [][]interface{}{
		{"r1", "b1"},
		{"r2", "b1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "INSERT INTO badge_requirements (id, badge_id) VALUES ($1, $2), ($3, $4)", query)
	assert.Equal(t, []interface{}{"r1", "b1", "r2", "b1"}, args)

	_, _, err = buildBulkInsert("t", []string{"a", "b"}, [][]interface{}{{"only-one"}})
	assert.Error(t, err)
}

func TestBuildBadgeUpdate(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("only updated_at when nothing is present", func(t *testing.T) {
		set, args := buildBadgeUpdate(&models.UpdateBadgeRequest{}, 0, now)
		assert.Equal(t, []string{"updated_at = $1"}, set)
		assert.Equal(t, []interface{}{now}, args)
	})

	t.Run("progress derives status", func(t *testing.T) {
		set, args := buildBadgeUpdate(&models.UpdateBadgeRequest{
			Name:     strPtr("Renamed"),
			Progress: intPtr(100),
		}, 10, now)

		assert.Equal(t, []string{"name = $1", "progress = $2", "status = $3", "updated_at = $4"}, set)
		assert.Equal(t, []interface{}{"Renamed", 100, "COMPLETED", now}, args)
	})

	t.Run("status alone resolves against stored progress", func(t *testing.T) {
		completed := models.StatusCompleted
		set, args := buildBadgeUpdate(&models.UpdateBadgeRequest{Status: &completed}, 40, now)

		assert.Equal(t, []string{"status = $1", "updated_at = $2"}, set)
		assert.Equal(t, "IN_PROGRESS", args[0])
	})

	t.Run("empty optional text clears the column", func(t *testing.T) {
		set, args := buildBadgeUpdate(&models.UpdateBadgeRequest{Content: strPtr("")}, 0, now)

		assert.Equal(t, []string{"content = $1", "updated_at = $2"}, set)
		assert.Nil(t, args[0])
	})
}

func TestMaterializeRequirements(t *testing.T) {
	reqs, err := materializeRequirements([]models.RequirementInput{
		{ID: "r1", Description: "keep id", Completed: true},
		{Description: "needs id"},
	})
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	assert.Equal(t, "r1", reqs[0].ID)
	assert.True(t, reqs[0].Completed)
	assert.NotEmpty(t, reqs[1].ID)
	assert.NotEqual(t, "r1", reqs[1].ID)
}

func TestNonEmpty(t *testing.T) {
	assert.Nil(t, nonEmpty(nil))
	assert.Nil(t, nonEmpty(strPtr("")))
	assert.Equal(t, "x", *nonEmpty(strPtr("x")))
}

// newTestRepository connects to TEST_DATABASE_URL and applies migrations.
func newTestRepository(t *testing.T) BadgeRepository {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg := &config.DatabaseConfig{
		URL:                url,
		MaxOpenConns:       5,
		MaxIdleConns:       1,
		ConnMaxLifetime:    time.Minute,
		SlowQueryThreshold: time.Second,
	}

	manager, err := database.NewManager(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	require.NoError(t, manager.Migrate("../../migrations"))

	return NewBadgeRepository(manager, zap.NewNop())
}

func TestBadgeRepositoryLifecycle(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.CreateBadgeRequest{
		Name:        "X badge",
		Description: "Y",
		Progress:    intPtr(0),
		Content:     strPtr(""),
		Requirements: []models.RequirementInput{
			{ID: "r1", Description: "step1"},
			{ID: "r2", Description: "step2"},
		},
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Delete(context.Background(), created.ID) })

	assert.Equal(t, models.StatusNotStarted, created.Status)
	assert.Nil(t, created.Content)
	assert.Nil(t, created.ExternalID)

	t.Run("round trip", func(t *testing.T) {
		fetched, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, fetched)

		assert.Equal(t, created.ID, fetched.ID)
		assert.Equal(t, created.Name, fetched.Name)
		assert.Equal(t, created.Requirements, fetched.Requirements)
		assert.True(t, created.CreatedAt.Equal(fetched.CreatedAt))
	})

	t.Run("progress without requirements keeps them", func(t *testing.T) {
		updated, err := repo.UpdateProgress(ctx, created.ID, &models.UpdateProgressRequest{Progress: intPtr(40)})
		require.NoError(t, err)
		require.NotNil(t, updated)

		assert.Equal(t, models.StatusInProgress, updated.Status)
		assert.Equal(t, created.Requirements, updated.Requirements)
	})

	t.Run("progress is idempotent", func(t *testing.T) {
		first, err := repo.UpdateProgress(ctx, created.ID, &models.UpdateProgressRequest{Progress: intPtr(50)})
		require.NoError(t, err)
		second, err := repo.UpdateProgress(ctx, created.ID, &models.UpdateProgressRequest{Progress: intPtr(50)})
		require.NoError(t, err)

		assert.Equal(t, first.Progress, second.Progress)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Requirements, second.Requirements)
	})

	t.Run("completion and unknown requirement ids", func(t *testing.T) {
		updated, err := repo.UpdateProgress(ctx, created.ID, &models.UpdateProgressRequest{
			Progress: intPtr(100),
			Requirements: []models.RequirementProgress{
				{ID: "r1", Completed: true},
				{ID: "missing", Completed: true},
			},
		})
		require.NoError(t, err)

		assert.Equal(t, models.StatusCompleted, updated.Status)
		require.Len(t, updated.Requirements, 2)
		assert.True(t, updated.Requirements[0].Completed)
		assert.False(t, updated.Requirements[1].Completed)
	})

	t.Run("update replaces requirements wholesale", func(t *testing.T) {
		replacement := []models.RequirementInput{{ID: "r9", Description: "only one"}}
		updated, err := repo.Update(ctx, created.ID, &models.UpdateBadgeRequest{
			Description:  strPtr("new description"),
			Requirements: &replacement,
		})
		require.NoError(t, err)

		assert.Equal(t, "X badge", updated.Name)
		assert.Equal(t, "new description", updated.Description)
		assert.Equal(t, []models.BadgeRequirement{{ID: "r9", Description: "only one"}}, updated.Requirements)
	})

	t.Run("missing ids", func(t *testing.T) {
		badge, err := repo.GetByID(ctx, "does-not-exist")
		assert.NoError(t, err)
		assert.Nil(t, badge)

		badge, err = repo.Update(ctx, "does-not-exist", &models.UpdateBadgeRequest{Name: strPtr("nope")})
		assert.NoError(t, err)
		assert.Nil(t, badge)

		badge, err = repo.UpdateProgress(ctx, "does-not-exist", &models.UpdateProgressRequest{Progress: intPtr(1)})
		assert.NoError(t, err)
		assert.Nil(t, badge)

		deleted, err := repo.Delete(ctx, "does-not-exist")
		assert.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("listed with requirements", func(t *testing.T) {
		all, err := repo.GetAll(ctx)
		require.NoError(t, err)

		var found *models.Badge
		for _, b := range all {
			if b.ID == created.ID {
				found = b
			}
		}
		require.NotNil(t, found)
		assert.Len(t, found.Requirements, 1)
	})

	t.Run("delete then get", func(t *testing.T) {
		deleted, err := repo.Delete(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, deleted)

		badge, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Nil(t, badge)
	})
}
