package badges

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"atbadges/internal/models"
	"atbadges/internal/response"
	"atbadges/internal/services"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockBadgeService records the last call and returns canned results
type mockBadgeService struct {
	badge   *models.Badge
	badges  []*models.Badge
	err     error
	lastID  string
	created *models.CreateBadgeRequest
	updated *models.UpdateBadgeRequest
	patched *models.UpdateProgressRequest
}

func (m *mockBadgeService) ListBadges(ctx context.Context) ([]*models.Badge, error) {
	return m.badges, m.err
}

func (m *mockBadgeService) GetBadge(ctx context.Context, id string) (*models.Badge, error) {
	m.lastID = id
	return m.badge, m.err
}

func (m *mockBadgeService) CreateBadge(ctx context.Context, req *models.CreateBadgeRequest) (*models.Badge, error) {
	m.created = req
	return m.badge, m.err
}

func (m *mockBadgeService) UpdateBadge(ctx context.Context, id string, req *models.UpdateBadgeRequest) (*models.Badge, error) {
	m.lastID = id
	m.updated = req
	return m.badge, m.err
}

func (m *mockBadgeService) UpdateBadgeProgress(ctx context.Context, id string, req *models.UpdateProgressRequest) (*models.Badge, error) {
	m.lastID = id
	m.patched = req
	return m.badge, m.err
}

func (m *mockBadgeService) DeleteBadge(ctx context.Context, id string) error {
	m.lastID = id
	return m.err
}

func (m *mockBadgeService) Drain(ctx context.Context) error { return nil }

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func setup(svc *mockBadgeService) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	NewBadgeController(svc, zap.NewNop(), response.NewBuilder(nil, zap.NewNop())).RegisterRoutes(api)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func sampleBadge() *models.Badge {
	return &models.Badge{
		ID:           "L1",
		Name:         "Go Basics",
		Description:  "Learn Go",
		Progress:     50,
		Status:       models.StatusInProgress,
		Requirements: []models.BadgeRequirement{{ID: "r1", Description: "step1", Completed: true}},
	}
}

func TestListBadges(t *testing.T) {
	svc := &mockBadgeService{badges: []*models.Badge{sampleBadge()}}
	rec, env := do(t, setup(svc), http.MethodGet, "/api/v1/badges", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)

	var badges []models.Badge
	require.NoError(t, json.Unmarshal(env.Data, &badges))
	require.Len(t, badges, 1)
	assert.Equal(t, "Go Basics", badges[0].Name)
}

func TestGetBadge(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &mockBadgeService{badge: sampleBadge()}
		rec, env := do(t, setup(svc), http.MethodGet, "/api/v1/badges/L1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "L1", svc.lastID)
		assert.Contains(t, string(env.Data), `"progress":50`)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &mockBadgeService{err: services.NewNotFoundError("Badge not found")}
		rec, env := do(t, setup(svc), http.MethodGet, "/api/v1/badges/nope", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.False(t, env.Success)
		assert.Equal(t, "Badge not found", env.Error.Message)
	})
}

func TestCreateBadge(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		svc := &mockBadgeService{badge: sampleBadge()}
		rec, _ := do(t, setup(svc), http.MethodPost, "/api/v1/badges",
			`{"name":"Go Basics","description":"Learn Go","requirements":[{"description":"step1"}]}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		require.NotNil(t, svc.created)
		assert.Equal(t, "Go Basics", svc.created.Name)
		assert.Len(t, svc.created.Requirements, 1)
	})

	t.Run("malformed json", func(t *testing.T) {
		svc := &mockBadgeService{}
		rec, env := do(t, setup(svc), http.MethodPost, "/api/v1/badges", `{"name":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, services.ErrorTypeValidation, env.Error.Type)
		assert.Nil(t, svc.created)
	})

	t.Run("empty body", func(t *testing.T) {
		rec, _ := do(t, setup(&mockBadgeService{}), http.MethodPost, "/api/v1/badges", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("service validation", func(t *testing.T) {
		svc := &mockBadgeService{err: services.NewValidationError("invalid create badge request", nil)}
		rec, _ := do(t, setup(svc), http.MethodPost, "/api/v1/badges", `{"name":"ab"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUpdateBadge(t *testing.T) {
	svc := &mockBadgeService{badge: sampleBadge()}
	rec, _ := do(t, setup(svc), http.MethodPut, "/api/v1/badges/L1", `{"name":"Renamed","content":""}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "L1", svc.lastID)
	require.NotNil(t, svc.updated.Name)
	assert.Equal(t, "Renamed", *svc.updated.Name)
	require.NotNil(t, svc.updated.Content)
	assert.Equal(t, "", *svc.updated.Content)
	assert.Nil(t, svc.updated.Progress)
	assert.Nil(t, svc.updated.Requirements)
}

func TestUpdateBadgeProgress(t *testing.T) {
	svc := &mockBadgeService{badge: sampleBadge()}
	rec, _ := do(t, setup(svc), http.MethodPatch, "/api/v1/badges/L1/progress",
		`{"progress":50,"requirements":[{"id":"r1","completed":true}]}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, svc.patched.Progress)
	assert.Equal(t, 50, *svc.patched.Progress)
	assert.True(t, svc.patched.Requirements[0].Completed)
}

func TestDeleteBadge(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		svc := &mockBadgeService{}
		rec, env := do(t, setup(svc), http.MethodDelete, "/api/v1/badges/L1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"deleted":true}`, string(env.Data))
		assert.Equal(t, "L1", svc.lastID)
	})

	t.Run("not found", func(t *testing.T) {
		svc := &mockBadgeService{err: services.NewNotFoundError("Badge not found")}
		rec, _ := do(t, setup(svc), http.MethodDelete, "/api/v1/badges/L1", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		svc := &mockBadgeService{err: services.NewStorageError("failed to delete badge", nil)}
		rec, env := do(t, setup(svc), http.MethodDelete, "/api/v1/badges/L1", "")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, services.ErrorTypeStorage, env.Error.Type)
	})
}

func TestWrongMethod(t *testing.T) {
	tests := []struct {
		method string
		path   string
		allow  string
	}{
		{http.MethodDelete, "/api/v1/badges", "GET, POST"},
		{http.MethodPost, "/api/v1/badges/L1", "GET, PUT, DELETE"},
		{http.MethodGet, "/api/v1/badges/L1/progress", "PATCH"},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			svc := &mockBadgeService{badge: sampleBadge()}
			rec, env := do(t, setup(svc), tt.method, tt.path, "{}")

			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, tt.allow, rec.Header().Get("Allow"))
			assert.False(t, env.Success)
			require.NotNil(t, env.Error)
			assert.Equal(t, services.ErrorTypeMethodNotAllowed, env.Error.Type)
			assert.Empty(t, svc.lastID)
		})
	}
}
