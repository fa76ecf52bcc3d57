// ===============================
// FILE: internal/handlers/api/v1/badges/badges_controller.go
// ===============================

package badges

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"atbadges/internal/middleware"
	"atbadges/internal/models"
	"atbadges/internal/response"
	"atbadges/internal/services"
)

// maxBodyBytes bounds badge payloads
const maxBodyBytes = 1 << 20

// BadgeController exposes the badge service over REST
type BadgeController struct {
	service         services.BadgeService
	responseBuilder *response.Builder
	logger          *zap.Logger
}

// NewBadgeController creates a new badge API controller
func NewBadgeController(
	service services.BadgeService,
	logger *zap.Logger,
	responseBuilder *response.Builder,
) *BadgeController {
	return &BadgeController{
		service:         service,
		logger:          logger,
		responseBuilder: responseBuilder,
	}
}

// RegisterRoutes mounts the badge routes on r, which is expected to be the
// /api/v1 subrouter.
func (c *BadgeController) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/badges", c.ListBadges).Methods(http.MethodGet)
	r.HandleFunc("/badges", c.CreateBadge).Methods(http.MethodPost)
	r.HandleFunc("/badges/{id}", c.GetBadge).Methods(http.MethodGet)
	r.HandleFunc("/badges/{id}", c.UpdateBadge).Methods(http.MethodPut)
	r.HandleFunc("/badges/{id}", c.DeleteBadge).Methods(http.MethodDelete)
	r.HandleFunc("/badges/{id}/progress", c.UpdateBadgeProgress).Methods(http.MethodPatch)

	// Method-less fallbacks go last. mux loses the method mismatch once the
	// request has passed through a nested subrouter.
	r.HandleFunc("/badges", c.methodNotAllowed(http.MethodGet, http.MethodPost))
	r.HandleFunc("/badges/{id}", c.methodNotAllowed(http.MethodGet, http.MethodPut, http.MethodDelete))
	r.HandleFunc("/badges/{id}/progress", c.methodNotAllowed(http.MethodPatch))
}

func (c *BadgeController) methodNotAllowed(allowed ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.responseBuilder.WriteMethodNotAllowed(w, r, allowed...)
	}
}

// ListBadges returns every badge
// GET /api/v1/badges
func (c *BadgeController) ListBadges(w http.ResponseWriter, r *http.Request) {
	badges, err := c.service.ListBadges(r.Context())
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, badges)
}

// GetBadge returns one badge
// GET /api/v1/badges/{id}
func (c *BadgeController) GetBadge(w http.ResponseWriter, r *http.Request) {
	badge, err := c.service.GetBadge(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, badge)
}

// CreateBadge creates a badge
// POST /api/v1/badges
func (c *BadgeController) CreateBadge(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBadgeRequest
	if err := c.decodeJSON(w, r, &req); err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	badge, err := c.service.CreateBadge(r.Context(), &req)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteCreated(w, r, badge)
}

// UpdateBadge applies a partial update
// PUT /api/v1/badges/{id}
func (c *BadgeController) UpdateBadge(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateBadgeRequest
	if err := c.decodeJSON(w, r, &req); err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	badge, err := c.service.UpdateBadge(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, badge)
}

// UpdateBadgeProgress updates progress and requirement completion
// PATCH /api/v1/badges/{id}/progress
func (c *BadgeController) UpdateBadgeProgress(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateProgressRequest
	if err := c.decodeJSON(w, r, &req); err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	badge, err := c.service.UpdateBadgeProgress(r.Context(), mux.Vars(r)["id"], &req)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}
	c.responseBuilder.WriteSuccess(w, r, badge)
}

// DeleteBadge deletes a badge
// DELETE /api/v1/badges/{id}
func (c *BadgeController) DeleteBadge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := c.service.DeleteBadge(r.Context(), id); err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	middleware.GetRequestLogger(r.Context()).Info("Badge deleted via API", zap.String("badge_id", id))
	c.responseBuilder.WriteSuccess(w, r, map[string]bool{"deleted": true})
}

// decodeJSON reads a single JSON object. Unknown fields are ignored.
func (c *BadgeController) decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))

	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return services.NewValidationError("request body is required", nil)
		}
		return services.NewValidationError(fmt.Sprintf("invalid JSON body: %v", err), err)
	}
	if decoder.More() {
		return services.NewValidationError("request body must contain a single JSON object", nil)
	}
	return nil
}
