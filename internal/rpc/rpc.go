// Package rpc exposes the badge service as named procedures under /rpc,
// the transport used by the web frontend.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"atbadges/internal/contextutils"
	"atbadges/internal/models"
	"atbadges/internal/services"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const maxInputBytes = 1 << 20

// Error codes
const (
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeMethodNotSupported = "METHOD_NOT_SUPPORTED"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
)

// Pinger is satisfied by *database.Manager
type Pinger interface {
	Ping(ctx context.Context) error
}

type procedure struct {
	// query procedures may also be called with GET ?input=
	query bool
	call  func(ctx context.Context, input json.RawMessage) (interface{}, error)
}

// Handler dispatches procedure calls
type Handler struct {
	service    services.BadgeService
	db         Pinger
	logger     *zap.Logger
	procedures map[string]procedure
}

// NewHandler builds the procedure table. db may be nil, in which case
// health.check reports the database as disconnected.
func NewHandler(service services.BadgeService, db Pinger, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{service: service, db: db, logger: logger}
	h.procedures = map[string]procedure{
		"badge.getAll":         {query: true, call: h.badgeGetAll},
		"badge.getById":        {query: true, call: h.badgeGetByID},
		"badge.create":         {call: h.badgeCreate},
		"badge.update":         {call: h.badgeUpdate},
		"badge.updateProgress": {call: h.badgeUpdateProgress},
		"badge.delete":         {call: h.badgeDelete},
		"health.check":         {query: true, call: h.healthCheck},
		"health.ping":          {query: true, call: h.healthPing},
	}
	return h
}

// Routes returns the chi router to mount under /rpc
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.NoCache)
	r.Get("/{procedure}", h.serve)
	r.Post("/{procedure}", h.serve)
	return r
}

// Procedures lists the registered procedure names in order
func (h *Handler) Procedures() []string {
	names := make([]string, 0, len(h.procedures))
	for name := range h.procedures {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ===============================
// ENVELOPES
// ===============================

type successBody struct {
	Result struct {
		Data interface{} `json:"data"`
	} `json:"result"`
}

// Error is the error payload of a failed call
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"httpStatus"`
}

type errorBody struct {
	Error Error `json:"error"`
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "procedure")
	logger := contextutils.LoggerFrom(r.Context(), h.logger).With(zap.String("procedure", name))

	proc, ok := h.procedures[name]
	if !ok {
		writeError(w, Error{Code: CodeNotFound, Message: fmt.Sprintf("No procedure found on path %q", name), HTTPStatus: http.StatusNotFound})
		return
	}
	if r.Method == http.MethodGet && !proc.query {
		writeError(w, Error{Code: CodeMethodNotSupported, Message: fmt.Sprintf("%s must be called with POST", name), HTTPStatus: http.StatusMethodNotAllowed})
		return
	}

	input, err := readInput(r)
	if err != nil {
		writeError(w, Error{Code: CodeBadRequest, Message: err.Error(), HTTPStatus: http.StatusBadRequest})
		return
	}

	data, err := proc.call(r.Context(), input)
	if err != nil {
		rpcErr := toError(err)
		if rpcErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Error("Procedure failed", zap.Error(err))
		} else {
			logger.Info("Procedure rejected", zap.String("code", rpcErr.Code), zap.String("message", rpcErr.Message))
		}
		writeError(w, rpcErr)
		return
	}

	var body successBody
	body.Result.Data = data
	writeJSON(w, http.StatusOK, body)
}

func readInput(r *http.Request) (json.RawMessage, error) {
	if r.Method == http.MethodGet {
		raw := r.URL.Query().Get("input")
		if raw == "" {
			return nil, nil
		}
		if !json.Valid([]byte(raw)) {
			return nil, fmt.Errorf("input query parameter is not valid JSON")
		}
		return json.RawMessage(raw), nil
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(raw) > maxInputBytes {
		return nil, fmt.Errorf("request body too large")
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("request body is not valid JSON")
	}
	return json.RawMessage(raw), nil
}

func toError(err error) Error {
	se := services.GetServiceError(err)
	if se == nil {
		return Error{Code: CodeInternal, Message: "An unexpected error occurred", HTTPStatus: http.StatusInternalServerError}
	}

	switch se.Type {
	case services.ErrorTypeNotFound:
		return Error{Code: CodeNotFound, Message: se.Message, HTTPStatus: http.StatusNotFound}
	case services.ErrorTypeValidation:
		msg := se.Message
		if se.Cause != nil {
			msg = fmt.Sprintf("%s: %v", se.Message, se.Cause)
		}
		return Error{Code: CodeBadRequest, Message: msg, HTTPStatus: http.StatusBadRequest}
	default:
		return Error{Code: CodeInternal, Message: se.Message, HTTPStatus: http.StatusInternalServerError}
	}
}

func writeError(w http.ResponseWriter, e Error) {
	writeJSON(w, e.HTTPStatus, errorBody{Error: e})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode unmarshals a procedure input. A missing input leaves dst untouched.
func decode(input json.RawMessage, dst interface{}) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, dst); err != nil {
		return services.NewValidationError("invalid input", err)
	}
	return nil
}

// ===============================
// BADGE PROCEDURES
// ===============================

type idInput struct {
	ID string `json:"id"`
}

type updateInput struct {
	ID   string                     `json:"id"`
	Data *models.UpdateBadgeRequest `json:"data"`
}

type progressInput struct {
	ID   string                        `json:"id"`
	Data *models.UpdateProgressRequest `json:"data"`
}

func (h *Handler) badgeGetAll(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return h.service.ListBadges(ctx)
}

func (h *Handler) badgeGetByID(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in idInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	return h.service.GetBadge(ctx, in.ID)
}

func (h *Handler) badgeCreate(ctx context.Context, input json.RawMessage) (interface{}, error) {
	if len(input) == 0 {
		return nil, services.NewValidationError("input is required", nil)
	}
	var in models.CreateBadgeRequest
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	return h.service.CreateBadge(ctx, &in)
}

func (h *Handler) badgeUpdate(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in updateInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	return h.service.UpdateBadge(ctx, in.ID, in.Data)
}

func (h *Handler) badgeUpdateProgress(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in progressInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	return h.service.UpdateBadgeProgress(ctx, in.ID, in.Data)
}

func (h *Handler) badgeDelete(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in idInput
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	if err := h.service.DeleteBadge(ctx, in.ID); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

// ===============================
// HEALTH PROCEDURES
// ===============================

type healthResult struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Database  string    `json:"database"`
}

func (h *Handler) healthCheck(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	result := healthResult{Status: "ok", Timestamp: time.Now().UTC(), Database: "disconnected"}
	if h.db != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := h.db.Ping(pingCtx); err == nil {
			result.Database = "connected"
		}
	}
	return result, nil
}

func (h *Handler) healthPing(ctx context.Context, input json.RawMessage) (interface{}, error) {
	var in struct {
		Message string `json:"message"`
	}
	if err := decode(input, &in); err != nil {
		return nil, err
	}
	return "pong " + in.Message, nil
}
