package router

import (
	"context"
	"net/http"

	"atbadges/internal/cache"
	"atbadges/internal/config"
	"atbadges/internal/handlers/api/v1/badges"
	"atbadges/internal/handlers/api/v1/health"
	"atbadges/internal/middleware"
	"atbadges/internal/monitoring"
	"atbadges/internal/response"
	"atbadges/internal/rpc"
	"atbadges/internal/services"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Database is the slice of *database.Manager the HTTP layer needs
type Database interface {
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the router wires into handlers
type Dependencies struct {
	Config          *config.Config
	BadgeService    services.BadgeService
	Database        Database
	Dashboard       *monitoring.Dashboard
	Metrics         *monitoring.Metrics
	Cache           cache.Cache
	ResponseBuilder *response.Builder
	Logger          *zap.Logger
}

// SetupRouter configures all HTTP routes and returns the main handler.
//
// Middleware that must see every request (including CORS preflights and
// unmatched paths) wraps the router from the outside. Metrics run inside
// the router so they can read the matched route template.
func SetupRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	builder := deps.ResponseBuilder
	if builder == nil {
		builder = response.NewBuilder(nil, logger)
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		builder.WriteError(w, req, services.NewNotFoundError("Route not found"))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		builder.WriteMethodNotAllowed(w, req)
	})

	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}

	// REST API
	api := r.PathPrefix("/api/v1").Subrouter()
	health.NewHealthController(deps.Dashboard, builder).RegisterRoutes(api)

	badgeRoutes := api.NewRoute().Subrouter()
	badgeRoutes.Use(middleware.RequireDatabase(deps.Database, builder))
	badges.NewBadgeController(deps.BadgeService, logger, builder).RegisterRoutes(badgeRoutes)

	// Procedure-style API used by the web frontend
	procedures := rpc.NewHandler(deps.BadgeService, deps.Database, logger)
	r.PathPrefix("/rpc/").Handler(http.StripPrefix("/rpc", procedures.Routes()))

	if deps.Metrics != nil && (deps.Config == nil || deps.Config.Security.MetricsEnabled) {
		r.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
	}

	logger.Info("Router setup completed",
		zap.Strings("procedures", procedures.Procedures()),
		zap.Bool("metrics_exposed", deps.Metrics != nil && (deps.Config == nil || deps.Config.Security.MetricsEnabled)),
	)

	return chain(r, outerMiddleware(deps, builder, logger)...)
}

func outerMiddleware(deps Dependencies, builder *response.Builder, logger *zap.Logger) []func(http.Handler) http.Handler {
	corsOpts := middleware.CORSOptions{}
	limiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg := deps.Config; cfg != nil {
		corsOpts = middleware.CORSOptions{
			AllowedOrigins: cfg.Security.AllowedOrigins,
			MaxAge:         cfg.Security.CORSMaxAge,
			Debug:          cfg.IsDevelopment() && cfg.Logging.Level == "debug",
		}
		limiterCfg.Requests = cfg.Security.RateLimitRequests
		limiterCfg.Window = cfg.Security.RateLimitWindow
	}

	mws := []func(http.Handler) http.Handler{
		middleware.RequestID(logger),
		middleware.StructuredLogging(),
		middleware.RecoverPanic(builder),
		middleware.SecureHeaders,
		middleware.CORS(corsOpts),
	}
	if deps.Cache != nil {
		mws = append(mws, middleware.NewRateLimiter(deps.Cache, limiterCfg, builder, logger).Middleware)
	}
	return mws
}

// chain applies mws so that the first one is outermost
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
