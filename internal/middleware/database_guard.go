// file: internal/middleware/database_guard.go
package middleware

import (
	"context"
	"net/http"
	"time"

	"atbadges/internal/response"

	"go.uber.org/zap"
)

// Pinger is satisfied by *database.Manager
type Pinger interface {
	Ping(ctx context.Context) error
}

const databaseCheckTimeout = 2 * time.Second

// RequireDatabase answers 503 before any handler runs when the database
// does not answer a ping.
func RequireDatabase(db Pinger, builder *response.Builder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), databaseCheckTimeout)
			err := db.Ping(ctx)
			cancel()

			if err != nil {
				GetRequestLogger(r.Context()).Error("Database connectivity check failed", zap.Error(err))
				builder.WriteServiceUnavailable(w, r, "Database connection failed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
