// file: internal/middleware/middleware.go
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"atbadges/internal/response"
	"atbadges/internal/services"

	"github.com/rs/cors"
	"go.uber.org/zap"
)

// SlowRequestThreshold marks requests logged as slow
const SlowRequestThreshold = 2 * time.Second

// StructuredLogging logs request completion with status, duration and size
func StructuredLogging() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := GetRequestStart(r.Context())
			requestLogger := GetRequestLogger(r.Context())

			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			duration := time.Since(start)
			fields := []zap.Field{
				zap.Int("status", rw.status),
				zap.Duration("duration", duration),
				zap.Int64("response_size", rw.bytesWritten),
			}

			switch {
			case rw.status >= http.StatusInternalServerError:
				requestLogger.Error("Request completed", fields...)
			case duration > SlowRequestThreshold:
				requestLogger.Warn("Slow request detected", fields...)
			default:
				requestLogger.Info("Request completed", fields...)
			}
		})
	}
}

// RecoverPanic turns a panic into a 500 envelope and logs the stack
func RecoverPanic(builder *response.Builder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}

					GetRequestLogger(r.Context()).Error("Panic recovered",
						zap.Any("panic", err),
						zap.ByteString("stack", debug.Stack()),
					)

					builder.WriteError(w, r, services.NewInternalError("panic recovered"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// CORSOptions configures cross-origin access
type CORSOptions struct {
	AllowedOrigins []string
	MaxAge         int
	Debug          bool
}

// CORS allows the configured frontends with credentials
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut,
			http.MethodDelete, http.MethodPatch, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", HeaderXRequestID, HeaderXCorrelationID},
		ExposedHeaders:   []string{HeaderXRequestID, HeaderXCorrelationID},
		AllowCredentials: true,
		MaxAge:           opts.MaxAge,
		Debug:            opts.Debug,
	})
	return c.Handler
}

// SecureHeaders sets the standard hardening headers for a JSON API
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status       int
	bytesWritten int64
	wroteHeader  bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	rw.wroteHeader = true
	written, err := rw.ResponseWriter.Write(data)
	rw.bytesWritten += int64(written)
	return written, err
}
