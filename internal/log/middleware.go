package log

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const RequestIDHeader = "X-Request-ID"

// Middleware attaches a request scoped logger to the request context and
// logs the completion of every request.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)

			reqLogger := logger.With(FieldRequestID, requestID)
			ctx := IntoContext(r.Context(), reqLogger)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))

			LogHTTPEnd(reqLogger, r, rec.status, time.Since(start))
		})
	}
}

// LogHTTPEnd logs at a level derived from the status code.
func LogHTTPEnd(logger *Logger, r *http.Request, statusCode int, elapsed time.Duration) {
	level := slog.LevelInfo
	if statusCode >= 400 && statusCode < 500 {
		level = slog.LevelWarn
	} else if statusCode >= 500 {
		level = slog.LevelError
	}

	fields := NewFields().WithHTTPResponse(statusCode, elapsed.Milliseconds())
	fields[FieldMethod] = r.Method
	fields[FieldPath] = r.URL.Path

	logger.Log(r.Context(), level, "HTTP request completed", fields.ToSlice()...)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
