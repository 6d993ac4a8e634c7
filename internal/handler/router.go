package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"registration-service/internal/config"
)

// HealthChecker reports per-dependency failures. An empty map means healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) map[string]error
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired)
			_, _ = w.Write([]byte(`{"success":false,"error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(h *CredentialHandler, health HealthChecker, cfg config.ServerConfig, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if cfg.EnableTLS {
		router.Use(requireHTTPS)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	if cfg.RequestTimeout > 0 {
		router.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", healthHandler(health))

	router.Route("/api/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: "endpoint not found"})
	})

	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Error: "method not allowed"})
	})

	return router
}

func healthHandler(health HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		components := map[string]string{}
		status, code := "healthy", http.StatusOK
		if health != nil {
			for name, err := range health.HealthCheck(r.Context()) {
				components[name] = err.Error()
				status, code = "unhealthy", http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, map[string]interface{}{
			"status":     status,
			"service":    "registration-service",
			"components": components,
		})
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					zap.String("request_id", middleware.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("user_agent", r.UserAgent()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
