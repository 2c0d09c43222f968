// Package api - служебный HTTP API магазина: проверка живости, метрики,
// статистика кэша, балансы и история, каталог и приём донатов от
// внешнего сервиса.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/discord-shop/internal/metrics"
)

// NewRouter создаёт роутер со всеми маршрутами.
func NewRouter(h *Handler, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/cache/stats", h.CacheStats)
		r.Get("/accounts/{account}/balance", h.GetBalance)
		r.Get("/accounts/{account}/history", h.GetHistory)
		r.Get("/products", h.ListProducts)

		r.Group(func(r chi.Router) {
			r.Use(h.requireToken)
			r.Post("/donations", h.CreateDonation)
		})
	})

	return r
}

// requestLogger пишет каждый запрос в logrus и считает его в метриках.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()

			entry := log.WithFields(log.Fields{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start),
				"remote":     r.RemoteAddr,
			})
			if status >= 500 {
				entry.Error("HTTP запрос завершился ошибкой")
			} else {
				entry.Debug("HTTP запрос")
			}
		}()

		next.ServeHTTP(ww, r)
	})
}
