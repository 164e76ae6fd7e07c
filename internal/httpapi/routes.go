package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/internal/room"
	"github.com/DoyleJ11/worldsync/internal/ws"
)

type Deps struct {
	Room  *room.Room
	Log   *zap.Logger
	WS    ws.Options
	Audit AuditReader // nil leaves /audit unmounted
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(requestLogger(d.Log))
		r.Get("/healthz", Healthz)
		r.Get("/status", Status(d.Room))
		if d.Audit != nil {
			r.Get("/audit", RecentAudit(d.Audit, d.Log))
		}
	})

	// Upgraded connections are long-lived; the session logs its own lifecycle.
	r.Get("/ws", ws.Handler(d.Room, d.Log, d.WS))
	return r
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
