package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/internal/audit"
	"github.com/DoyleJ11/worldsync/internal/room"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditReader is the read side of the audit store.
type AuditReader interface {
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type StatusResponse struct {
	Players       int     `json:"players"`
	Objects       int     `json:"objects"`
	MaxPlayers    int     `json:"maxPlayers"`
	MaxObjects    int     `json:"maxObjects"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func Status(rm *room.Room) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		v, err := rm.State(ctx)
		if err != nil {
			http.Error(w, "room unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, StatusResponse{
			Players:       len(v.Players),
			Objects:       len(v.Objects),
			MaxPlayers:    v.World.MaxPlayers,
			MaxObjects:    v.World.MaxObjects,
			UptimeSeconds: time.Since(v.StartedAt).Seconds(),
		})
	}
}

func RecentAudit(store AuditReader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultAuditLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxAuditLimit)
		}
		entries, err := store.Recent(r.Context(), limit)
		if err != nil {
			log.Warn("audit query failed", zap.Error(err))
			http.Error(w, "audit unavailable", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
