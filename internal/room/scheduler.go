package room

import (
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/pkg/protocol"
)

// tick runs the periodic world maintenance: settle, idle sweep, object
// age sweep and the full snapshot broadcast.
func (r *Room) tick(now time.Time) {
	skipped := 0
	for _, o := range r.store.Settle(now, r.cfg.Settle) {
		skipped += r.broadcastTick(protocol.ObjectMoved{ID: o.ID, Position: o.Position, Rotation: o.Rotation})
	}

	for _, p := range r.store.IdlePlayers(now, r.cfg.PlayerIdleTimeout) {
		r.removeSession(p.ID, "idle timeout")
	}

	if now.Sub(r.lastSweep) >= r.cfg.ObjectSweepInterval {
		r.lastSweep = now
		expired := r.store.ExpiredObjects(now, r.cfg.ObjectMaxAge)
		for _, o := range expired {
			r.store.RemoveObject(o.ID)
			skipped += r.broadcastTick(protocol.ObjectDeleted{ID: o.ID})
		}
		if len(expired) > 0 {
			r.log.Info("expired objects removed", zap.Int("removed", len(expired)))
		}
	}

	if now.Sub(r.lastSnapshot) >= r.cfg.SnapshotInterval {
		r.lastSnapshot = now
		snap := r.store.Snapshot()
		skipped += r.broadcastTick(protocol.WorldSnapshot{
			Players:   wirePlayers(snap.Players),
			Objects:   wireObjects(snap.Objects),
			Timestamp: now.UnixMilli(),
		})
	}

	if skipped > 0 {
		r.log.Debug("tick frames skipped on full outboxes", zap.Int("frames", skipped))
	}
}
