package world

import (
	"sort"
	"time"
)

// Settle lowers every resting physics object by one step toward the
// ground and returns the objects that changed.
func (s *Store) Settle(now time.Time, rule SettleRule) []Object {
	var changed []Object
	ground := s.cfg.GroundLevel
	for _, o := range s.objects {
		if !o.PhysicsEnabled || o.Position.Y <= ground {
			continue
		}
		if o.LastMoved != nil && now.Sub(*o.LastMoved) <= rule.Delay {
			continue
		}
		o.Position.Y -= rule.Step
		if o.Position.Y < ground {
			o.Position.Y = ground
		}
		changed = append(changed, o.clone())
	}
	sortObjects(changed)
	return changed
}

// IdlePlayers lists players whose last activity is strictly older than
// timeout. A player exactly at the boundary is still live.
func (s *Store) IdlePlayers(now time.Time, timeout time.Duration) []Player {
	var idle []Player
	for _, p := range s.players {
		if now.Sub(p.LastUpdate) > timeout {
			idle = append(idle, *p)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].ID < idle[j].ID })
	return idle
}

// ExpiredObjects lists objects created more than maxAge ago.
func (s *Store) ExpiredObjects(now time.Time, maxAge time.Duration) []Object {
	var expired []Object
	for _, o := range s.objects {
		if now.Sub(o.CreatedAt) > maxAge {
			expired = append(expired, o.clone())
		}
	}
	sortObjects(expired)
	return expired
}

func sortObjects(objs []Object) {
	sort.Slice(objs, func(i, j int) bool { return objectLess(objs[i].ID, objs[j].ID) })
}
