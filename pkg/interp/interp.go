// Package interp smooths remote entity transforms between network updates.
// Targets are replaced as updates arrive; Step moves the rendered transform
// a fixed fraction of the way toward the target.
package interp

import (
	"math"
	"sync"

	"github.com/DoyleJ11/worldsync/pkg/client"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

const DefaultAlpha = 0.15

type Transform struct {
	Position vec.Vec3
	Rotation vec.Vec3
}

type entry struct {
	current Transform
	target  Transform
}

// Interpolator is safe for concurrent use, so Handle can run on the agent's
// read goroutine while Step runs on the render loop.
type Interpolator struct {
	mu      sync.Mutex
	alpha   float64
	entries map[string]*entry
}

// New returns an Interpolator with the given blend factor. Values outside
// (0, 1] are clamped; zero, negative or NaN fall back to DefaultAlpha.
func New(alpha float64) *Interpolator {
	switch {
	case math.IsNaN(alpha) || alpha <= 0:
		alpha = DefaultAlpha
	case alpha > 1:
		alpha = 1
	}
	return &Interpolator{alpha: alpha, entries: make(map[string]*entry)}
}

func (in *Interpolator) Alpha() float64 { return in.alpha }

// SetTarget replaces the target for id. The first sighting of an id snaps
// its current transform to the target.
func (in *Interpolator) SetTarget(id string, t Transform) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.setLocked(id, t)
}

func (in *Interpolator) setLocked(id string, t Transform) {
	if e, ok := in.entries[id]; ok {
		e.target = t
		return
	}
	in.entries[id] = &entry{current: t, target: t}
}

func (in *Interpolator) SetPosition(id string, p vec.Vec3) {
	in.mu.Lock()
	defer in.mu.Unlock()
	t := Transform{Position: p}
	if e, ok := in.entries[id]; ok {
		t.Rotation = e.target.Rotation
	}
	in.setLocked(id, t)
}

func (in *Interpolator) SetRotation(id string, r vec.Vec3) {
	in.mu.Lock()
	defer in.mu.Unlock()
	t := Transform{Rotation: r}
	if e, ok := in.entries[id]; ok {
		t.Position = e.target.Position
	}
	in.setLocked(id, t)
}

// Step advances every entity one frame.
func (in *Interpolator) Step() {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, e := range in.entries {
		e.current.Position = vec.Lerp(e.current.Position, e.target.Position, in.alpha)
		e.current.Rotation = vec.Lerp(e.current.Rotation, e.target.Rotation, in.alpha)
	}
}

func (in *Interpolator) Current(id string) (Transform, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.entries[id]
	if !ok {
		return Transform{}, false
	}
	return e.current, true
}

func (in *Interpolator) Target(id string) (Transform, bool) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.entries[id]
	if !ok {
		return Transform{}, false
	}
	return e.target, true
}

// Rename moves the entry for from to to, keeping its rendered transform.
// Used when a placeholder is confirmed under its server id.
func (in *Interpolator) Rename(from, to string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	e, ok := in.entries[from]
	if !ok {
		return
	}
	delete(in.entries, from)
	in.entries[to] = e
}

func (in *Interpolator) Remove(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	delete(in.entries, id)
}

func (in *Interpolator) Reset() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.entries = make(map[string]*entry)
}

func (in *Interpolator) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.entries)
}

// Handle feeds agent events into the interpolator. Subscribe it with
// agent.Subscribe(in.Handle).
func (in *Interpolator) Handle(ev client.Event) {
	switch v := ev.(type) {
	case client.InitApplied:
		in.Reset()
		for _, p := range v.Players {
			in.SetTarget(p.ID, Transform{Position: p.Position, Rotation: p.Rotation})
		}
		for _, o := range v.Objects {
			in.SetTarget(o.ID, Transform{Position: o.Position, Rotation: o.Rotation})
		}
	case client.PlayerJoined:
		in.SetTarget(v.Player.ID, Transform{Position: v.Player.Position, Rotation: v.Player.Rotation})
	case client.PlayerLeft:
		in.Remove(v.ID)
	case client.PlayerMoved:
		in.SetPosition(v.ID, v.Position)
	case client.PlayerRotated:
		in.SetRotation(v.ID, v.Rotation)
	case client.ObjectCreated:
		if v.ReplacesLocalID != "" {
			in.Rename(v.ReplacesLocalID, v.Object.ID)
		}
		in.SetTarget(v.Object.ID, Transform{Position: v.Object.Position, Rotation: v.Object.Rotation})
	case client.ObjectMoved:
		in.SetTarget(v.ID, Transform{Position: v.Position, Rotation: v.Rotation})
	case client.ObjectDeleted:
		in.Remove(v.ID)
	case client.ObjectsCleared:
		for _, id := range v.IDs {
			in.Remove(id)
		}
	case client.SnapshotApplied:
		for _, p := range v.Players {
			in.SetTarget(p.ID, Transform{Position: p.Position, Rotation: p.Rotation})
		}
		for _, o := range v.Objects {
			in.SetTarget(o.ID, Transform{Position: o.Position, Rotation: o.Rotation})
		}
		for _, id := range v.RemovedPlayers {
			in.Remove(id)
		}
		for _, id := range v.RemovedObjects {
			in.Remove(id)
		}
	}
}
