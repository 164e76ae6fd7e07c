package world

import (
	"fmt"
	"sort"
	"time"

	"github.com/DoyleJ11/worldsync/pkg/vec"
)

// Store is the authoritative in-memory world. It is not safe for
// concurrent use; the room actor is its only caller.
type Store struct {
	cfg          Config
	players      map[string]*Player
	objects      map[string]*Object
	nextObjectID uint64
}

func NewStore(cfg Config) *Store {
	return &Store{
		cfg:     cfg,
		players: make(map[string]*Player),
		objects: make(map[string]*Object),
	}
}

func (s *Store) Config() Config   { return s.cfg }
func (s *Store) PlayerCount() int { return len(s.players) }
func (s *Store) ObjectCount() int { return len(s.objects) }

func (s *Store) AddPlayer(c PlayerCandidate, now time.Time) (Player, error) {
	if len(s.players) >= s.cfg.MaxPlayers {
		return Player{}, ErrPlayerCapacity
	}
	if _, exists := s.players[c.ID]; exists {
		return Player{}, fmt.Errorf("player %q: %w", c.ID, ErrDuplicateID)
	}
	p := &Player{
		ID:          c.ID,
		DisplayName: c.DisplayName,
		Position:    c.Position,
		Rotation:    c.Rotation,
		Health:      MaxHealth,
		Energy:      MaxEnergy,
		ConnectedAt: now,
		LastUpdate:  now,
	}
	s.players[p.ID] = p
	return *p, nil
}

func (s *Store) RemovePlayer(id string) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	delete(s.players, id)
	return *p, true
}

func (s *Store) Player(id string) (Player, bool) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// Touch refreshes a player's LastUpdate. Timestamps older than the
// current value are ignored so LastUpdate never goes backwards.
func (s *Store) Touch(id string, now time.Time) bool {
	p, ok := s.players[id]
	if !ok {
		return false
	}
	if now.After(p.LastUpdate) {
		p.LastUpdate = now
	}
	return true
}

func (s *Store) UpdatePlayerTransform(id string, position, rotation *vec.Vec3, now time.Time) (Player, error) {
	p, ok := s.players[id]
	if !ok {
		return Player{}, fmt.Errorf("player %q: %w", id, ErrUnknownEntity)
	}
	if position != nil {
		p.Position = *position
	}
	if rotation != nil {
		p.Rotation = *rotation
	}
	if now.After(p.LastUpdate) {
		p.LastUpdate = now
	}
	return *p, nil
}

func (s *Store) AddObject(spec ObjectSpec, now time.Time) (Object, error) {
	if len(s.objects) >= s.cfg.MaxObjects {
		return Object{}, ErrObjectCapacity
	}
	s.nextObjectID++
	o := &Object{
		ID:             fmt.Sprintf("obj_%d", s.nextObjectID),
		CreatorID:      spec.CreatorID,
		Kind:           spec.Kind,
		Position:       spec.Position,
		Scale:          vec.One,
		MaterialHint:   spec.MaterialHint,
		PhysicsEnabled: true,
		CreatedAt:      now,
	}
	if spec.Rotation != nil {
		o.Rotation = *spec.Rotation
	}
	if spec.Scale != nil {
		o.Scale = *spec.Scale
	}
	if spec.PhysicsEnabled != nil {
		o.PhysicsEnabled = *spec.PhysicsEnabled
	}
	s.objects[o.ID] = o
	return *o, nil
}

func (s *Store) Object(id string) (Object, bool) {
	o, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	return o.clone(), true
}

func (s *Store) UpdateObjectTransform(id string, position, rotation vec.Vec3, now time.Time) (Object, error) {
	o, ok := s.objects[id]
	if !ok {
		return Object{}, fmt.Errorf("object %q: %w", id, ErrUnknownEntity)
	}
	o.Position = position
	o.Rotation = rotation
	moved := now
	o.LastMoved = &moved
	return o.clone(), nil
}

func (s *Store) RemoveObject(id string) (Object, bool) {
	o, ok := s.objects[id]
	if !ok {
		return Object{}, false
	}
	delete(s.objects, id)
	return o.clone(), true
}

// ClearObjects removes every object and reports how many were dropped.
// The id counter keeps running.
func (s *Store) ClearObjects() int {
	n := len(s.objects)
	clear(s.objects)
	return n
}

func (s *Store) Snapshot() Snapshot {
	snap := Snapshot{
		Players: make([]Player, 0, len(s.players)),
		Objects: make([]Object, 0, len(s.objects)),
	}
	for _, p := range s.players {
		snap.Players = append(snap.Players, *p)
	}
	for _, o := range s.objects {
		snap.Objects = append(snap.Objects, o.clone())
	}
	sort.Slice(snap.Players, func(i, j int) bool { return snap.Players[i].ID < snap.Players[j].ID })
	sort.Slice(snap.Objects, func(i, j int) bool { return objectLess(snap.Objects[i].ID, snap.Objects[j].ID) })
	return snap
}

// objectLess orders obj_9 before obj_10.
func objectLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
