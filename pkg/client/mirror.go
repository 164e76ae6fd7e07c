package client

import (
	"sort"
	"strconv"
	"strings"

	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

const localPrefix = "local_"

// IsLocalID reports whether id names a placeholder that the server has not
// confirmed yet.
func IsLocalID(id string) bool { return strings.HasPrefix(id, localPrefix) }

// Mirror is the client's copy of the world. It never holds the local player
// in its players set. It is not safe for concurrent use; Agent guards it.
type Mirror struct {
	self    string
	world   protocol.WorldConfig
	players map[string]protocol.Player
	objects map[string]protocol.Object

	pending  []string // placeholder ids awaiting their echo, oldest first
	localSeq int
	held     map[string]struct{} // objects with physics suspended locally
}

func NewMirror() *Mirror {
	return &Mirror{
		players: make(map[string]protocol.Player),
		objects: make(map[string]protocol.Object),
		held:    make(map[string]struct{}),
	}
}

func (m *Mirror) Self() string                { return m.self }
func (m *Mirror) World() protocol.WorldConfig { return m.world }

// Reset replaces the mirror wholesale from an init frame.
func (m *Mirror) Reset(init protocol.Init) InitApplied {
	m.self = init.AssignedID
	m.world = init.WorldConfig
	m.players = make(map[string]protocol.Player, len(init.Players))
	m.objects = make(map[string]protocol.Object, len(init.Objects))
	m.pending = nil
	m.held = make(map[string]struct{})
	for _, p := range init.Players {
		if p.ID == m.self {
			continue
		}
		m.players[p.ID] = p
	}
	for _, o := range init.Objects {
		m.objects[o.ID] = o
	}
	return InitApplied{
		SelfID:  m.self,
		World:   m.world,
		Players: m.Players(),
		Objects: m.Objects(),
	}
}

// Apply folds one server message into the mirror and returns the events it
// produced. Messages about the local player produce nothing.
func (m *Mirror) Apply(msg protocol.Message) []Event {
	switch v := msg.(type) {
	case protocol.Init:
		return []Event{m.Reset(v)}

	case protocol.PlayerJoined:
		if v.ID == m.self {
			return nil
		}
		m.players[v.ID] = v.Player
		return []Event{PlayerJoined{Player: v.Player}}

	case protocol.PlayerLeft:
		if v.ID == m.self {
			return nil
		}
		delete(m.players, v.ID)
		return []Event{PlayerLeft{ID: v.ID, Name: v.Name}}

	case protocol.PlayerMoved:
		p, ok := m.players[v.ID]
		if !ok {
			return nil
		}
		p.Position = v.Position
		m.players[v.ID] = p
		return []Event{PlayerMoved{ID: v.ID, Position: v.Position}}

	case protocol.PlayerRotated:
		p, ok := m.players[v.ID]
		if !ok {
			return nil
		}
		p.Rotation = v.Rotation
		m.players[v.ID] = p
		return []Event{PlayerRotated{ID: v.ID, Rotation: v.Rotation}}

	case protocol.ObjectCreated:
		return []Event{m.created(v.Object)}

	case protocol.ObjectMoved:
		if !m.SetObjectTransform(v.ID, v.Position, v.Rotation) {
			return nil
		}
		return []Event{ObjectMoved{ID: v.ID, Position: v.Position, Rotation: v.Rotation}}

	case protocol.ObjectDeleted:
		if !m.RemoveObject(v.ID) {
			return nil
		}
		return []Event{ObjectDeleted{ID: v.ID}}

	case protocol.ObjectsCleared:
		ids := make([]string, 0, len(m.objects))
		for id := range m.objects {
			if !IsLocalID(id) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			m.RemoveObject(id)
		}
		return []Event{ObjectsCleared{IDs: ids}}

	case protocol.WorldSnapshot:
		return []Event{m.reconcile(v)}

	case protocol.ChatBroadcast:
		return []Event{ChatReceived{Chat: v}}

	case protocol.Error:
		evs := []Event{ServerError{Message: v.Message}}
		if v.Message == protocol.ErrorObjectLimit && len(m.pending) > 0 {
			local := m.pending[0]
			m.pending = m.pending[1:]
			delete(m.objects, local)
			evs = append(evs, ObjectDeleted{ID: local})
		}
		return evs
	}
	return nil
}

func (m *Mirror) created(o protocol.Object) ObjectCreated {
	ev := ObjectCreated{Object: o}
	_, known := m.objects[o.ID]
	if !known && o.CreatorID == m.self && len(m.pending) > 0 {
		ev.ReplacesLocalID = m.pending[0]
		m.pending = m.pending[1:]
		delete(m.objects, ev.ReplacesLocalID)
		if _, ok := m.held[ev.ReplacesLocalID]; ok {
			delete(m.held, ev.ReplacesLocalID)
			m.held[o.ID] = struct{}{}
		}
	}
	m.objects[o.ID] = m.withHold(o)
	ev.Object = m.objects[o.ID]
	return ev
}

// reconcile upserts everything in the snapshot and drops what the server no
// longer has. Placeholders are left alone. Applying the same snapshot twice
// leaves the mirror unchanged.
func (m *Mirror) reconcile(s protocol.WorldSnapshot) SnapshotApplied {
	var out SnapshotApplied

	seen := make(map[string]struct{}, len(s.Players))
	for _, p := range s.Players {
		if p.ID == m.self {
			continue
		}
		seen[p.ID] = struct{}{}
		m.players[p.ID] = p
		out.Players = append(out.Players, p)
	}
	for id := range m.players {
		if _, ok := seen[id]; !ok {
			delete(m.players, id)
			out.RemovedPlayers = append(out.RemovedPlayers, id)
		}
	}

	seen = make(map[string]struct{}, len(s.Objects))
	for _, o := range s.Objects {
		seen[o.ID] = struct{}{}
		if _, known := m.objects[o.ID]; !known && o.CreatorID == m.self && len(m.pending) > 0 {
			// The echo was lost; the snapshot stands in for it.
			m.created(o)
		} else {
			m.objects[o.ID] = m.withHold(o)
		}
		out.Objects = append(out.Objects, m.objects[o.ID])
	}
	for id := range m.objects {
		if IsLocalID(id) {
			continue
		}
		if _, ok := seen[id]; !ok {
			m.RemoveObject(id)
			out.RemovedObjects = append(out.RemovedObjects, id)
		}
	}
	sort.Strings(out.RemovedPlayers)
	sort.Strings(out.RemovedObjects)
	return out
}

func (m *Mirror) withHold(o protocol.Object) protocol.Object {
	if _, ok := m.held[o.ID]; ok {
		o.PhysicsEnabled = false
	}
	return o
}

// AddPlaceholder records an optimistic object for a create request that has
// not been echoed yet.
func (m *Mirror) AddPlaceholder(req protocol.CreateObject, at vec.Vec3) protocol.Object {
	m.localSeq++
	o := protocol.Object{
		ID:             localPrefix + strconv.Itoa(m.localSeq),
		CreatorID:      m.self,
		Kind:           req.Kind,
		Position:       at,
		Scale:          vec.One,
		MaterialHint:   req.MaterialHint,
		PhysicsEnabled: true,
	}
	if req.Position != nil {
		o.Position = *req.Position
	}
	if req.Rotation != nil {
		o.Rotation = *req.Rotation
	}
	if req.Scale != nil {
		o.Scale = *req.Scale
	}
	if req.PhysicsEnabled != nil {
		o.PhysicsEnabled = *req.PhysicsEnabled
	}
	m.objects[o.ID] = o
	m.pending = append(m.pending, o.ID)
	return o
}

// DropPlaceholder forgets a placeholder whose request never reached the server.
func (m *Mirror) DropPlaceholder(id string) {
	for i, p := range m.pending {
		if p == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	delete(m.objects, id)
	delete(m.held, id)
}

func (m *Mirror) SetObjectTransform(id string, pos, rot vec.Vec3) bool {
	o, ok := m.objects[id]
	if !ok {
		return false
	}
	o.Position = pos
	o.Rotation = rot
	m.objects[id] = o
	return true
}

func (m *Mirror) RemoveObject(id string) bool {
	if _, ok := m.objects[id]; !ok {
		return false
	}
	delete(m.objects, id)
	delete(m.held, id)
	return true
}

// SetObjectPhysics toggles the local physics flag. A disabled flag survives
// later snapshots until it is enabled again.
func (m *Mirror) SetObjectPhysics(id string, enabled bool) bool {
	o, ok := m.objects[id]
	if !ok {
		return false
	}
	if enabled {
		delete(m.held, id)
	} else {
		m.held[id] = struct{}{}
	}
	o.PhysicsEnabled = enabled
	m.objects[id] = o
	return true
}

func (m *Mirror) Player(id string) (protocol.Player, bool) {
	p, ok := m.players[id]
	return p, ok
}

func (m *Mirror) Object(id string) (protocol.Object, bool) {
	o, ok := m.objects[id]
	return o, ok
}

func (m *Mirror) Players() []protocol.Player {
	out := make([]protocol.Player, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Mirror) Objects() []protocol.Object {
	out := make([]protocol.Object, 0, len(m.objects))
	for _, o := range m.objects {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
