package room

import (
	"github.com/DoyleJ11/worldsync/internal/world"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
)

func wirePlayer(p world.Player) protocol.Player {
	return protocol.Player{
		ID:          p.ID,
		DisplayName: p.DisplayName,
		Position:    p.Position,
		Rotation:    p.Rotation,
		Health:      p.Health,
		Energy:      p.Energy,
		ConnectedAt: p.ConnectedAt.UnixMilli(),
		LastUpdate:  p.LastUpdate.UnixMilli(),
	}
}

func wirePlayers(ps []world.Player) []protocol.Player {
	out := make([]protocol.Player, 0, len(ps))
	for _, p := range ps {
		out = append(out, wirePlayer(p))
	}
	return out
}

func wireObject(o world.Object) protocol.Object {
	w := protocol.Object{
		ID:             o.ID,
		CreatorID:      o.CreatorID,
		Kind:           o.Kind,
		Position:       o.Position,
		Rotation:       o.Rotation,
		Scale:          o.Scale,
		MaterialHint:   o.MaterialHint,
		PhysicsEnabled: o.PhysicsEnabled,
		CreatedAt:      o.CreatedAt.UnixMilli(),
	}
	if o.LastMoved != nil {
		ms := o.LastMoved.UnixMilli()
		w.LastMoved = &ms
	}
	return w
}

func wireObjects(objs []world.Object) []protocol.Object {
	out := make([]protocol.Object, 0, len(objs))
	for _, o := range objs {
		out = append(out, wireObject(o))
	}
	return out
}

func wireWorld(c world.Config) protocol.WorldConfig {
	return protocol.WorldConfig{
		MaxPlayers:  c.MaxPlayers,
		MaxObjects:  c.MaxObjects,
		GroundLevel: c.GroundLevel,
	}
}
