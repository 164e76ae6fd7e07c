package room

import (
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/internal/audit"
	"github.com/DoyleJ11/worldsync/internal/world"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
)

const maxNameRunes = 32

func (r *Room) join(msg Join) {
	now := r.now()
	id := r.newID()
	name := displayName(msg.Name, id)

	p, err := r.store.AddPlayer(world.PlayerCandidate{
		ID:          id,
		DisplayName: name,
		Position:    r.cfg.SpawnPoint,
	}, now)
	if err != nil {
		r.log.Warn("join rejected", zap.String("name", name), zap.Error(err))
		r.audit.Record(audit.Entry{Kind: audit.KindRejected, PlayerName: name, Detail: err.Error()})
		msg.Reply <- JoinResult{Err: err}
		return
	}

	r.sessions[id] = msg.Outbox
	snap := r.store.Snapshot()
	r.sendTo(id, protocol.Init{
		AssignedID:  id,
		Players:     wirePlayers(snap.Players),
		Objects:     wireObjects(snap.Objects),
		WorldConfig: wireWorld(r.store.Config()),
	})
	r.broadcast(protocol.PlayerJoined{Player: wirePlayer(p)}, id)

	r.log.Info("player joined",
		zap.String("session", id),
		zap.String("name", name),
		zap.Int("players", r.store.PlayerCount()))
	r.audit.Record(audit.Entry{Kind: audit.KindJoin, PlayerID: id, PlayerName: name})
	msg.Reply <- JoinResult{Player: p}
}

// removeSession is the single cleanup path for transport closes, slow
// consumers and idle timeouts.
func (r *Room) removeSession(id, reason string) {
	if out, ok := r.sessions[id]; ok {
		delete(r.sessions, id)
		close(out)
	}
	p, ok := r.store.RemovePlayer(id)
	if !ok {
		r.log.Debug("leave for unknown session", zap.String("session", id), zap.String("reason", reason))
		return
	}
	r.broadcast(protocol.PlayerLeft{ID: p.ID, Name: p.DisplayName}, "")

	r.log.Info("player left",
		zap.String("session", id),
		zap.String("name", p.DisplayName),
		zap.String("reason", reason),
		zap.Int("players", r.store.PlayerCount()))
	r.audit.Record(audit.Entry{Kind: audit.KindLeave, PlayerID: id, PlayerName: p.DisplayName, Detail: reason})
}

func (r *Room) handle(id string, m protocol.Message) {
	now := r.now()
	if !r.store.Touch(id, now) {
		r.log.Debug("message from unknown session", zap.String("session", id), zap.String("type", string(m.Type())))
		return
	}

	switch msg := m.(type) {
	case protocol.Move:
		if _, err := r.store.UpdatePlayerTransform(id, &msg.Position, nil, now); err != nil {
			r.log.Debug("move ignored", zap.String("session", id), zap.Error(err))
			return
		}
		r.broadcast(protocol.PlayerMoved{ID: id, Position: msg.Position}, id)

	case protocol.Rotate:
		if _, err := r.store.UpdatePlayerTransform(id, nil, &msg.Rotation, now); err != nil {
			r.log.Debug("rotate ignored", zap.String("session", id), zap.Error(err))
			return
		}
		r.broadcast(protocol.PlayerRotated{ID: id, Rotation: msg.Rotation}, id)

	case protocol.CreateObject:
		spec := world.ObjectSpec{
			CreatorID:      id,
			Kind:           msg.Kind,
			Rotation:       msg.Rotation,
			Scale:          msg.Scale,
			MaterialHint:   msg.MaterialHint,
			PhysicsEnabled: msg.PhysicsEnabled,
		}
		if msg.Position != nil {
			spec.Position = *msg.Position
		} else if p, ok := r.store.Player(id); ok {
			spec.Position = p.Position
		}
		o, err := r.store.AddObject(spec, now)
		if errors.Is(err, world.ErrCapacity) {
			r.log.Info("object create refused", zap.String("session", id), zap.Error(err))
			r.sendTo(id, protocol.Error{Message: protocol.ErrorObjectLimit})
			return
		} else if err != nil {
			r.log.Error("object create failed", zap.String("session", id), zap.Error(err))
			return
		}
		r.log.Debug("object created", zap.String("session", id), zap.String("object", o.ID), zap.String("kind", o.Kind))
		r.broadcast(protocol.ObjectCreated{Object: wireObject(o)}, "")

	case protocol.MoveObject:
		o, err := r.store.UpdateObjectTransform(msg.ObjectID, msg.Position, msg.Rotation, now)
		if err != nil {
			r.log.Debug("move-object ignored", zap.String("session", id), zap.Error(err))
			return
		}
		r.broadcast(protocol.ObjectMoved{ID: o.ID, Position: o.Position, Rotation: o.Rotation}, id)

	case protocol.DeleteObject:
		if _, ok := r.store.RemoveObject(msg.ObjectID); !ok {
			r.log.Debug("delete-object ignored", zap.String("session", id), zap.String("object", msg.ObjectID))
			return
		}
		r.broadcast(protocol.ObjectDeleted{ID: msg.ObjectID}, id)

	case protocol.ClearObjects:
		n := r.store.ClearObjects()
		r.log.Info("objects cleared", zap.String("session", id), zap.Int("removed", n))
		r.broadcast(protocol.ObjectsCleared{}, "")

	case protocol.ChatMessage:
		p, _ := r.store.Player(id)
		r.broadcast(protocol.ChatBroadcast{
			ID:         r.newID(),
			PlayerID:   id,
			PlayerName: p.DisplayName,
			Message:    msg.Message,
			Timestamp:  now.UnixMilli(),
		}, "")
		r.audit.Record(audit.Entry{Kind: audit.KindChat, PlayerID: id, PlayerName: p.DisplayName, Detail: msg.Message})

	default:
		r.log.Warn("unsupported client message", zap.String("session", id), zap.String("type", string(m.Type())))
	}
}

func displayName(requested, id string) string {
	name := strings.TrimSpace(requested)
	if utf8.RuneCountInString(name) > maxNameRunes {
		name = string([]rune(name)[:maxNameRunes])
	}
	if name == "" {
		suffix := id
		if len(suffix) > 4 {
			suffix = suffix[len(suffix)-4:]
		}
		name = "Player-" + suffix
	}
	return name
}
