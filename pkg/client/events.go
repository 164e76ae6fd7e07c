package client

import (
	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

// Event is something the presentation layer may want to react to. Events
// are dispatched after the mirror has been updated.
type Event interface{ isEvent() }

// Handler receives events on the agent's read goroutine. It must not block.
type Handler func(Event)

type StateChanged struct{ From, To State }

// InitApplied fires after an init frame replaced the mirror.
type InitApplied struct {
	SelfID  string
	World   protocol.WorldConfig
	Players []protocol.Player
	Objects []protocol.Object
}

type PlayerJoined struct{ Player protocol.Player }

type PlayerLeft struct{ ID, Name string }

type PlayerMoved struct {
	ID       string
	Position vec.Vec3
}

type PlayerRotated struct {
	ID       string
	Rotation vec.Vec3
}

// ObjectCreated reports a server-confirmed object. ReplacesLocalID names the
// placeholder it supersedes when the object is our own echo.
type ObjectCreated struct {
	Object          protocol.Object
	ReplacesLocalID string
}

type ObjectMoved struct {
	ID       string
	Position vec.Vec3
	Rotation vec.Vec3
}

type ObjectDeleted struct{ ID string }

type ObjectsCleared struct{ IDs []string }

// SnapshotApplied summarizes a reconcile: what was inserted or refreshed and
// what was dropped because the server no longer has it.
type SnapshotApplied struct {
	Players        []protocol.Player
	Objects        []protocol.Object
	RemovedPlayers []string
	RemovedObjects []string
}

type ChatReceived struct{ Chat protocol.ChatBroadcast }

type ServerError struct{ Message string }

func (StateChanged) isEvent()    {}
func (InitApplied) isEvent()     {}
func (PlayerJoined) isEvent()    {}
func (PlayerLeft) isEvent()      {}
func (PlayerMoved) isEvent()     {}
func (PlayerRotated) isEvent()   {}
func (ObjectCreated) isEvent()   {}
func (ObjectMoved) isEvent()     {}
func (ObjectDeleted) isEvent()   {}
func (ObjectsCleared) isEvent()  {}
func (SnapshotApplied) isEvent() {}
func (ChatReceived) isEvent()    {}
func (ServerError) isEvent()     {}
