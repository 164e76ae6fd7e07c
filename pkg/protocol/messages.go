package protocol

import "github.com/DoyleJ11/worldsync/pkg/vec"

type Kind string

const (
	KindInit           Kind = "init"
	KindPlayerJoined   Kind = "player-joined"
	KindPlayerLeft     Kind = "player-left"
	KindPlayerMoved    Kind = "player-moved"
	KindPlayerRotated  Kind = "player-rotated"
	KindObjectCreated  Kind = "object-created"
	KindObjectMoved    Kind = "object-moved"
	KindObjectDeleted  Kind = "object-deleted"
	KindObjectsCleared Kind = "objects-cleared"
	KindWorldSnapshot  Kind = "world-snapshot"
	KindChatMessage    Kind = "chat-message" // both directions
	KindError          Kind = "error"

	KindMove         Kind = "move"
	KindRotate       Kind = "rotate"
	KindCreateObject Kind = "create-object"
	KindMoveObject   Kind = "move-object"
	KindDeleteObject Kind = "delete-object"
	KindClearObjects Kind = "clear-objects"
)

// Texts carried by Error.
const (
	ErrorServerFull  = "server full"
	ErrorObjectLimit = "object limit reached"
)

// Message is implemented by every payload type in this package.
type Message interface{ Type() Kind }

type Player struct {
	ID          string   `json:"id"`
	DisplayName string   `json:"displayName"`
	Position    vec.Vec3 `json:"position"`
	Rotation    vec.Vec3 `json:"rotation"`
	Health      int      `json:"health"`
	Energy      int      `json:"energy"`
	ConnectedAt int64    `json:"connectedAt"`
	LastUpdate  int64    `json:"lastUpdate"`
}

type Object struct {
	ID             string   `json:"id"`
	CreatorID      string   `json:"creatorId"`
	Kind           string   `json:"kind"`
	Position       vec.Vec3 `json:"position"`
	Rotation       vec.Vec3 `json:"rotation"`
	Scale          vec.Vec3 `json:"scale"`
	MaterialHint   string   `json:"materialHint,omitempty"`
	PhysicsEnabled bool     `json:"physicsEnabled"`
	CreatedAt      int64    `json:"createdAt"`
	LastMoved      *int64   `json:"lastMoved"`
}

type WorldConfig struct {
	MaxPlayers  int     `json:"maxPlayers"`
	MaxObjects  int     `json:"maxObjects"`
	GroundLevel float64 `json:"groundLevel"`
}

// Server -> Client

type Init struct {
	AssignedID  string      `json:"assignedId"`
	Players     []Player    `json:"players"`
	Objects     []Object    `json:"objects"`
	WorldConfig WorldConfig `json:"worldConfig"`
}

type PlayerJoined struct{ Player }

type PlayerLeft struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type PlayerMoved struct {
	ID       string   `json:"id"`
	Position vec.Vec3 `json:"position"`
}

type PlayerRotated struct {
	ID       string   `json:"id"`
	Rotation vec.Vec3 `json:"rotation"`
}

type ObjectCreated struct{ Object }

type ObjectMoved struct {
	ID       string   `json:"id"`
	Position vec.Vec3 `json:"position"`
	Rotation vec.Vec3 `json:"rotation"`
}

type ObjectDeleted struct {
	ID string `json:"id"`
}

type ObjectsCleared struct{}

type WorldSnapshot struct {
	Players   []Player `json:"players"`
	Objects   []Object `json:"objects"`
	Timestamp int64    `json:"timestamp"`
}

type ChatBroadcast struct {
	ID         string `json:"id"`
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Message    string `json:"message"`
	Timestamp  int64  `json:"timestamp"`
}

type Error struct {
	Message string `json:"message"`
}

// Client -> Server

type Move struct {
	Position vec.Vec3 `json:"position"`
}

type Rotate struct {
	Rotation vec.Vec3 `json:"rotation"`
}

type CreateObject struct {
	Kind           string    `json:"kind"`
	Position       *vec.Vec3 `json:"position,omitempty"`
	Rotation       *vec.Vec3 `json:"rotation,omitempty"`
	Scale          *vec.Vec3 `json:"scale,omitempty"`
	MaterialHint   string    `json:"materialHint,omitempty"`
	PhysicsEnabled *bool     `json:"physicsEnabled,omitempty"`
}

type MoveObject struct {
	ObjectID string   `json:"objectId"`
	Position vec.Vec3 `json:"position"`
	Rotation vec.Vec3 `json:"rotation"`
}

type DeleteObject struct {
	ObjectID string `json:"objectId"`
}

type ClearObjects struct{}

type ChatMessage struct {
	Message string `json:"message"`
}

func (Init) Type() Kind           { return KindInit }
func (PlayerJoined) Type() Kind   { return KindPlayerJoined }
func (PlayerLeft) Type() Kind     { return KindPlayerLeft }
func (PlayerMoved) Type() Kind    { return KindPlayerMoved }
func (PlayerRotated) Type() Kind  { return KindPlayerRotated }
func (ObjectCreated) Type() Kind  { return KindObjectCreated }
func (ObjectMoved) Type() Kind    { return KindObjectMoved }
func (ObjectDeleted) Type() Kind  { return KindObjectDeleted }
func (ObjectsCleared) Type() Kind { return KindObjectsCleared }
func (WorldSnapshot) Type() Kind  { return KindWorldSnapshot }
func (ChatBroadcast) Type() Kind  { return KindChatMessage }
func (Error) Type() Kind          { return KindError }

func (Move) Type() Kind         { return KindMove }
func (Rotate) Type() Kind       { return KindRotate }
func (CreateObject) Type() Kind { return KindCreateObject }
func (MoveObject) Type() Kind   { return KindMoveObject }
func (DeleteObject) Type() Kind { return KindDeleteObject }
func (ClearObjects) Type() Kind { return KindClearObjects }
func (ChatMessage) Type() Kind  { return KindChatMessage }
