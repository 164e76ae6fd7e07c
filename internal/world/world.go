package world

import (
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/worldsync/pkg/vec"
)

var ErrCapacity = errors.New("capacity reached")
var ErrPlayerCapacity = fmt.Errorf("%w: player limit", ErrCapacity)
var ErrObjectCapacity = fmt.Errorf("%w: object limit", ErrCapacity)
var ErrUnknownEntity = errors.New("unknown entity")
var ErrDuplicateID = errors.New("duplicate id")

const (
	MaxEnergy = 100
	MaxHealth = 100
)

// Config holds the values broadcast to every client at join time.
// They never change while the process runs.
type Config struct {
	MaxPlayers  int     `yaml:"max_players"`
	MaxObjects  int     `yaml:"max_objects"`
	GroundLevel float64 `yaml:"ground_level"`
}

func DefaultConfig() Config {
	return Config{MaxPlayers: 50, MaxObjects: 500, GroundLevel: 0}
}

type Player struct {
	ID          string
	DisplayName string
	Position    vec.Vec3
	Rotation    vec.Vec3
	Health      int
	Energy      int
	ConnectedAt time.Time
	LastUpdate  time.Time
}

// PlayerCandidate is what the gateway knows about a connection before
// it is admitted.
type PlayerCandidate struct {
	ID          string
	DisplayName string
	Position    vec.Vec3
	Rotation    vec.Vec3
}

type Object struct {
	ID             string
	CreatorID      string
	Kind           string
	Position       vec.Vec3
	Rotation       vec.Vec3
	Scale          vec.Vec3
	MaterialHint   string
	PhysicsEnabled bool
	CreatedAt      time.Time
	LastMoved      *time.Time
}

// ObjectSpec describes an object to place. Nil fields fall back to
// defaults (origin, no rotation, unit scale, physics on).
type ObjectSpec struct {
	CreatorID      string
	Kind           string
	Position       vec.Vec3
	Rotation       *vec.Vec3
	Scale          *vec.Vec3
	MaterialHint   string
	PhysicsEnabled *bool
}

type Snapshot struct {
	Players []Player
	Objects []Object
}

// SettleRule is the coarse gravity approximation applied on each tick.
type SettleRule struct {
	Delay time.Duration // objects moved more recently than this stay put
	Step  float64       // vertical descent per tick
}

func DefaultSettleRule() SettleRule {
	return SettleRule{Delay: time.Second, Step: 0.1}
}

func (o Object) clone() Object {
	if o.LastMoved != nil {
		t := *o.LastMoved
		o.LastMoved = &t
	}
	return o
}
