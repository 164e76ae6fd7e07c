// Package manip arbitrates a local interactive drag of one networked object.
//
// The lock is client-local only. Two clients dragging the same object both
// write and the server keeps whichever move-object it applied last.
package manip

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/DoyleJ11/worldsync/pkg/client"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

var (
	ErrBusy          = errors.New("manip: already dragging")
	ErrUnknownObject = errors.New("manip: unknown object")
	ErrNotNetworked  = errors.New("manip: object not confirmed by server")
	ErrNotDragging   = errors.New("manip: no active drag")
	ErrExpired       = errors.New("manip: drag held too long")
)

// Target is the slice of client.Agent the arbiter needs.
type Target interface {
	Object(id string) (protocol.Object, bool)
	SetObjectPhysics(id string, enabled bool) bool
	MoveObject(id string, pos, rot vec.Vec3) error
}

// Ray is the viewer's pointing ray. Direction need not be normalized.
type Ray struct {
	Origin    vec.Vec3
	Direction vec.Vec3
}

func (r Ray) At(distance float64) vec.Vec3 {
	return r.Origin.Add(r.Direction.Normalize().Scale(distance))
}

type Options struct {
	Distance     float64 // hold distance at Begin; 0 uses the current distance to the object
	MinDistance  float64
	MaxDistance  float64
	ScrollStep   float64 // distance change per unit of scroll
	SendInterval time.Duration
	MaxHold      time.Duration // 0 never expires
	Now          func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MinDistance:  0.5,
		MaxDistance:  20,
		ScrollStep:   0.5,
		SendInterval: 100 * time.Millisecond,
		MaxHold:      30 * time.Second,
		Now:          time.Now,
	}
}

type drag struct {
	id       string
	distance float64
	started  time.Time
	pos      vec.Vec3
	rot      vec.Vec3
	moved    bool
}

type Arbiter struct {
	mu     sync.Mutex
	target Target
	opts   Options
	send   *client.Throttle
	cur    *drag
}

func New(t Target, opts Options) *Arbiter {
	def := DefaultOptions()
	if opts.MinDistance <= 0 {
		opts.MinDistance = def.MinDistance
	}
	if opts.MaxDistance < opts.MinDistance {
		opts.MaxDistance = max(def.MaxDistance, opts.MinDistance)
	}
	if opts.ScrollStep <= 0 {
		opts.ScrollStep = def.ScrollStep
	}
	if opts.SendInterval == 0 {
		opts.SendInterval = def.SendInterval
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Arbiter{target: t, opts: opts, send: client.NewThrottle(opts.SendInterval)}
}

func (a *Arbiter) clamp(d float64) float64 {
	return math.Min(math.Max(d, a.opts.MinDistance), a.opts.MaxDistance)
}

// Begin takes the drag lock on id and suspends its local physics.
func (a *Arbiter) Begin(id string, ray Ray) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur != nil {
		return ErrBusy
	}
	if client.IsLocalID(id) {
		return ErrNotNetworked
	}
	o, ok := a.target.Object(id)
	if !ok {
		return ErrUnknownObject
	}

	dist := a.opts.Distance
	if dist <= 0 {
		dist = o.Position.Sub(ray.Origin).Len()
	}
	a.target.SetObjectPhysics(id, false)
	a.cur = &drag{
		id:       id,
		distance: a.clamp(dist),
		started:  a.opts.Now(),
		pos:      o.Position,
		rot:      o.Rotation,
	}
	return nil
}

// Update places the held object along ray and queues a throttled
// move-object. It returns the new position.
func (a *Arbiter) Update(ray Ray) (vec.Vec3, error) {
	a.mu.Lock()
	d := a.cur
	if d == nil {
		a.mu.Unlock()
		return vec.Zero, ErrNotDragging
	}
	if a.opts.MaxHold > 0 && a.opts.Now().Sub(d.started) > a.opts.MaxHold {
		a.mu.Unlock()
		if err := a.End(); err != nil {
			return vec.Zero, errors.Join(ErrExpired, err)
		}
		return vec.Zero, ErrExpired
	}
	d.pos = ray.At(d.distance)
	d.moved = true
	id, pos, rot := d.id, d.pos, d.rot
	a.mu.Unlock()

	err := a.send.Do(func() error { return a.target.MoveObject(id, pos, rot) })
	return pos, err
}

// Scroll changes the hold distance by delta steps and returns the new
// distance.
func (a *Arbiter) Scroll(delta float64) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return 0, ErrNotDragging
	}
	a.cur.distance = a.clamp(a.cur.distance + delta*a.opts.ScrollStep)
	return a.cur.distance, nil
}

// End releases the drag, sends the final position unthrottled and restores
// physics.
func (a *Arbiter) End() error {
	a.mu.Lock()
	d := a.cur
	a.cur = nil
	a.mu.Unlock()
	if d == nil {
		return ErrNotDragging
	}

	a.send.Cancel()
	var err error
	if d.moved {
		err = a.target.MoveObject(d.id, d.pos, d.rot)
	}
	a.target.SetObjectPhysics(d.id, true)
	return err
}

// Active reports the id being dragged, if any.
func (a *Arbiter) Active() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cur == nil {
		return "", false
	}
	return a.cur.id, true
}
