package manip

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

type move struct {
	id  string
	pos vec.Vec3
}

type fakeTarget struct {
	mu      sync.Mutex
	objects map[string]protocol.Object
	moves   []move
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{objects: map[string]protocol.Object{
		"obj_1": {ID: "obj_1", Position: vec.New(0, 0, 5), PhysicsEnabled: true},
	}}
}

func (f *fakeTarget) Object(id string) (protocol.Object, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[id]
	return o, ok
}

func (f *fakeTarget) SetObjectPhysics(id string, enabled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.objects[id]
	if !ok {
		return false
	}
	o.PhysicsEnabled = enabled
	f.objects[id] = o
	return true
}

func (f *fakeTarget) MoveObject(id string, pos, rot vec.Vec3) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.moves = append(f.moves, move{id: id, pos: pos})
	return nil
}

func (f *fakeTarget) sent() []move {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]move(nil), f.moves...)
}

func (f *fakeTarget) physics(id string) bool {
	o, _ := f.Object(id)
	return o.PhysicsEnabled
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestArbiter(mutate func(*Options)) (*Arbiter, *fakeTarget, *clock) {
	ft := newFakeTarget()
	clk := &clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	opts := DefaultOptions()
	opts.Now = clk.Now
	if mutate != nil {
		mutate(&opts)
	}
	return New(ft, opts), ft, clk
}

var forward = Ray{Origin: vec.Zero, Direction: vec.New(0, 0, 2)}

func TestBegin_DisablesPhysicsAndLocks(t *testing.T) {
	a, ft, _ := newTestArbiter(nil)

	require.NoError(t, a.Begin("obj_1", forward))
	assert.False(t, ft.physics("obj_1"))
	id, ok := a.Active()
	assert.True(t, ok)
	assert.Equal(t, "obj_1", id)

	assert.ErrorIs(t, a.Begin("obj_1", forward), ErrBusy)
}

func TestBegin_Rejections(t *testing.T) {
	a, _, _ := newTestArbiter(nil)
	assert.ErrorIs(t, a.Begin("obj_404", forward), ErrUnknownObject)
	assert.ErrorIs(t, a.Begin("local_3", forward), ErrNotNetworked)
	_, ok := a.Active()
	assert.False(t, ok)
}

func TestUpdate_PlacesAlongRayAtHoldDistance(t *testing.T) {
	a, ft, _ := newTestArbiter(nil)
	require.NoError(t, a.Begin("obj_1", forward))

	// object starts 5 units away; pointing along +x keeps that distance
	pos, err := a.Update(Ray{Origin: vec.Zero, Direction: vec.New(1, 0, 0)})
	require.NoError(t, err)
	assert.True(t, vec.ApproxEqual(vec.New(5, 0, 0), pos, 1e-9))

	sent := ft.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "obj_1", sent[0].id)
}

func TestUpdate_ThrottlesMoves(t *testing.T) {
	a, ft, _ := newTestArbiter(func(o *Options) { o.SendInterval = time.Hour })
	require.NoError(t, a.Begin("obj_1", forward))

	for i := 0; i < 10; i++ {
		_, err := a.Update(forward)
		require.NoError(t, err)
	}
	assert.Len(t, ft.sent(), 1, "later updates wait for the limiter")

	require.NoError(t, a.End())
	sent := ft.sent()
	assert.Len(t, sent, 2, "release sends the final position immediately")
	assert.True(t, ft.physics("obj_1"))
}

func TestScroll_ClampsDistance(t *testing.T) {
	a, _, _ := newTestArbiter(nil)
	_, err := a.Scroll(1)
	assert.ErrorIs(t, err, ErrNotDragging)

	require.NoError(t, a.Begin("obj_1", forward))
	d, err := a.Scroll(1000)
	require.NoError(t, err)
	assert.Equal(t, 20.0, d)
	d, _ = a.Scroll(-1000)
	assert.Equal(t, 0.5, d)

	pos, err := a.Update(forward)
	require.NoError(t, err)
	assert.True(t, vec.ApproxEqual(vec.New(0, 0, 0.5), pos, 1e-9))
}

func TestFixedDistanceOption(t *testing.T) {
	a, _, _ := newTestArbiter(func(o *Options) { o.Distance = 3 })
	require.NoError(t, a.Begin("obj_1", forward))
	pos, err := a.Update(forward)
	require.NoError(t, err)
	assert.True(t, vec.ApproxEqual(vec.New(0, 0, 3), pos, 1e-9))
}

func TestUpdate_ExpiresAfterMaxHold(t *testing.T) {
	a, ft, clk := newTestArbiter(nil)
	require.NoError(t, a.Begin("obj_1", forward))

	clk.Advance(31 * time.Second)
	_, err := a.Update(forward)
	assert.ErrorIs(t, err, ErrExpired)
	_, ok := a.Active()
	assert.False(t, ok)
	assert.True(t, ft.physics("obj_1"))

	require.NoError(t, a.Begin("obj_1", forward), "lock is free again")
}

func TestEnd_WithoutDrag(t *testing.T) {
	a, ft, _ := newTestArbiter(nil)
	assert.ErrorIs(t, a.End(), ErrNotDragging)

	require.NoError(t, a.Begin("obj_1", forward))
	require.NoError(t, a.End())
	assert.Empty(t, ft.sent(), "nothing moved, nothing sent")
	assert.True(t, ft.physics("obj_1"))
}
