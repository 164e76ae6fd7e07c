package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DoyleJ11/worldsync/internal/world"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestRoom(t *testing.T, mutate func(*Config)) (*Room, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TickInterval = 0 // ticks are driven by the test
	cfg.World = world.Config{MaxPlayers: 8, MaxObjects: 8, GroundLevel: 0}
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &fakeClock{now: t0}
	seq := 0
	r := New(context.Background(), cfg,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(clock.Now),
		WithIDs(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
	)
	t.Cleanup(func() {
		r.Send(context.Background(), Shutdown{})
		<-r.Done()
	})
	return r, clock
}

func joinRoom(t *testing.T, r *Room, name string, buf int) (world.Player, chan []byte) {
	t.Helper()
	out := make(chan []byte, buf)
	p, err := r.Join(context.Background(), name, out)
	require.NoError(t, err)
	return p, out
}

// helper: receive one message with a timeout so tests never hang
func recvMsg(t *testing.T, ch <-chan []byte, within time.Duration) protocol.Message {
	t.Helper()
	select {
	case frame, ok := <-ch:
		if !ok {
			t.Fatalf("outbox closed unexpectedly")
		}
		m, err := protocol.DecodeServer(frame)
		require.NoError(t, err)
		return m
	case <-time.After(within):
		t.Fatalf("timed out waiting for message")
		return nil // unreachable
	}
}

// sync waits until the room has processed everything sent before it.
func syncRoom(t *testing.T, r *Room) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	v, err := r.State(ctx)
	require.NoError(t, err)
	return v
}

// drain returns every queued message without waiting.
func drain(t *testing.T, ch <-chan []byte) []protocol.Message {
	t.Helper()
	var msgs []protocol.Message
	for {
		select {
		case frame, ok := <-ch:
			if !ok {
				return msgs
			}
			m, err := protocol.DecodeServer(frame)
			require.NoError(t, err)
			msgs = append(msgs, m)
		default:
			return msgs
		}
	}
}

func ofKind(msgs []protocol.Message, k protocol.Kind) []protocol.Message {
	var out []protocol.Message
	for _, m := range msgs {
		if m.Type() == k {
			out = append(out, m)
		}
	}
	return out
}

func send(r *Room, id string, m protocol.Message) {
	r.Inbox() <- FromClient{SessionID: id, Msg: m}
}

func TestJoin_SendsInitThenAnnouncesToOthers(t *testing.T) {
	r, _ := newTestRoom(t, nil)

	a, outA := joinRoom(t, r, "Ann", 16)
	init := recvMsg(t, outA, 100*time.Millisecond).(protocol.Init)
	assert.Equal(t, a.ID, init.AssignedID)
	require.Len(t, init.Players, 1)
	assert.Equal(t, "Ann", init.Players[0].DisplayName)
	assert.Equal(t, protocol.WorldConfig{MaxPlayers: 8, MaxObjects: 8}, init.WorldConfig)

	b, outB := joinRoom(t, r, "", 16)
	assert.Equal(t, "Player-id-2", b.DisplayName)
	initB := recvMsg(t, outB, 100*time.Millisecond).(protocol.Init)
	assert.Len(t, initB.Players, 2)

	joined := recvMsg(t, outA, 100*time.Millisecond).(protocol.PlayerJoined)
	assert.Equal(t, b.ID, joined.ID)

	syncRoom(t, r)
	assert.Empty(t, drain(t, outB), "self is never announced to itself")
}

func TestJoin_RejectsOverCapacity(t *testing.T) {
	r, _ := newTestRoom(t, func(c *Config) { c.World.MaxPlayers = 1 })

	_, outA := joinRoom(t, r, "Ann", 16)

	outB := make(chan []byte, 16)
	_, err := r.Join(context.Background(), "Bo", outB)
	require.ErrorIs(t, err, world.ErrPlayerCapacity)

	v := syncRoom(t, r)
	assert.Equal(t, 1, v.Connections)
	assert.Len(t, v.Players, 1)
	assert.Empty(t, drain(t, outB))
	assert.Empty(t, ofKind(drain(t, outA), protocol.KindPlayerJoined))
}

func TestConnectionsMatchPlayers(t *testing.T) {
	r, _ := newTestRoom(t, func(c *Config) { c.World.MaxPlayers = 3 })

	var ids []string
	check := func() {
		v := syncRoom(t, r)
		require.Equal(t, v.Connections, len(v.Players))
	}
	for i := 0; i < 5; i++ {
		out := make(chan []byte, 64)
		p, err := r.Join(context.Background(), fmt.Sprintf("p%d", i), out)
		if err == nil {
			ids = append(ids, p.ID)
		}
		check()
	}
	assert.Len(t, ids, 3)

	r.Inbox() <- Leave{SessionID: ids[1]}
	check()
	r.Inbox() <- Leave{SessionID: ids[1]} // duplicate leave is a no-op
	check()
	r.Inbox() <- Leave{SessionID: "never-joined"}
	check()

	_, _ = joinRoom(t, r, "late", 64)
	v := syncRoom(t, r)
	assert.Equal(t, 3, v.Connections)
	assert.Equal(t, 3, len(v.Players))
}

func TestCreateObject_BroadcastsToEveryoneIncludingSender(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, outA := joinRoom(t, r, "A", 32)
	_, outB := joinRoom(t, r, "B", 32)
	_, outC := joinRoom(t, r, "C", 32)
	syncRoom(t, r)
	drain(t, outA)
	drain(t, outB)
	drain(t, outC)

	origin := vec.New(0, 0, 0)
	send(r, a.ID, protocol.CreateObject{Kind: "desk", Position: &origin})
	syncRoom(t, r)

	for name, out := range map[string]chan []byte{"A": outA, "B": outB, "C": outC} {
		created := ofKind(drain(t, out), protocol.KindObjectCreated)
		require.Len(t, created, 1, name)
		obj := created[0].(protocol.ObjectCreated)
		assert.Equal(t, "obj_1", obj.ID, name)
		assert.Equal(t, "desk", obj.Kind, name)
		assert.Equal(t, a.ID, obj.CreatorID, name)
	}
}

func TestCreateObject_DefaultsToCreatorPosition(t *testing.T) {
	r, _ := newTestRoom(t, func(c *Config) { c.SpawnPoint = vec.New(3, 0, -1) })
	a, outA := joinRoom(t, r, "A", 32)

	send(r, a.ID, protocol.CreateObject{Kind: "lamp"})
	v := syncRoom(t, r)
	require.Len(t, v.Objects, 1)
	assert.Equal(t, vec.New(3, 0, -1), v.Objects[0].Position)
	assert.Len(t, ofKind(drain(t, outA), protocol.KindObjectCreated), 1)
}

func TestCreateObject_LimitReachedOnlyTellsSender(t *testing.T) {
	r, _ := newTestRoom(t, func(c *Config) { c.World.MaxObjects = 2 })
	a, outA := joinRoom(t, r, "A", 32)
	_, outB := joinRoom(t, r, "B", 32)

	for i := 0; i < 3; i++ {
		send(r, a.ID, protocol.CreateObject{Kind: "box"})
	}
	v := syncRoom(t, r)
	assert.Len(t, v.Objects, 2)

	msgsA := drain(t, outA)
	errs := ofKind(msgsA, protocol.KindError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.ErrorObjectLimit, errs[0].(protocol.Error).Message)
	assert.Len(t, ofKind(msgsA, protocol.KindObjectCreated), 2)

	msgsB := drain(t, outB)
	assert.Empty(t, ofKind(msgsB, protocol.KindError))
	assert.Len(t, ofKind(msgsB, protocol.KindObjectCreated), 2)
}

func TestMove_SenderExcluded(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, outA := joinRoom(t, r, "A", 32)
	b, outB := joinRoom(t, r, "B", 32)
	syncRoom(t, r)
	drain(t, outA)
	drain(t, outB)

	send(r, a.ID, protocol.Move{Position: vec.New(1, 0, 2)})
	send(r, a.ID, protocol.Rotate{Rotation: vec.New(0, 1.2, 0)})
	v := syncRoom(t, r)

	msgsB := drain(t, outB)
	moved := ofKind(msgsB, protocol.KindPlayerMoved)
	require.Len(t, moved, 1)
	assert.Equal(t, protocol.PlayerMoved{ID: a.ID, Position: vec.New(1, 0, 2)}, moved[0])
	rotated := ofKind(msgsB, protocol.KindPlayerRotated)
	require.Len(t, rotated, 1)
	assert.Equal(t, a.ID, rotated[0].(protocol.PlayerRotated).ID)

	for _, m := range drain(t, outA) {
		if pm, ok := m.(protocol.PlayerMoved); ok {
			t.Fatalf("sender received its own move: %+v", pm)
		}
	}
	for _, p := range v.Players {
		if p.ID == a.ID {
			assert.Equal(t, vec.New(1, 0, 2), p.Position)
		}
		if p.ID == b.ID {
			assert.Equal(t, vec.Zero, p.Position)
		}
	}
}

func TestMoveObject_RoundTrip(t *testing.T) {
	r, clock := newTestRoom(t, nil)
	a, outA := joinRoom(t, r, "A", 32)
	b, outB := joinRoom(t, r, "B", 32)
	_, outC := joinRoom(t, r, "C", 32)

	send(r, a.ID, protocol.CreateObject{Kind: "desk"})
	syncRoom(t, r)
	drain(t, outA)
	drain(t, outB)
	drain(t, outC)

	clock.Set(t0.Add(2 * time.Second))
	target := protocol.MoveObject{ObjectID: "obj_1", Position: vec.New(5, 2, 5), Rotation: vec.New(0, 0.5, 0)}
	send(r, b.ID, target)
	v := syncRoom(t, r)

	require.Len(t, v.Objects, 1)
	assert.Equal(t, target.Position, v.Objects[0].Position)
	require.NotNil(t, v.Objects[0].LastMoved)
	assert.Equal(t, t0.Add(2*time.Second), *v.Objects[0].LastMoved)

	want := protocol.ObjectMoved{ID: "obj_1", Position: target.Position, Rotation: target.Rotation}
	for _, out := range []chan []byte{outA, outC} {
		moved := ofKind(drain(t, out), protocol.KindObjectMoved)
		require.Len(t, moved, 1)
		assert.Equal(t, want, moved[0])
	}
	assert.Empty(t, ofKind(drain(t, outB), protocol.KindObjectMoved))
}

func TestUnknownObjectMutationsAreIgnored(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, _ := joinRoom(t, r, "A", 32)
	_, outB := joinRoom(t, r, "B", 32)
	syncRoom(t, r)
	drain(t, outB)

	send(r, a.ID, protocol.MoveObject{ObjectID: "obj_77", Position: vec.New(1, 1, 1)})
	send(r, a.ID, protocol.DeleteObject{ObjectID: "obj_77"})
	send(r, "ghost", protocol.CreateObject{Kind: "desk"})
	v := syncRoom(t, r)

	assert.Empty(t, drain(t, outB))
	assert.Empty(t, v.Objects)
}

func TestDeleteAndClear(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, outA := joinRoom(t, r, "A", 32)
	_, outB := joinRoom(t, r, "B", 32)
	for i := 0; i < 3; i++ {
		send(r, a.ID, protocol.CreateObject{Kind: "box"})
	}
	syncRoom(t, r)
	drain(t, outA)
	drain(t, outB)

	send(r, a.ID, protocol.DeleteObject{ObjectID: "obj_2"})
	syncRoom(t, r)
	assert.Empty(t, ofKind(drain(t, outA), protocol.KindObjectDeleted))
	assert.Equal(t, []protocol.Message{protocol.ObjectDeleted{ID: "obj_2"}}, drain(t, outB))

	send(r, a.ID, protocol.ClearObjects{})
	v := syncRoom(t, r)
	assert.Empty(t, v.Objects)
	assert.Equal(t, []protocol.Message{protocol.ObjectsCleared{}}, drain(t, outA))
	assert.Equal(t, []protocol.Message{protocol.ObjectsCleared{}}, drain(t, outB))
}

func TestChat_BroadcastsToAll(t *testing.T) {
	r, clock := newTestRoom(t, nil)
	a, outA := joinRoom(t, r, "Ann", 32)
	_, outB := joinRoom(t, r, "Bo", 32)
	syncRoom(t, r)
	drain(t, outA)
	drain(t, outB)

	clock.Set(t0.Add(time.Second))
	send(r, a.ID, protocol.ChatMessage{Message: "hello"})
	syncRoom(t, r)

	for _, out := range []chan []byte{outA, outB} {
		msgs := drain(t, out)
		require.Len(t, msgs, 1)
		chat := msgs[0].(protocol.ChatBroadcast)
		assert.Equal(t, a.ID, chat.PlayerID)
		assert.Equal(t, "Ann", chat.PlayerName)
		assert.Equal(t, "hello", chat.Message)
		assert.Equal(t, t0.Add(time.Second).UnixMilli(), chat.Timestamp)
		assert.NotEmpty(t, chat.ID)
	}
}

func TestSlowClientIsDropped(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	a, outA := joinRoom(t, r, "A", 32)
	b, outB := joinRoom(t, r, "B", 1) // init fills the buffer
	syncRoom(t, r)
	drain(t, outA)

	send(r, a.ID, protocol.Move{Position: vec.New(1, 1, 1)})
	v := syncRoom(t, r)
	assert.Equal(t, 1, v.Connections)
	assert.Len(t, v.Players, 1)

	left := ofKind(drain(t, outA), protocol.KindPlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, protocol.PlayerLeft{ID: b.ID, Name: "B"}, left[0])

	_, ok := <-outB // init
	require.True(t, ok)
	_, ok = <-outB
	assert.False(t, ok, "outbox closed after drop")
}

func TestJoin_CancelledCallerLeavesNoGhost(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	kept := 0
	for i := 0; i < 8; i++ {
		_, err := r.Join(ctx, fmt.Sprintf("ghost-%d", i), make(chan []byte, 4))
		if err == nil {
			kept++
			continue
		}
		require.ErrorIs(t, err, context.Canceled)
	}

	require.Eventually(t, func() bool {
		v := syncRoom(t, r)
		return len(v.Players) == kept && v.Connections == kept
	}, time.Second, 10*time.Millisecond)
}

func TestShutdown_ClosesOutboxes(t *testing.T) {
	r, _ := newTestRoom(t, nil)
	_, out := joinRoom(t, r, "A", 32)
	_ = recvMsg(t, out, 100*time.Millisecond)

	r.Inbox() <- Shutdown{}
	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatalf("room did not stop")
	}
	_, ok := <-out
	assert.False(t, ok)

	_, err := r.Join(context.Background(), "late", make(chan []byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestInternalTickerRuns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.World = world.Config{MaxPlayers: 2, MaxObjects: 2}
	r := New(context.Background(), cfg)
	defer func() {
		r.Send(context.Background(), Shutdown{})
		<-r.Done()
	}()

	p, out := joinRoom(t, r, "A", 64)
	h := 1.0
	r.Inbox() <- FromClient{SessionID: p.ID, Msg: protocol.CreateObject{Kind: "ball", Position: &vec.Vec3{Y: h}}}

	require.Eventually(t, func() bool {
		v := syncRoom(t, r)
		return len(v.Objects) == 1 && v.Objects[0].Position.Y == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.NotEmpty(t, ofKind(drain(t, out), protocol.KindObjectMoved))
}
