// Package room owns the authoritative world. A Room is a single goroutine
// that services an inbox of typed messages and a fixed-rate ticker; it is
// the only code that ever touches the world.Store.
package room

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/internal/audit"
	"github.com/DoyleJ11/worldsync/internal/world"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

var ErrClosed = errors.New("room closed")

type Msg interface{ isRoomMsg() }

// Join admits a connection. Outbox receives encoded frames for this
// session and is closed by the room when the session ends. Reply must
// be buffered.
type Join struct {
	Name   string
	Outbox chan []byte
	Reply  chan JoinResult
}

type JoinResult struct {
	Player world.Player
	Err    error
}

type Leave struct {
	SessionID string
	Reason    string
}

type FromClient struct {
	SessionID string
	Msg       protocol.Message
}

// Touch refreshes a session's activity without applying anything. The ws
// layer sends it for frames it rejects before they reach the room.
type Touch struct{ SessionID string }

// Tick runs one scheduler pass. A zero Now uses the room clock.
type Tick struct{ Now time.Time }

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

func (Join) isRoomMsg()       {}
func (Leave) isRoomMsg()      {}
func (FromClient) isRoomMsg() {}
func (Touch) isRoomMsg()      {}
func (Tick) isRoomMsg()       {}
func (GetState) isRoomMsg()   {}
func (Shutdown) isRoomMsg()   {}

type View struct {
	World       world.Config
	Players     []world.Player
	Objects     []world.Object
	Connections int
	StartedAt   time.Time
}

type Config struct {
	World               world.Config
	TickInterval        time.Duration // <= 0 disables the internal ticker
	SnapshotInterval    time.Duration
	PlayerIdleTimeout   time.Duration
	ObjectSweepInterval time.Duration
	ObjectMaxAge        time.Duration
	Settle              world.SettleRule
	SpawnPoint          vec.Vec3
}

func DefaultConfig() Config {
	return Config{
		World:               world.DefaultConfig(),
		TickInterval:        100 * time.Millisecond,
		SnapshotInterval:    15 * time.Second,
		PlayerIdleTimeout:   2 * time.Minute,
		ObjectSweepInterval: 5 * time.Minute,
		ObjectMaxAge:        30 * time.Minute,
		Settle:              world.DefaultSettleRule(),
	}
}

type Option func(*Room)

func WithLogger(l *zap.Logger) Option { return func(r *Room) { r.log = l } }

func WithAudit(rec audit.Recorder) Option { return func(r *Room) { r.audit = rec } }

func WithClock(now func() time.Time) Option { return func(r *Room) { r.now = now } }

func WithIDs(next func() string) Option { return func(r *Room) { r.newID = next } }

type Room struct {
	inbox    chan Msg
	cfg      Config
	store    *world.Store
	sessions map[string]chan []byte
	dropped  []string

	log   *zap.Logger
	audit audit.Recorder
	now   func() time.Time
	newID func() string

	startedAt    time.Time
	lastSnapshot time.Time
	lastSweep    time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func New(parent context.Context, cfg Config, opts ...Option) *Room {
	ctx, cancel := context.WithCancel(parent)

	r := &Room{
		inbox:    make(chan Msg, 256),
		cfg:      cfg,
		store:    world.NewStore(cfg.World),
		sessions: make(map[string]chan []byte),
		log:      zap.NewNop(),
		audit:    audit.Nop{},
		now:      time.Now,
		newID:    func() string { return ulid.Make().String() },
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.startedAt = r.now()
	r.lastSnapshot = r.startedAt
	r.lastSweep = r.startedAt

	go r.loop()
	return r
}

func (r *Room) loop() {
	defer close(r.done)

	var tick <-chan time.Time
	if r.cfg.TickInterval > 0 {
		t := time.NewTicker(r.cfg.TickInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-tick:
			r.tick(r.now())

		case m := <-r.inbox:
			switch msg := m.(type) {
			case Join:
				r.join(msg)

			case Leave:
				reason := msg.Reason
				if reason == "" {
					reason = "disconnect"
				}
				r.removeSession(msg.SessionID, reason)

			case FromClient:
				r.handle(msg.SessionID, msg.Msg)

			case Touch:
				r.store.Touch(msg.SessionID, r.now())

			case Tick:
				now := msg.Now
				if now.IsZero() {
					now = r.now()
				}
				r.tick(now)

			case GetState:
				msg.Reply <- r.view()

			case Shutdown:
				r.shutdown()
				return
			}
		}
		r.flushDropped()
	}
}

func (r *Room) shutdown() {
	for id, out := range r.sessions {
		close(out)
		delete(r.sessions, id)
	}
	r.log.Info("room stopped",
		zap.Int("players", r.store.PlayerCount()),
		zap.Int("objects", r.store.ObjectCount()))
	r.cancel()
}

func (r *Room) view() View {
	snap := r.store.Snapshot()
	return View{
		World:       r.store.Config(),
		Players:     snap.Players,
		Objects:     snap.Objects,
		Connections: len(r.sessions),
		StartedAt:   r.startedAt,
	}
}

// Inbox exposes the room's inbox so tests and the ws layer can send
// messages directly.
func (r *Room) Inbox() chan<- Msg { return r.inbox }

func (r *Room) Done() <-chan struct{} { return r.done }

// Send delivers m unless ctx ends or the room has stopped first.
func (r *Room) Send(ctx context.Context, m Msg) bool {
	select {
	case r.inbox <- m:
		return true
	case <-ctx.Done():
		return false
	case <-r.done:
		return false
	}
}

// Join admits a new session and waits for the result. If ctx ends after
// the request was queued, a player the room still admits is removed again.
func (r *Room) Join(ctx context.Context, name string, outbox chan []byte) (world.Player, error) {
	reply := make(chan JoinResult, 1)
	if !r.Send(ctx, Join{Name: name, Outbox: outbox, Reply: reply}) {
		if err := ctx.Err(); err != nil {
			return world.Player{}, err
		}
		return world.Player{}, ErrClosed
	}
	select {
	case res := <-reply:
		return res.Player, res.Err
	case <-ctx.Done():
		go r.abandonJoin(reply)
		return world.Player{}, ctx.Err()
	case <-r.done:
		return world.Player{}, ErrClosed
	}
}

func (r *Room) abandonJoin(reply <-chan JoinResult) {
	select {
	case res := <-reply:
		if res.Err == nil {
			r.Send(context.Background(), Leave{SessionID: res.Player.ID, Reason: "join abandoned"})
		}
	case <-r.done:
	}
}

func (r *Room) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !r.Send(ctx, GetState{Reply: reply}) {
		return View{}, ErrClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-r.done:
		return View{}, ErrClosed
	}
}
