// Package client is the participant side of the world sync protocol: a
// connection agent, a mirror of the shared world and the intents a player
// can send.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

var (
	ErrNotConnected = errors.New("client: not connected")
	ErrConnected    = errors.New("client: already connected")
	ErrClosed       = errors.New("client: closed")
	ErrRejected     = errors.New("client: rejected by server")
	ErrNotNetworked = errors.New("client: object not confirmed by server")
	ErrEmptyChat    = errors.New("client: empty chat message")
)

type State int32

const (
	Disconnected State = iota
	Connecting
	Synced
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Synced:
		return "synced"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Options struct {
	Name           string
	MoveInterval   time.Duration // minimum gap between move or rotate frames; negative disables
	Reconnect      bool
	ReconnectDelay time.Duration
	WriteTimeout   time.Duration
	ReadLimit      int64
	Logger         *zap.Logger
}

func DefaultOptions() Options {
	return Options{
		MoveInterval:   100 * time.Millisecond,
		ReconnectDelay: 2 * time.Second,
		WriteTimeout:   3 * time.Second,
		ReadLimit:      8 << 20,
	}
}

// Agent owns one participant's connection and mirror.
type Agent struct {
	url  string
	opts Options
	log  *zap.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	closing atomic.Bool

	mu     sync.RWMutex
	state  State
	conn   *websocket.Conn
	mirror *Mirror
	done   chan struct{}

	subMu   sync.RWMutex
	subs    map[int]Handler
	nextSub int

	move   *Throttle
	rotate *Throttle
}

func New(serverURL string, opts Options) *Agent {
	def := DefaultOptions()
	if opts.MoveInterval == 0 {
		opts.MoveInterval = def.MoveInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = def.ReadLimit
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		url:    serverURL,
		opts:   opts,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		mirror: NewMirror(),
		subs:   make(map[int]Handler),
		move:   NewThrottle(opts.MoveInterval),
		rotate: NewThrottle(opts.MoveInterval),
	}
	onErr := func(err error) { a.log.Debug("deferred send failed", zap.Error(err)) }
	a.move.OnError = onErr
	a.rotate.OnError = onErr
	return a
}

// Subscribe registers h for every future event. The returned func removes it.
func (a *Agent) Subscribe(h Handler) func() {
	a.subMu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = h
	a.subMu.Unlock()
	return func() {
		a.subMu.Lock()
		delete(a.subs, id)
		a.subMu.Unlock()
	}
}

func (a *Agent) dispatch(evs ...Event) {
	if len(evs) == 0 {
		return
	}
	a.subMu.RLock()
	hs := make([]Handler, 0, len(a.subs))
	for _, h := range a.subs {
		hs = append(hs, h)
	}
	a.subMu.RUnlock()
	for _, ev := range evs {
		for _, h := range hs {
			h(ev)
		}
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	old := a.state
	a.state = s
	a.mu.Unlock()
	if old != s {
		a.log.Debug("state changed", zap.Stringer("from", old), zap.Stringer("to", s))
		a.dispatch(StateChanged{From: old, To: s})
	}
}

func (a *Agent) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Connect dials the server and blocks until the init frame has been applied
// or the attempt fails.
func (a *Agent) Connect(ctx context.Context) error {
	if a.closing.Load() {
		return ErrClosed
	}
	a.mu.Lock()
	if a.state != Disconnected {
		a.mu.Unlock()
		return ErrConnected
	}
	a.mu.Unlock()

	a.setState(Connecting)
	conn, init, err := a.dial(ctx)
	if err != nil {
		a.setState(Disconnected)
		return err
	}
	done := make(chan struct{})
	a.mu.Lock()
	a.done = done
	a.mu.Unlock()
	a.install(conn, init)
	go a.run(conn, done)
	return nil
}

func (a *Agent) dial(ctx context.Context) (*websocket.Conn, protocol.Init, error) {
	u, err := url.Parse(a.url)
	if err != nil {
		return nil, protocol.Init{}, fmt.Errorf("client: parse url: %w", err)
	}
	if a.opts.Name != "" {
		q := u.Query()
		q.Set("name", a.opts.Name)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return nil, protocol.Init{}, fmt.Errorf("client: dial: %w", err)
	}
	conn.SetReadLimit(a.opts.ReadLimit)

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.CloseNow()
		return nil, protocol.Init{}, fmt.Errorf("client: read init: %w", err)
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		conn.CloseNow()
		return nil, protocol.Init{}, fmt.Errorf("client: read init: %w", err)
	}
	switch v := msg.(type) {
	case protocol.Init:
		return conn, v, nil
	case protocol.Error:
		conn.CloseNow()
		return nil, protocol.Init{}, fmt.Errorf("%w: %s", ErrRejected, v.Message)
	default:
		conn.CloseNow()
		return nil, protocol.Init{}, fmt.Errorf("client: expected init, got %s", msg.Type())
	}
}

func (a *Agent) install(conn *websocket.Conn, init protocol.Init) {
	a.mu.Lock()
	a.conn = conn
	synced := a.mirror.Reset(init)
	a.mu.Unlock()
	a.log.Info("synced",
		zap.String("self", synced.SelfID),
		zap.Int("players", len(synced.Players)),
		zap.Int("objects", len(synced.Objects)))
	a.setState(Synced)
	a.dispatch(synced)
}

func (a *Agent) run(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := a.readLoop(conn)
		a.detach(conn)
		if a.closing.Load() || !a.opts.Reconnect {
			a.setState(Disconnected)
			return
		}
		a.log.Warn("connection lost", zap.Error(err))
		a.setState(Reconnecting)
		if conn = a.redial(); conn == nil {
			a.setState(Disconnected)
			return
		}
	}
}

func (a *Agent) redial() *websocket.Conn {
	for {
		select {
		case <-a.ctx.Done():
			return nil
		case <-time.After(a.opts.ReconnectDelay):
		}
		conn, init, err := a.dial(a.ctx)
		if err != nil {
			a.log.Debug("reconnect failed", zap.Error(err))
			continue
		}
		a.install(conn, init)
		return conn
	}
}

func (a *Agent) detach(conn *websocket.Conn) {
	a.move.Cancel()
	a.rotate.Cancel()
	a.mu.Lock()
	if a.conn == conn {
		a.conn = nil
	}
	a.mu.Unlock()
	conn.CloseNow()
}

func (a *Agent) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(a.ctx)
		if err != nil {
			return err
		}
		msg, err := protocol.DecodeServer(data)
		if err != nil {
			a.log.Warn("dropping server frame", zap.Error(err))
			continue
		}
		a.mu.Lock()
		evs := a.mirror.Apply(msg)
		a.mu.Unlock()
		a.dispatch(evs...)
	}
}

func (a *Agent) send(m protocol.Message) error {
	a.mu.RLock()
	conn, state := a.conn, a.state
	a.mu.RUnlock()
	if conn == nil || state != Synced {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.opts.WriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

// Move reports the local player's position. Frames are throttled to
// MoveInterval; the latest position always wins.
func (a *Agent) Move(pos vec.Vec3) error {
	return a.move.Do(func() error { return a.send(protocol.Move{Position: pos}) })
}

func (a *Agent) Rotate(rot vec.Vec3) error {
	return a.rotate.Do(func() error { return a.send(protocol.Rotate{Rotation: rot}) })
}

// CreateObject inserts a placeholder into the mirror and asks the server to
// create the object. It returns the placeholder id, which ObjectCreated later
// reports as ReplacesLocalID.
func (a *Agent) CreateObject(req protocol.CreateObject, at vec.Vec3) (string, error) {
	if a.State() != Synced {
		return "", ErrNotConnected
	}
	a.mu.Lock()
	ph := a.mirror.AddPlaceholder(req, at)
	a.mu.Unlock()

	if err := a.send(req); err != nil {
		a.mu.Lock()
		a.mirror.DropPlaceholder(ph.ID)
		a.mu.Unlock()
		return "", err
	}
	return ph.ID, nil
}

func (a *Agent) MoveObject(id string, pos, rot vec.Vec3) error {
	if IsLocalID(id) {
		return ErrNotNetworked
	}
	a.mu.Lock()
	a.mirror.SetObjectTransform(id, pos, rot)
	a.mu.Unlock()
	return a.send(protocol.MoveObject{ObjectID: id, Position: pos, Rotation: rot})
}

func (a *Agent) DeleteObject(id string) error {
	if IsLocalID(id) {
		return ErrNotNetworked
	}
	if err := a.send(protocol.DeleteObject{ObjectID: id}); err != nil {
		return err
	}
	a.mu.Lock()
	a.mirror.RemoveObject(id)
	a.mu.Unlock()
	return nil
}

func (a *Agent) ClearObjects() error {
	return a.send(protocol.ClearObjects{})
}

func (a *Agent) Chat(text string) error {
	text = protocol.NormalizeChat(text)
	if text == "" {
		return ErrEmptyChat
	}
	return a.send(protocol.ChatMessage{Message: text})
}

func (a *Agent) SetObjectPhysics(id string, enabled bool) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mirror.SetObjectPhysics(id, enabled)
}

func (a *Agent) SelfID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mirror.Self()
}

func (a *Agent) World() protocol.WorldConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mirror.World()
}

func (a *Agent) Player(id string) (protocol.Player, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mirror.Player(id)
}

func (a *Agent) Object(id string) (protocol.Object, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mirror.Object(id)
}

func (a *Agent) Players() []protocol.Player {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mirror.Players()
}

func (a *Agent) Objects() []protocol.Object {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mirror.Objects()
}

// Close ends the session for good and waits for the read goroutine.
func (a *Agent) Close() error {
	if a.closing.Swap(true) {
		return nil
	}
	a.move.Cancel()
	a.rotate.Cancel()

	a.mu.RLock()
	conn, done := a.conn, a.done
	a.mu.RUnlock()
	var err error
	if conn != nil {
		err = conn.Close(websocket.StatusNormalClosure, "bye")
	}
	a.cancel()
	if done != nil {
		<-done
	}
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}
