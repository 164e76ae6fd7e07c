package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/internal/logging"
	"github.com/DoyleJ11/worldsync/pkg/client"
	"github.com/DoyleJ11/worldsync/pkg/interp"
	"github.com/DoyleJ11/worldsync/pkg/manip"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
	"github.com/DoyleJ11/worldsync/pkg/vec"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/ws", "server websocket url")
		name     = flag.String("name", "bot", "display name")
		fps      = flag.Int("fps", 30, "render frames per second")
		radius   = flag.Float64("radius", 4, "walk radius")
		every    = flag.Duration("spawn-every", 5*time.Second, "object spawn interval")
		lifetime = flag.Duration("for", 0, "exit after this long (0 runs until interrupted)")
		level    = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	log, err := logging.New(*level, "console")
	if err != nil {
		fmt.Fprintln(os.Stderr, "bot:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *lifetime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *lifetime)
		defer cancel()
	}

	b := &bot{
		log:    log,
		agent:  client.New(*url, client.Options{Name: *name, Reconnect: true, Logger: log.Named("agent")}),
		smooth: interp.New(interp.DefaultAlpha),
		radius: *radius,
	}
	b.drag = manip.New(b.agent, manip.DefaultOptions())
	if err := b.run(ctx, time.Second/time.Duration(max(*fps, 1)), *every); err != nil {
		log.Error("bot stopped", zap.Error(err))
		os.Exit(1)
	}
}

type bot struct {
	log    *zap.Logger
	agent  *client.Agent
	smooth *interp.Interpolator
	drag   *manip.Arbiter
	radius float64
}

func (b *bot) run(ctx context.Context, frame, spawnEvery time.Duration) error {
	b.agent.Subscribe(b.smooth.Handle)
	b.agent.Subscribe(b.onEvent)

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	err := b.agent.Connect(dialCtx)
	cancel()
	if err != nil {
		return err
	}
	defer b.agent.Close()

	frames := time.NewTicker(frame)
	defer frames.Stop()
	spawns := time.NewTicker(spawnEvery)
	defer spawns.Stop()

	start := time.Now()
	var dragUntil time.Time
	for {
		select {
		case <-ctx.Done():
			if _, ok := b.drag.Active(); ok {
				b.drag.End()
			}
			b.log.Info("done", zap.Int("tracked", b.smooth.Len()), zap.Int("objects", len(b.agent.Objects())))
			return nil

		case now := <-frames.C:
			b.smooth.Step()
			if b.agent.State() != client.Synced {
				continue
			}
			angle := now.Sub(start).Seconds() * 0.5
			pos := vec.New(b.radius*math.Cos(angle), 0, b.radius*math.Sin(angle))
			facing := vec.New(-math.Sin(angle), 0, math.Cos(angle))
			if err := b.agent.Move(pos); err != nil && !errors.Is(err, client.ErrNotConnected) {
				b.log.Debug("move", zap.Error(err))
			}
			b.agent.Rotate(vec.New(0, math.Atan2(facing.X, facing.Z), 0))

			if _, ok := b.drag.Active(); ok {
				if now.After(dragUntil) {
					if err := b.drag.End(); err != nil {
						b.log.Debug("release", zap.Error(err))
					}
					continue
				}
				if _, err := b.drag.Update(manip.Ray{Origin: pos.Add(vec.New(0, 1.6, 0)), Direction: facing}); err != nil {
					b.log.Debug("drag", zap.Error(err))
				}
			}

		case <-spawns.C:
			if b.agent.State() != client.Synced {
				continue
			}
			b.spawnOrGrab(&dragUntil)
		}
	}
}

// spawnOrGrab alternates between dropping a new object and picking up an
// existing confirmed one for a couple of seconds.
func (b *bot) spawnOrGrab(dragUntil *time.Time) {
	objs := b.agent.Objects()
	wc := b.agent.World()
	if len(objs) > 0 && len(objs)%2 == 0 {
		for _, o := range objs {
			if client.IsLocalID(o.ID) {
				continue
			}
			if err := b.drag.Begin(o.ID, manip.Ray{Direction: o.Position}); err == nil {
				*dragUntil = time.Now().Add(2 * time.Second)
				b.log.Info("grabbed", zap.String("object", o.ID))
			}
			return
		}
	}
	if wc.MaxObjects > 0 && len(objs) >= wc.MaxObjects {
		b.agent.ClearObjects()
		return
	}
	pos := vec.New(0, 3, 0)
	id, err := b.agent.CreateObject(protocol.CreateObject{Kind: "cube", Position: &pos, MaterialHint: "wood"}, pos)
	if err != nil {
		b.log.Debug("create", zap.Error(err))
		return
	}
	b.smooth.SetTarget(id, interp.Transform{Position: pos})
}

func (b *bot) onEvent(ev client.Event) {
	switch v := ev.(type) {
	case client.StateChanged:
		b.log.Info("state", zap.Stringer("from", v.From), zap.Stringer("to", v.To))
	case client.InitApplied:
		b.log.Info("joined", zap.String("id", v.SelfID), zap.Int("players", len(v.Players)), zap.Int("objects", len(v.Objects)))
		go b.agent.Chat("hello from " + v.SelfID)
	case client.PlayerJoined:
		b.log.Info("player joined", zap.String("name", v.Player.DisplayName))
	case client.PlayerLeft:
		b.log.Info("player left", zap.String("name", v.Name))
	case client.ChatReceived:
		b.log.Info("chat", zap.String("from", v.Chat.PlayerName), zap.String("message", v.Chat.Message))
	case client.ServerError:
		b.log.Warn("server error", zap.String("message", v.Message))
	}
}
