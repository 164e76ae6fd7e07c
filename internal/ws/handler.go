package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/DoyleJ11/worldsync/internal/room"
	"github.com/DoyleJ11/worldsync/internal/world"
	"github.com/DoyleJ11/worldsync/pkg/protocol"
)

// touchEvery bounds how often rejected frames refresh the session's
// activity in the room.
const touchEvery = time.Second

type Options struct {
	OutboxSize     int
	MaxViolations  int // malformed or rate-limited frames before the socket is closed; 0 never closes
	InboundRate    rate.Limit
	InboundBurst   int
	ReadLimit      int64
	WriteTimeout   time.Duration
	OriginPatterns []string // empty accepts any origin
}

func DefaultOptions() Options {
	return Options{
		OutboxSize:    128,
		MaxViolations: 10,
		InboundRate:   60,
		InboundBurst:  120,
		ReadLimit:     64 * 1024,
		WriteTimeout:  3 * time.Second,
	}
}

// Handler upgrades the request and runs one session against rm until
// either side goes away.
func Handler(rm *room.Room, log *zap.Logger, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: len(opts.OriginPatterns) == 0,
			OriginPatterns:     opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.CloseNow()
		if opts.ReadLimit > 0 {
			conn.SetReadLimit(opts.ReadLimit)
		}

		s := &session{
			conn: conn,
			room: rm,
			log:  log,
			opts: opts,
		}
		s.serve(r.Context(), r.URL.Query().Get("name"))
	}
}

type session struct {
	conn *websocket.Conn
	room *room.Room
	log  *zap.Logger
	opts Options
}

func (s *session) serve(ctx context.Context, name string) {
	out := make(chan []byte, max(s.opts.OutboxSize, 1))
	player, err := s.room.Join(ctx, name, out)
	if err != nil {
		s.reject(ctx, err)
		return
	}
	s.log = s.log.With(zap.String("session", player.ID))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, out)
	}()

	reason := s.readLoop(ctx, player.ID)
	cancel()
	// No-op when the room already removed us (idle timeout, slow consumer).
	s.room.Send(context.Background(), room.Leave{SessionID: player.ID, Reason: reason})
	<-writerDone
	s.log.Debug("session closed", zap.String("reason", reason))
}

func (s *session) reject(ctx context.Context, err error) {
	if !errors.Is(err, world.ErrCapacity) {
		s.log.Warn("join failed", zap.Error(err))
		s.conn.Close(websocket.StatusTryAgainLater, "unavailable")
		return
	}
	wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
	defer cancel()
	frame := protocol.MustEncode(protocol.Error{Message: protocol.ErrorServerFull})
	if werr := s.conn.Write(wctx, websocket.MessageText, frame); werr != nil {
		s.log.Debug("write capacity error", zap.Error(werr))
	}
	s.conn.Close(websocket.StatusTryAgainLater, protocol.ErrorServerFull)
}

func (s *session) writeLoop(ctx context.Context, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-out:
			if !ok {
				// The room ended the session.
				s.conn.Close(websocket.StatusNormalClosure, "session ended")
				return
			}
			wctx, cancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := s.conn.Write(wctx, websocket.MessageText, frame)
			cancel()
			if err != nil {
				s.log.Debug("write failed", zap.Error(err))
				s.conn.CloseNow()
				return
			}
		}
	}
}

// readLoop forwards decoded intents to the room in arrival order and
// returns the reason the session ended.
func (s *session) readLoop(ctx context.Context, id string) string {
	limiter := rate.NewLimiter(s.opts.InboundRate, s.opts.InboundBurst)
	violations := 0
	var lastTouch time.Time

	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return "disconnect"
			}
			if ctx.Err() != nil {
				return "disconnect"
			}
			s.log.Debug("read failed", zap.Error(err))
			return "transport error"
		}

		switch {
		case !limiter.Allow():
			s.log.Warn("inbound rate exceeded, dropping message")
		case typ != websocket.MessageText:
			s.log.Warn("dropping binary frame")
		default:
			msg, err := protocol.DecodeClient(data)
			if err != nil {
				s.log.Warn("dropping malformed message", zap.Error(err))
				break
			}
			if !s.room.Send(ctx, room.FromClient{SessionID: id, Msg: msg}) {
				return "room closed"
			}
			continue
		}

		if now := time.Now(); now.Sub(lastTouch) >= touchEvery {
			lastTouch = now
			if !s.room.Send(ctx, room.Touch{SessionID: id}) {
				return "room closed"
			}
		}

		violations++
		if s.opts.MaxViolations > 0 && violations >= s.opts.MaxViolations {
			s.log.Warn("closing session after repeated protocol violations", zap.Int("violations", violations))
			s.conn.Close(websocket.StatusPolicyViolation, "too many invalid messages")
			return "protocol violations"
		}
	}
}
