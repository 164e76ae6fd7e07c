package room

import (
	"slices"

	"go.uber.org/zap"

	"github.com/DoyleJ11/worldsync/pkg/protocol"
)

// broadcast encodes m once and queues it for every session except the
// one named by except (empty means everyone).
func (r *Room) broadcast(m protocol.Message, except string) {
	frame, err := protocol.Encode(m)
	if err != nil {
		r.log.Error("encode broadcast", zap.String("type", string(m.Type())), zap.Error(err))
		return
	}
	for id, out := range r.sessions {
		if id == except {
			continue
		}
		r.deliver(id, out, frame)
	}
}

// broadcastTick queues a scheduler frame for every session. A full outbox
// skips the frame rather than dropping the session; the next snapshot
// carries the state it missed. It returns how many sessions were skipped.
func (r *Room) broadcastTick(m protocol.Message) int {
	frame, err := protocol.Encode(m)
	if err != nil {
		r.log.Error("encode broadcast", zap.String("type", string(m.Type())), zap.Error(err))
		return 0
	}
	skipped := 0
	for _, out := range r.sessions {
		select {
		case out <- frame:
		default:
			skipped++
		}
	}
	return skipped
}

func (r *Room) sendTo(id string, m protocol.Message) {
	out, ok := r.sessions[id]
	if !ok {
		return
	}
	frame, err := protocol.Encode(m)
	if err != nil {
		r.log.Error("encode message", zap.String("type", string(m.Type())), zap.Error(err))
		return
	}
	r.deliver(id, out, frame)
}

func (r *Room) deliver(id string, out chan []byte, frame []byte) {
	select {
	case out <- frame:
	default:
		// Client is slow/full - drop them once the current pass is done.
		if !slices.Contains(r.dropped, id) {
			r.dropped = append(r.dropped, id)
		}
	}
}

func (r *Room) flushDropped() {
	for len(r.dropped) > 0 {
		id := r.dropped[0]
		r.dropped = r.dropped[1:]
		r.log.Warn("dropping slow session", zap.String("session", id))
		r.removeSession(id, "slow consumer")
	}
}
