// Package audit keeps an optional trail of session activity (joins,
// leaves, rejections and chat). It never stores world state.
package audit

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	KindJoin     Kind = "join"
	KindLeave    Kind = "leave"
	KindRejected Kind = "rejected"
	KindChat     Kind = "chat"
)

type Entry struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Kind       Kind      `gorm:"size:16;index" json:"kind"`
	PlayerID   string    `gorm:"size:64;index" json:"playerId"`
	PlayerName string    `gorm:"size:128" json:"playerName"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
}

func (Entry) TableName() string { return "session_audit" }

// Recorder accepts entries without blocking the caller.
type Recorder interface {
	Record(Entry)
}

type Nop struct{}

func (Nop) Record(Entry) {}

// Writer persists a single entry.
type Writer interface {
	Write(ctx context.Context, e Entry) error
}

// Queue hands entries to a Writer on a background goroutine. When the
// buffer is full new entries are dropped and counted.
type Queue struct {
	in      chan Entry
	w       Writer
	log     *zap.Logger
	dropped atomic.Uint64
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewQueue(parent context.Context, w Writer, size int, log *zap.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	ctx, cancel := context.WithCancel(parent)
	q := &Queue{
		in:     make(chan Entry, size),
		w:      w,
		log:    log,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.loop(ctx)
	return q
}

func (q *Queue) Record(e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	select {
	case q.in <- e:
	default:
		if n := q.dropped.Add(1); n == 1 || n%100 == 0 {
			q.log.Warn("audit queue full, dropping entries", zap.Uint64("dropped", n))
		}
	}
}

func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Close stops the worker after flushing whatever is already buffered.
func (q *Queue) Close() {
	q.cancel()
	<-q.done
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.drain()
			return
		case e := <-q.in:
			q.write(context.Background(), e)
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case e := <-q.in:
			q.write(context.Background(), e)
		default:
			return
		}
	}
}

func (q *Queue) write(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := q.w.Write(ctx, e); err != nil {
		q.log.Warn("audit write failed", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
