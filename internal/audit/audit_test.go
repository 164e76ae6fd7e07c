package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memWriter struct {
	mu      sync.Mutex
	entries []Entry
	block   chan struct{}
	err     error
}

func (w *memWriter) Write(ctx context.Context, e Entry) error {
	if w.block != nil {
		<-w.block
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = append(w.entries, e)
	return w.err
}

func (w *memWriter) snapshot() []Entry {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Entry(nil), w.entries...)
}

func TestQueue_WritesInOrder(t *testing.T) {
	w := &memWriter{}
	q := NewQueue(context.Background(), w, 8, zap.NewNop())

	q.Record(Entry{Kind: KindJoin, PlayerID: "a"})
	q.Record(Entry{Kind: KindChat, PlayerID: "a", Detail: "hello"})
	q.Record(Entry{Kind: KindLeave, PlayerID: "a"})
	q.Close()

	got := w.snapshot()
	require.Len(t, got, 3)
	assert.Equal(t, KindJoin, got[0].Kind)
	assert.Equal(t, "hello", got[1].Detail)
	assert.Equal(t, KindLeave, got[2].Kind)
	assert.False(t, got[0].CreatedAt.IsZero())
}

func TestQueue_DropsWhenFull(t *testing.T) {
	w := &memWriter{block: make(chan struct{})}
	q := NewQueue(context.Background(), w, 1, zap.NewNop())

	// the worker takes the first entry and blocks in Write, the second
	// fills the buffer, everything after that is dropped
	q.Record(Entry{Kind: KindJoin})
	require.Eventually(t, func() bool { return len(q.in) == 0 }, time.Second, time.Millisecond)
	q.Record(Entry{Kind: KindChat})
	q.Record(Entry{Kind: KindChat})
	q.Record(Entry{Kind: KindChat})

	assert.Equal(t, uint64(2), q.Dropped())
	close(w.block)
	q.Close()
	assert.Len(t, w.snapshot(), 2)
}

func TestQueue_WriteErrorsDoNotStopWorker(t *testing.T) {
	w := &memWriter{err: errors.New("db down")}
	q := NewQueue(context.Background(), w, 4, zap.NewNop())
	q.Record(Entry{Kind: KindJoin})
	q.Record(Entry{Kind: KindLeave})
	q.Close()
	assert.Len(t, w.snapshot(), 2)
}
