// Package batcher groups items into batches flushed by size or by a time window.
package batcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrClosed = errors.New("batcher closed")
	// ErrBacklog is returned by Add while Buffer flushed batches are still
	// waiting for the handler. The item is not accepted.
	ErrBacklog = errors.New("batcher backlog full")
)

const (
	DefaultMaxSize = 5
	DefaultWindow  = 5 * time.Second
	DefaultBuffer  = 16
)

type Config struct {
	// MaxSize flushes as soon as this many items are buffered.
	MaxSize int
	// Window flushes whatever is buffered this long after the first item
	// entered an empty buffer.
	Window time.Duration
	// Buffer is how many flushed batches may wait for the handler before Add
	// starts rejecting items.
	Buffer int
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultMaxSize
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultBuffer
	}
	return c
}

// Handler processes one flushed batch. Batches arrive one at a time in flush order.
type Handler[T any] func(ctx context.Context, batch []T) error

// Batcher buffers items and hands flushed batches to a single consumer goroutine.
// Every accepted item is delivered in exactly one batch. No method blocks while
// holding mu; the consumer takes batches off queue and runs the handler unlocked.
type Batcher[T any] struct {
	cfg     Config
	handler Handler[T]

	mu     sync.Mutex
	buf    []T
	gen    uint64
	timer  *time.Timer
	closed bool
	queue  [][]T // flushed, waiting for the handler

	wake chan struct{}
	done chan struct{}
}

func New[T any](cfg Config, handler Handler[T]) *Batcher[T] {
	cfg = cfg.withDefaults()
	b := &Batcher[T]{
		cfg:     cfg,
		handler: handler,
		buf:     make([]T, 0, cfg.MaxSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.consume()
	return b
}

// Add buffers item, flushing if the buffer reaches MaxSize.
func (b *Batcher[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	if len(b.queue) >= b.cfg.Buffer {
		return ErrBacklog
	}
	b.buf = append(b.buf, item)
	if len(b.buf) == 1 {
		gen := b.gen
		b.timer = time.AfterFunc(b.cfg.Window, func() { b.expire(gen) })
	}
	if len(b.buf) >= b.cfg.MaxSize {
		b.flushLocked()
	}
	return nil
}

// Flush hands off whatever is buffered now.
func (b *Batcher[T]) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.flushLocked()
	}
}

func (b *Batcher[T]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Queued reports how many flushed batches are waiting for the handler.
func (b *Batcher[T]) Queued() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// expire runs on the window timer. A timer whose generation has already been
// flushed by size is stale and does nothing.
func (b *Batcher[T]) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || gen != b.gen {
		return
	}
	b.flushLocked()
}

// flushLocked must be called with mu held. It never blocks.
func (b *Batcher[T]) flushLocked() {
	if len(b.buf) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.queue = append(b.queue, b.buf)
	b.buf = make([]T, 0, b.cfg.MaxSize)
	b.gen++
	b.signal()
}

func (b *Batcher[T]) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// next blocks until a batch is queued. ok is false once the batcher is closed
// and the queue is drained.
func (b *Batcher[T]) next() (batch []T, ok bool) {
	for {
		b.mu.Lock()
		if len(b.queue) > 0 {
			batch = b.queue[0]
			b.queue[0] = nil
			b.queue = b.queue[1:]
			b.mu.Unlock()
			return batch, true
		}
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return nil, false
		}
		<-b.wake
	}
}

func (b *Batcher[T]) consume() {
	defer close(b.done)
	for {
		batch, ok := b.next()
		if !ok {
			return
		}
		b.handle(batch)
	}
}

func (b *Batcher[T]) handle(batch []T) {
	ctx := context.Background()
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "[batcher] handler panic", "size", len(batch), "panic", r)
		}
	}()
	if err := b.handler(ctx, batch); err != nil {
		slog.ErrorContext(ctx, "[batcher] batch failed", "size", len(batch), "error", err)
	}
}

// Close flushes the remaining items and waits until the handler has drained
// every batch or ctx is done. Add returns ErrClosed afterwards.
func (b *Batcher[T]) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.flushLocked()
		b.closed = true
		b.signal()
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
