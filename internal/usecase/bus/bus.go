// Package bus decouples channel adapters from the agent loop. Inbound
// messages sharing a session key are handled one at a time in submission
// order; distinct keys are handled concurrently.
package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chasingclaw/internal/domain"
)

const (
	defaultQueueSize   = 64
	defaultIdleTimeout = 2 * time.Minute
)

// OutboundHandler receives replies addressed to a channel.
type OutboundHandler func(ctx context.Context, msg domain.OutboundMessage)

// Config tunes the bus.
type Config struct {
	QueueSize   int           // per-session inbound buffer
	IdleTimeout time.Duration // idle session workers exit after this
}

type subscription struct {
	id      uint64
	handler OutboundHandler
}

type result struct {
	out domain.OutboundMessage
	err error
}

type envelope struct {
	ctx   context.Context
	msg   domain.InboundMessage
	reply chan result // nil for fire-and-forget publishes
}

type worker struct {
	key     string
	queue   chan envelope
	pending int // guarded by Bus.mu
}

// Bus is an in-process, goroutine-safe message bus.
type Bus struct {
	handler domain.MessageHandler
	logger  *slog.Logger
	cfg     Config

	mu      sync.Mutex
	workers map[string]*worker
	closed  bool
	done    chan struct{}

	subMu  sync.RWMutex
	subs   map[string][]subscription // "" receives every channel
	nextID atomic.Uint64

	wg sync.WaitGroup
}

// New creates a bus dispatching inbound messages to handler.
func New(handler domain.MessageHandler, cfg Config, logger *slog.Logger) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Bus{
		handler: handler,
		logger:  logger,
		cfg:     cfg,
		workers: make(map[string]*worker),
		done:    make(chan struct{}),
		subs:    make(map[string][]subscription),
	}
}

// PublishInbound queues msg for its session. The reply is published on the
// outbound side. It blocks only while the session's queue is full.
func (b *Bus) PublishInbound(ctx context.Context, msg domain.InboundMessage) error {
	return b.enqueue(ctx, envelope{ctx: context.WithoutCancel(ctx), msg: msg})
}

// Request queues msg and waits for its reply. Handler failures are
// returned as errors rather than published.
func (b *Bus) Request(ctx context.Context, msg domain.InboundMessage) (domain.OutboundMessage, error) {
	reply := make(chan result, 1)
	if err := b.enqueue(ctx, envelope{ctx: ctx, msg: msg, reply: reply}); err != nil {
		return domain.OutboundMessage{}, err
	}
	select {
	case r := <-reply:
		return r.out, r.err
	case <-ctx.Done():
		return domain.OutboundMessage{}, ctx.Err()
	case <-b.done:
		select {
		case r := <-reply:
			return r.out, r.err
		default:
			return domain.OutboundMessage{}, domain.ErrBusClosed
		}
	}
}

func (b *Bus) enqueue(ctx context.Context, env envelope) error {
	key := env.msg.Key()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return domain.ErrBusClosed
	}
	w, ok := b.workers[key]
	if !ok {
		w = &worker{key: key, queue: make(chan envelope, b.cfg.QueueSize)}
		b.workers[key] = w
		b.wg.Add(1)
		go b.run(w)
	}
	w.pending++
	b.mu.Unlock()

	select {
	case w.queue <- env:
		return nil
	case <-ctx.Done():
		b.cancelPending(w)
		return ctx.Err()
	case <-b.done:
		b.cancelPending(w)
		return domain.ErrBusClosed
	}
}

func (b *Bus) cancelPending(w *worker) {
	b.mu.Lock()
	w.pending--
	b.mu.Unlock()
}

// run drains one session's queue. The worker exits after an idle period
// with nothing pending, or when the bus closes.
func (b *Bus) run(w *worker) {
	defer b.wg.Done()

	idle := time.NewTimer(b.cfg.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case env := <-w.queue:
			b.mu.Lock()
			w.pending--
			b.mu.Unlock()

			b.process(env)

			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(b.cfg.IdleTimeout)

		case <-idle.C:
			b.mu.Lock()
			if w.pending == 0 && len(w.queue) == 0 {
				delete(b.workers, w.key)
				b.mu.Unlock()
				b.logger.Debug("session worker idle, exiting", "session", w.key)
				return
			}
			b.mu.Unlock()
			idle.Reset(b.cfg.IdleTimeout)

		case <-b.done:
			for {
				select {
				case env := <-w.queue:
					if env.reply != nil {
						env.reply <- result{err: domain.ErrBusClosed}
					}
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) process(env envelope) {
	out, err := b.invoke(env.ctx, env.msg)
	if env.reply != nil {
		env.reply <- result{out: out, err: err}
		return
	}
	if err != nil {
		b.logger.Warn("inbound message failed", "session", env.msg.Key(), "channel", env.msg.Channel, "error", err)
		out = ErrorReply(env.msg, err)
	}
	b.publish(env.ctx, out)
}

func (b *Bus) invoke(ctx context.Context, msg domain.InboundMessage) (out domain.OutboundMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked", "session", msg.Key(), "panic", r)
			err = fmt.Errorf("message handler panicked: %v", r)
		}
	}()
	return b.handler.Handle(ctx, msg)
}

// ErrorReply builds the reply sent back when handling msg failed.
func ErrorReply(msg domain.InboundMessage, err error) domain.OutboundMessage {
	out := domain.ReplyTo(msg, "Sorry, I encountered an error: "+err.Error())
	out.IsError = true
	return out
}

// SubscribeOutbound registers handler for replies on channel; an empty
// channel receives every reply. Returns an unsubscribe function.
func (b *Bus) SubscribeOutbound(channel string, handler OutboundHandler) func() {
	id := b.nextID.Add(1)

	b.subMu.Lock()
	b.subs[channel] = append(b.subs[channel], subscription{id: id, handler: handler})
	b.subMu.Unlock()

	return func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		subs := b.subs[channel]
		for i, s := range subs {
			if s.id == id {
				b.subs[channel] = append(subs[:i:i], subs[i+1:]...)
				return
			}
		}
	}
}

// PublishOutbound fans msg out to the subscribers of its channel. Each
// handler runs in its own goroutine; panics are recovered.
func (b *Bus) PublishOutbound(ctx context.Context, msg domain.OutboundMessage) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return domain.ErrBusClosed
	}
	b.publish(ctx, msg)
	return nil
}

func (b *Bus) publish(ctx context.Context, msg domain.OutboundMessage) {
	b.subMu.RLock()
	subs := make([]subscription, 0, len(b.subs[msg.Channel])+len(b.subs[""]))
	subs = append(subs, b.subs[msg.Channel]...)
	if msg.Channel != "" {
		subs = append(subs, b.subs[""]...)
	}
	b.subMu.RUnlock()

	if len(subs) == 0 {
		b.logger.Debug("no outbound subscriber", "channel", msg.Channel, "session", msg.SessionKey)
		return
	}

	for _, sub := range subs {
		b.wg.Add(1)
		go func(h OutboundHandler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("outbound handler panicked", "channel", msg.Channel, "panic", r)
				}
			}()
			h(ctx, msg)
		}(sub.handler)
	}
}

// ActiveSessions returns the number of live session workers.
func (b *Bus) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.workers)
}

// Close stops accepting messages, fails queued requests with ErrBusClosed
// and waits for in-flight handlers. Close is idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	b.wg.Wait()
}
