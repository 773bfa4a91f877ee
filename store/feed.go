package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ChangeFeed delivers change payloads (the affected user id) per channel. An
// empty payload means "something may have changed", e.g. after a reconnect.
type ChangeFeed interface {
	Subscribe(channel string) (<-chan string, func())
}

// PQFeed fans Postgres LISTEN/NOTIFY traffic out to in-process subscribers.
type PQFeed struct {
	listener *pq.Listener
	logger   *zap.Logger

	mu   sync.Mutex
	subs map[string]map[int]chan string
	next int
	done chan struct{}
}

func NewPQFeed(connString string, logger *zap.Logger, channels ...string) (*PQFeed, error) {
	listener := pq.NewListener(connString, 10*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				logger.Warn("change feed listener error", zap.Int("event", int(ev)), zap.Error(err))
			}
		})

	for _, ch := range channels {
		if err := listener.Listen(ch); err != nil {
			listener.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", ch, err)
		}
	}

	f := newPQFeed(logger)
	f.listener = listener
	go f.dispatch(listener.Notify)
	return f, nil
}

func newPQFeed(logger *zap.Logger) *PQFeed {
	return &PQFeed{
		logger: logger,
		subs:   make(map[string]map[int]chan string),
		done:   make(chan struct{}),
	}
}

func (f *PQFeed) Subscribe(channel string) (<-chan string, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan string, 1)
	if f.subs[channel] == nil {
		f.subs[channel] = make(map[int]chan string)
	}
	f.subs[channel][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs[channel], id)
			f.mu.Unlock()
		})
	}
}

func (f *PQFeed) dispatch(in <-chan *pq.Notification) {
	for {
		select {
		case <-f.done:
			return
		case n, ok := <-in:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected; notifications may have been lost.
				f.logger.Info("change feed reconnected")
				f.broadcastAll("")
				continue
			}
			f.broadcast(n.Channel, n.Extra)
		}
	}
}

func (f *PQFeed) broadcast(channel, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[channel] {
		offer(ch, payload)
	}
}

func (f *PQFeed) broadcastAll(payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, subs := range f.subs {
		for _, ch := range subs {
			offer(ch, payload)
		}
	}
}

// offer never blocks. A pending signal already forces a reload, so extra ones
// coalesce into it; the pending payload is widened to "" so it matches anyone.
func offer(ch chan string, payload string) {
	select {
	case ch <- payload:
	default:
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- "":
		default:
		}
	}
}

func (f *PQFeed) Close() error {
	close(f.done)
	if f.listener != nil {
		return f.listener.Close()
	}
	return nil
}

// Watch produces a lazy, unbounded sequence of snapshots: one immediately, then
// a fresh one after every change on channel accepted by match (nil accepts all).
// The sequence ends when ctx is cancelled. A failed reload is logged and the
// last snapshot stands until the next change.
func Watch[T any](ctx context.Context, feed ChangeFeed, channel string, match func(string) bool,
	load func(context.Context) (T, error), logger *zap.Logger) (<-chan T, error) {
	changes, cancel := feed.Subscribe(channel)

	snapshot, err := load(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan T)
	go func() {
		defer close(out)
		defer cancel()

		for {
			select {
			case out <- snapshot:
			case <-ctx.Done():
				return
			}

			for {
				if !waitForChange(ctx, changes, match) {
					return
				}
				next, err := load(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Warn("failed to reload watched snapshot", zap.String("channel", channel), zap.Error(err))
					continue
				}
				snapshot = next
				break
			}
		}
	}()

	return out, nil
}

func waitForChange(ctx context.Context, changes <-chan string, match func(string) bool) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case payload, ok := <-changes:
			if !ok {
				return false
			}
			if payload == "" || match == nil || match(payload) {
				return true
			}
		}
	}
}
