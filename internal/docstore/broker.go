package docstore

import (
	"context"
	"sync"
	"time"
)

// deliveryTimeout bounds a single subscription re-read
const deliveryTimeout = 10 * time.Second

// broker fans committed changes out to subscriptions. Each subscription owns
// one goroutine, so snapshots reach a subscriber sequentially and bursts of
// changes collapse into a single re-read.
type broker struct {
	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

type subscription struct {
	matches func(Ref) bool
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newBroker() *broker {
	return &broker{subs: make(map[*subscription]struct{})}
}

func (b *broker) subscribe(matches func(Ref) bool, deliver func(context.Context) error, onError func(error)) func() {
	sub := &subscription{
		matches: matches,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		if onError != nil {
			onError(ErrClosed)
		}
		return func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go b.run(sub, deliver, onError)

	return func() { b.remove(sub) }
}

func (b *broker) run(sub *subscription, deliver func(context.Context) error, onError func(error)) {
	for {
		select {
		case <-sub.done:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
		err := deliver(ctx)
		cancel()
		if err != nil {
			b.remove(sub)
			if onError != nil {
				onError(err)
			}
			return
		}

		select {
		case <-sub.done:
			return
		case <-sub.wake:
		}
	}
}

func (b *broker) publish(changed []Ref) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		for _, ref := range changed {
			if sub.matches(ref) {
				select {
				case sub.wake <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

func (b *broker) remove(sub *subscription) {
	sub.once.Do(func() {
		close(sub.done)
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	})
}

func (b *broker) close() {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		b.remove(sub)
	}
}
