// Package event implements the external event bus used to publish
// "new-transaction" and "new-block" notifications (spec §6's
// NeedIndexNewTransaction / NeedIndexNewBlock topics). It mirrors the
// teacher codebase's event.Feed/TypeMux idiom: a Feed fans out a single
// event type to any number of subscribers, and delivery to a slow or
// absent subscriber never blocks the publisher.
package event

import "sync"

// Subscription represents a feed registration that can be cancelled.
type Subscription struct {
	ch     chan interface{}
	feed   *Feed
	closed bool
	mu     sync.Mutex
}

// Chan returns the channel events are delivered on.
func (s *Subscription) Chan() <-chan interface{} { return s.ch }

// Unsubscribe cancels the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.feed.remove(s)
	close(s.ch)
}

// Feed implements one-to-many delivery of events of a single conceptual
// type. The zero value is ready to use.
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// Subscribe registers a new subscriber with the given channel buffer size.
func (f *Feed) Subscribe(buffer int) *Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[*Subscription]struct{})
	}
	sub := &Subscription{ch: make(chan interface{}, buffer), feed: f}
	f.subs[sub] = struct{}{}
	return sub
}

func (f *Feed) remove(sub *Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub)
}

// Send delivers event to every current subscriber. A subscriber whose
// buffer is full is skipped rather than blocking the publisher — per
// spec.md §9's note that event delivery is best-effort.
func (f *Feed) Send(event interface{}) (delivered int) {
	f.mu.Lock()
	subs := make([]*Subscription, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- event:
			delivered++
		default:
		}
	}
	return delivered
}
