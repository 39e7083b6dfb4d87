package llm

import (
	"context"
	"io"
	"sync"
)

// eventStream adapts a producer function into a Stream. The producer runs in
// its own goroutine and sends events on a channel; Recv returns io.EOF once
// the producer returns nil, or the producer's error.
type eventStream struct {
	events chan Event
	cancel context.CancelFunc
	err    error
	closed sync.Once
}

// newEventStream starts run in a goroutine and returns a Stream over its events.
// Closing the stream cancels the producer's context and drains pending sends.
func newEventStream(ctx context.Context, run func(ctx context.Context, events chan<- Event) error) Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &eventStream{
		events: make(chan Event, 16),
		cancel: cancel,
	}
	go func() {
		defer close(s.events)
		// err must be set before the channel close; Recv only reads it
		// after the closed channel delivers its zero value.
		s.err = run(ctx, s.events)
	}()
	return s
}

func (s *eventStream) Recv() (Event, error) {
	event, ok := <-s.events
	if !ok {
		if s.err != nil {
			return Event{}, s.err
		}
		return Event{}, io.EOF
	}
	return event, nil
}

func (s *eventStream) Close() error {
	s.closed.Do(func() {
		s.cancel()
		// Unblock a producer stuck on a full channel.
		go func() {
			for range s.events {
			}
		}()
	})
	return nil
}
