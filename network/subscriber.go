package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"

	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Receive failures are retried after a delay that doubles from
// minRecvBackoff up to maxRecvBackoff.
const (
	minRecvBackoff = 10 * time.Millisecond
	maxRecvBackoff = time.Second
)

// Subscriber receives store events from a Publisher.
type Subscriber struct {
	endpoint string
	kinds    []store.EventKind

	ctx    context.Context
	cancel context.CancelFunc
	sub    zmq4.Socket
	events chan store.Event

	recvErrors atomic.Uint64

	running bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewSubscriber creates a subscriber for endpoint. With no kinds every
// event is delivered.
func NewSubscriber(endpoint string, kinds ...store.EventKind) *Subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	return &Subscriber{
		endpoint: endpoint,
		kinds:    kinds,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan store.Event, DefaultQueueSize),
	}
}

// Start connects to the publisher and starts receiving.
func (s *Subscriber) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("subscriber already running")
	}

	s.sub = zmq4.NewSub(s.ctx)
	if err := s.sub.Dial(s.endpoint); err != nil {
		_ = s.sub.Close()
		return fmt.Errorf("failed to connect to %s: %w", s.endpoint, err)
	}

	topics := make([]string, 0, len(s.kinds))
	for _, kind := range s.kinds {
		topics = append(topics, string(kind))
	}
	if len(topics) == 0 {
		topics = append(topics, "")
	}
	for _, topic := range topics {
		if err := s.sub.SetOption(zmq4.OptionSubscribe, topic); err != nil {
			_ = s.sub.Close()
			return fmt.Errorf("failed to subscribe to %q: %w", topic, err)
		}
	}

	s.running = true
	s.wg.Add(1)
	go s.receiverLoop()
	return nil
}

// Events returns the channel of received events. It is closed by Stop.
func (s *Subscriber) Events() <-chan store.Event {
	return s.events
}

// RecvErrors returns the number of failed receives so far.
func (s *Subscriber) RecvErrors() uint64 {
	return s.recvErrors.Load()
}

func (s *Subscriber) receiverLoop() {
	defer s.wg.Done()

	var backoff time.Duration
	for {
		msg, err := s.sub.Recv()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.recvErrors.Add(1)
			backoff = nextBackoff(backoff)
			if !sleepCtx(s.ctx, backoff) {
				return
			}
			continue
		}
		backoff = 0

		ev, err := DecodeEvent(msg.Frames)
		if err != nil {
			continue
		}

		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		default:
			// Channel full, drop event
		}
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d < minRecvBackoff {
		return minRecvBackoff
	}
	return min(2*d, maxRecvBackoff)
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// DecodeEvent parses the frames of one published message.
func DecodeEvent(frames [][]byte) (store.Event, error) {
	var ev store.Event
	if len(frames) != 2 {
		return ev, fmt.Errorf("expected 2 frames, got %d", len(frames))
	}
	if err := json.Unmarshal(frames[1], &ev); err != nil {
		return ev, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if string(ev.Kind) != string(frames[0]) {
		return ev, fmt.Errorf("topic %q does not match event kind %q", frames[0], ev.Kind)
	}
	return ev, nil
}

// Stop disconnects and closes the Events channel.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	_ = s.sub.Close()
	s.wg.Wait()
	close(s.events)
}
