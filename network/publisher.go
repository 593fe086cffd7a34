package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/go-zeromq/zmq4"
	"github.com/goccy/go-json"

	"github.com/VanDung-dev/TableStore-Engine/store"
)

// Common errors for network operations
var (
	ErrNotRunning = errors.New("publisher is not running")
	ErrQueueFull  = errors.New("event queue is full")
)

// DefaultQueueSize is the number of events buffered for sending.
const DefaultQueueSize = 1000

// Publisher publishes store events on a ZeroMQ PUB socket. Every message
// has two frames: the event kind, used as the subscription topic, and the
// JSON encoded event.
type Publisher struct {
	endpoint string

	ctx    context.Context
	cancel context.CancelFunc
	pub    zmq4.Socket
	queue  chan store.Event

	published atomic.Uint64
	dropped   atomic.Uint64

	running bool
	mu      sync.RWMutex
	wg      sync.WaitGroup
}

// NewPublisher creates a publisher that will bind endpoint, for example
// "tcp://127.0.0.1:5556" or "ipc:///tmp/tablestore-events".
func NewPublisher(endpoint string) *Publisher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Publisher{
		endpoint: endpoint,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan store.Event, DefaultQueueSize),
	}
}

// Start binds the PUB socket and starts the sender.
func (p *Publisher) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return errors.New("publisher already running")
	}

	p.pub = zmq4.NewPub(p.ctx)
	if err := p.pub.Listen(p.endpoint); err != nil {
		_ = p.pub.Close()
		return fmt.Errorf("failed to bind publisher: %w", err)
	}
	p.running = true

	p.wg.Add(1)
	go p.senderLoop()
	return nil
}

// Addr returns the bound address.
func (p *Publisher) Addr() net.Addr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.pub == nil {
		return nil
	}
	return p.pub.Addr()
}

// Notify queues ev for publishing without blocking. Creation of an object
// is not announced since unsealed objects are invisible to readers.
func (p *Publisher) Notify(ev store.Event) error {
	if ev.Kind == store.EventCreated {
		return nil
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrNotRunning
	}

	select {
	case p.queue <- ev:
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

func (p *Publisher) senderLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case ev := <-p.queue:
			if err := p.send(ev); err != nil {
				p.dropped.Add(1)
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *Publisher) send(ev store.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.pub.Send(zmq4.NewMsgFrom([]byte(ev.Kind), payload))
}

// Stop closes the socket. Queued events are discarded.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	_ = p.pub.Close()
}

// PublisherStats contains publisher statistics.
type PublisherStats struct {
	Endpoint  string `json:"endpoint"`
	IsRunning bool   `json:"is_running"`
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	QueueSize int    `json:"queue_size"`
}

// Stats returns current publisher statistics.
func (p *Publisher) Stats() PublisherStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PublisherStats{
		Endpoint:  p.endpoint,
		IsRunning: p.running,
		Published: p.published.Load(),
		Dropped:   p.dropped.Load(),
		QueueSize: len(p.queue),
	}
}
