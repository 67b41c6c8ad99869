// Copyright 2025 Albatross Validators
//
// Aggregation Transport
// Production and in-memory Network implementations for LevelUpdate exchange.
//
package handel

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Network is the transport surface the driver needs: point-to-point send to
// a named peer, and a single inbound stream of updates from every peer this
// node has a connection with.
type Network interface {
	SendTo(ctx context.Context, peer ValidatorIndex, msg *LevelUpdate) error
	Receive() <-chan *LevelUpdate
}

// updateWriter is the minimal surface codec.Writer exposes, so this package
// doesn't need to import pkg/codec just to name the type in ConnNetwork's
// field — the concrete writer is supplied by the caller at construction.
type updateWriter interface {
	WriteUpdate(update *LevelUpdate) error
}

// ConnNetwork is the production Network: one persistent connection per peer,
// each wrapped in a framed codec writer for sends and a background goroutine
// reading frames for receives. Mirrors the corpus's pattern of a real
// socket-backed adapter plus an in-memory stand-in for tests
// (InMemoryNetwork).
type ConnNetwork struct {
	mu      sync.RWMutex
	writers map[ValidatorIndex]updateWriter
	inbound chan *LevelUpdate
	logger  *log.Logger
}

// NewConnNetwork builds an empty ConnNetwork; peers are attached with
// AddPeer as connections are established.
func NewConnNetwork(logger *log.Logger) *ConnNetwork {
	return &ConnNetwork{
		writers: make(map[ValidatorIndex]updateWriter),
		inbound: make(chan *LevelUpdate, 256),
		logger:  logger,
	}
}

// AddPeer registers a connection for peer, starting a background reader
// goroutine that decodes frames with reader into the shared inbound channel.
func (n *ConnNetwork) AddPeer(peer ValidatorIndex, writer updateWriter, reader interface {
	ReadUpdate(ctx context.Context) (*LevelUpdate, error)
}) {
	n.mu.Lock()
	n.writers[peer] = writer
	n.mu.Unlock()

	go n.readLoop(peer, reader)
}

func (n *ConnNetwork) readLoop(peer ValidatorIndex, reader interface {
	ReadUpdate(ctx context.Context) (*LevelUpdate, error)
}) {
	ctx := context.Background()
	for {
		update, err := reader.ReadUpdate(ctx)
		if err != nil {
			if n.logger != nil {
				n.logger.Printf("peer %d read loop ended: %v", peer, err)
			}
			return
		}
		n.inbound <- update
	}
}

// SendTo implements Network.
func (n *ConnNetwork) SendTo(ctx context.Context, peer ValidatorIndex, msg *LevelUpdate) error {
	n.mu.RLock()
	w, ok := n.writers[peer]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("handel: no connection to peer %d", peer)
	}
	return w.WriteUpdate(msg)
}

// Receive implements Network.
func (n *ConnNetwork) Receive() <-chan *LevelUpdate {
	return n.inbound
}

// InMemoryNetwork delivers updates directly goroutine-to-goroutine through
// channels, with no serialization. It is the Network used by the
// demonstration node harness and by driver tests that want to exercise the
// full send/receive loop without real sockets.
type InMemoryNetwork struct {
	self ValidatorIndex
	bus  *InMemoryBus
	in   chan *LevelUpdate
}

// InMemoryBus is the shared registry an InMemoryNetwork set is built around:
// every participant's inbound channel, addressable by ValidatorIndex.
type InMemoryBus struct {
	mu   sync.RWMutex
	legs map[ValidatorIndex]chan *LevelUpdate
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{legs: make(map[ValidatorIndex]chan *LevelUpdate)}
}

// NetworkFor registers and returns the InMemoryNetwork for validator index
// self, buffered to bufSize pending inbound updates.
func (b *InMemoryBus) NetworkFor(self ValidatorIndex, bufSize int) *InMemoryNetwork {
	in := make(chan *LevelUpdate, bufSize)
	b.mu.Lock()
	b.legs[self] = in
	b.mu.Unlock()
	return &InMemoryNetwork{self: self, bus: b, in: in}
}

// SendTo implements Network.
func (n *InMemoryNetwork) SendTo(ctx context.Context, peer ValidatorIndex, msg *LevelUpdate) error {
	n.bus.mu.RLock()
	ch, ok := n.bus.legs[peer]
	n.bus.mu.RUnlock()
	if !ok {
		return fmt.Errorf("handel: no in-memory peer %d registered", peer)
	}
	select {
	case ch <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive implements Network.
func (n *InMemoryNetwork) Receive() <-chan *LevelUpdate {
	return n.in
}
