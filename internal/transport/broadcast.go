package transport

import "sync"

// Broadcast is an in-process named channel. Every open Broadcast with the
// same name receives what the others send; a sender never receives its own
// frames. Delivery is synchronous and in send order. Frames sent while no
// other instance has a handler are lost.
type Broadcast struct {
	name string
	bus  *bus

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

type bus struct {
	mu      sync.RWMutex
	members map[*Broadcast]struct{}
}

var (
	busesMu sync.Mutex
	buses   = make(map[string]*bus)
)

// OpenBroadcast joins the channel called name.
func OpenBroadcast(name string) *Broadcast {
	busesMu.Lock()
	defer busesMu.Unlock()
	b, ok := buses[name]
	if !ok {
		b = &bus{members: make(map[*Broadcast]struct{})}
		buses[name] = b
	}

	bc := &Broadcast{name: name, bus: b}
	b.mu.Lock()
	b.members[bc] = struct{}{}
	b.mu.Unlock()
	return bc
}

// Name returns the channel name.
func (bc *Broadcast) Name() string { return bc.name }

// Send copies frame to every other member's handler.
func (bc *Broadcast) Send(frame []byte) error {
	bc.mu.RLock()
	closed := bc.closed
	bc.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	bc.bus.mu.RLock()
	peers := make([]*Broadcast, 0, len(bc.bus.members))
	for m := range bc.bus.members {
		if m != bc {
			peers = append(peers, m)
		}
	}
	bc.bus.mu.RUnlock()

	for _, p := range peers {
		p.deliver(frame)
	}
	return nil
}

func (bc *Broadcast) deliver(frame []byte) {
	bc.mu.RLock()
	h := bc.handler
	bc.mu.RUnlock()
	if h == nil {
		return
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	h(cp)
}

// OnMessage sets the inbound handler.
func (bc *Broadcast) OnMessage(h Handler) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.handler = h
}

// Close leaves the channel. The last member to leave removes the channel.
func (bc *Broadcast) Close() error {
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		return nil
	}
	bc.closed = true
	bc.handler = nil
	bc.mu.Unlock()

	busesMu.Lock()
	defer busesMu.Unlock()
	bc.bus.mu.Lock()
	delete(bc.bus.members, bc)
	empty := len(bc.bus.members) == 0
	bc.bus.mu.Unlock()
	if empty && buses[bc.name] == bc.bus {
		delete(buses, bc.name)
	}
	return nil
}
