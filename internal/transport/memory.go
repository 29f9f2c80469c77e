package transport

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
)

// DropFunc decides whether a datagram from one endpoint to another is lost.
type DropFunc func(from, to string, data []byte) bool

// MemoryNetwork connects in-process endpoints. Delivery is immediate and
// ordered unless a DropFunc discards packets.
type MemoryNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*Memory
	drop      DropFunc
	next      uint16
}

func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{endpoints: make(map[string]*Memory)}
}

// SetDrop installs f; nil delivers everything.
func (n *MemoryNetwork) SetDrop(f DropFunc) {
	n.mu.Lock()
	n.drop = f
	n.mu.Unlock()
}

// Listen registers an endpoint under name.
func (n *MemoryNetwork) Listen(name string) (*Memory, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.endpoints[name]; exists {
		return nil, fmt.Errorf("transport: memory endpoint %q already listening", name)
	}
	n.next++
	ep := &Memory{
		net:   n,
		name:  name,
		addr:  netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(n.next >> 8), byte(n.next)}), 5029),
		nodes: newNodeTable(),
	}
	n.endpoints[name] = ep
	return ep, nil
}

func (n *MemoryNetwork) deliver(from *Memory, to string, data []byte) {
	n.mu.Lock()
	dst := n.endpoints[to]
	drop := n.drop
	n.mu.Unlock()
	if dst == nil {
		return
	}
	if drop != nil && drop(from.name, to, data) {
		return
	}
	dst.push(from, append([]byte(nil), data...))
}

func (n *MemoryNetwork) remove(name string) {
	n.mu.Lock()
	delete(n.endpoints, name)
	n.mu.Unlock()
}

func (n *MemoryNetwork) endpoint(name string) *Memory {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.endpoints[name]
}

type memoryPacket struct {
	from string
	addr netip.AddrPort
	data []byte
}

// Memory is one endpoint of a MemoryNetwork.
type Memory struct {
	net   *MemoryNetwork
	name  string
	addr  netip.AddrPort
	nodes *nodeTable

	mu     sync.Mutex
	inbox  []memoryPacket
	closed bool
}

// LocalAddr is the synthetic address other endpoints see.
func (m *Memory) LocalAddr() netip.AddrPort {
	return m.addr
}

func (m *Memory) push(from *Memory, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.inbox = append(m.inbox, memoryPacket{from: from.name, addr: from.addr, data: data})
}

func (m *Memory) Send(node int, data []byte) error {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	key, ok := m.nodes.key(node)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	m.net.deliver(m, key, data)
	return nil
}

func (m *Memory) Receive() (Datagram, bool) {
	for {
		m.mu.Lock()
		if m.closed || len(m.inbox) == 0 {
			m.mu.Unlock()
			return Datagram{}, false
		}
		pkt := m.inbox[0]
		m.inbox = m.inbox[1:]
		m.mu.Unlock()

		node, err := m.nodes.lookup(pkt.from, pkt.addr, true)
		if err != nil {
			continue
		}
		return Datagram{Node: node, Addr: pkt.addr, Data: pkt.data}, true
	}
}

// Connect resolves addr, the name another endpoint listens under.
func (m *Memory) Connect(ctx context.Context, addr string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	peer := m.net.endpoint(addr)
	if peer == nil {
		return 0, fmt.Errorf("transport: no memory endpoint %q", addr)
	}
	return m.nodes.lookup(addr, peer.addr, true)
}

func (m *Memory) CloseNode(node int) {
	m.nodes.release(node)
}

func (m *Memory) Addr(node int) netip.AddrPort {
	return m.nodes.addr(node)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.inbox = nil
	m.mu.Unlock()
	m.net.remove(m.name)
	return nil
}
