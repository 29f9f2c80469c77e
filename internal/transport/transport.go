// Package transport carries raw datagrams between nodes. Node 0 is always
// the local machine; remote peers are numbered from 1 in the order they
// are first heard from or connected to.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"

	"kartsync/server/internal/protocol"
)

var (
	ErrClosed      = errors.New("transport: closed")
	ErrUnknownNode = errors.New("transport: unknown node")
	ErrNodesFull   = errors.New("transport: no free node")
)

// Datagram is one inbound packet. Data is owned by the receiver.
type Datagram struct {
	Node int
	Addr netip.AddrPort
	Data []byte
}

// Transport is what the session needs from the network. Receive never
// blocks; the session drains it once per update.
type Transport interface {
	Send(node int, data []byte) error
	Receive() (Datagram, bool)
	Connect(ctx context.Context, addr string) (int, error)
	CloseNode(node int)
	Addr(node int) netip.AddrPort
	Close() error
}

// nodeTable assigns node numbers to peer keys.
type nodeTable struct {
	mu    sync.Mutex
	byKey map[string]int
	keys  [protocol.MaxNodes]string
	addrs [protocol.MaxNodes]netip.AddrPort
}

func newNodeTable() *nodeTable {
	return &nodeTable{byKey: make(map[string]int)}
}

// lookup returns the node for key, allocating the lowest free one when
// create is set.
func (t *nodeTable) lookup(key string, addr netip.AddrPort, create bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if node, ok := t.byKey[key]; ok {
		return node, nil
	}
	if !create {
		return 0, fmt.Errorf("%w: %s", ErrUnknownNode, key)
	}
	for node := 1; node < protocol.MaxNodes; node++ {
		if t.keys[node] == "" {
			t.keys[node] = key
			t.addrs[node] = addr
			t.byKey[key] = node
			return node, nil
		}
	}
	return 0, ErrNodesFull
}

func (t *nodeTable) key(node int) (string, bool) {
	if node <= 0 || node >= protocol.MaxNodes {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.keys[node]
	return key, key != ""
}

func (t *nodeTable) addr(node int) netip.AddrPort {
	if node <= 0 || node >= protocol.MaxNodes {
		return netip.AddrPort{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addrs[node]
}

func (t *nodeTable) release(node int) string {
	if node <= 0 || node >= protocol.MaxNodes {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	key := t.keys[node]
	if key != "" {
		delete(t.byKey, key)
	}
	t.keys[node] = ""
	t.addrs[node] = netip.AddrPort{}
	return key
}
