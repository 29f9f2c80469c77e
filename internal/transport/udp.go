package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"kartsync/server/internal/protocol"
)

const (
	udpBatch = 32
	udpQueue = 1024
)

// UDP is a datagram transport over an IPv4 socket. A reader goroutine
// pulls packets in batches and queues them for Receive.
type UDP struct {
	conn  *net.UDPConn
	pc    *ipv4.PacketConn
	nodes *nodeTable

	inbox   chan Datagram
	dropped atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// ListenUDP binds addr ("host:port", empty host for any interface).
func ListenUDP(addr string) (*UDP, error) {
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	u := &UDP{
		conn:  conn,
		pc:    ipv4.NewPacketConn(conn),
		nodes: newNodeTable(),
		inbox: make(chan Datagram, udpQueue),
	}
	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

// LocalAddr is the bound socket address.
func (u *UDP) LocalAddr() netip.AddrPort {
	if addr, ok := u.conn.LocalAddr().(*net.UDPAddr); ok {
		ap := addr.AddrPort()
		return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
	}
	return netip.AddrPort{}
}

// Dropped counts datagrams discarded because the queue was full or no
// node was free.
func (u *UDP) Dropped() uint64 {
	return u.dropped.Load()
}

func (u *UDP) readLoop() {
	defer u.wg.Done()
	msgs := make([]ipv4.Message, udpBatch)
	for i := range msgs {
		msgs[i].Buffers = [][]byte{make([]byte, protocol.MaxPacketLength)}
	}
	for {
		n, err := u.pc.ReadBatch(msgs, 0)
		if err != nil {
			if u.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		for i := 0; i < n; i++ {
			from, ok := msgs[i].Addr.(*net.UDPAddr)
			if !ok {
				continue
			}
			ap := from.AddrPort()
			ap = netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
			node, err := u.nodes.lookup(ap.String(), ap, true)
			if err != nil {
				u.dropped.Add(1)
				continue
			}
			data := append([]byte(nil), msgs[i].Buffers[0][:msgs[i].N]...)
			select {
			case u.inbox <- Datagram{Node: node, Addr: ap, Data: data}:
			default:
				u.dropped.Add(1)
			}
		}
	}
}

func (u *UDP) Send(node int, data []byte) error {
	if u.closed.Load() {
		return ErrClosed
	}
	ap := u.nodes.addr(node)
	if !ap.IsValid() {
		return fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	_, err := u.pc.WriteTo(data, nil, net.UDPAddrFromAddrPort(ap))
	return err
}

func (u *UDP) Receive() (Datagram, bool) {
	select {
	case d := <-u.inbox:
		return d, true
	default:
		return Datagram{}, false
	}
}

// Connect resolves a "host:port" peer and assigns it a node.
func (u *UDP) Connect(ctx context.Context, addr string) (int, error) {
	var resolver net.Resolver
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return 0, err
	}
	ips, err := resolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return 0, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return 0, fmt.Errorf("resolve %s: no IPv4 address", host)
	}
	portNum, err := net.LookupPort("udp", port)
	if err != nil {
		return 0, err
	}
	ap := netip.AddrPortFrom(ips[0].Unmap(), uint16(portNum))
	return u.nodes.lookup(ap.String(), ap, true)
}

func (u *UDP) CloseNode(node int) {
	u.nodes.release(node)
}

func (u *UDP) Addr(node int) netip.AddrPort {
	return u.nodes.addr(node)
}

func (u *UDP) Close() error {
	if !u.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := u.conn.Close()
	u.wg.Wait()
	return err
}
