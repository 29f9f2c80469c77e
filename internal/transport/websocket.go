package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"kartsync/server/internal/protocol"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 25 * time.Second
)

// WebSocket carries one datagram per binary message. As a server it is
// mounted as an http.Handler; as a client it dials with Connect. Nodes stay
// reserved after their connection drops until CloseNode is called, so the
// session sees a silent peer and times it out as it would over UDP.
type WebSocket struct {
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	nodes    *nodeTable

	mu     sync.Mutex
	conns  map[int]*wsConn
	serial uint64

	inbox   chan Datagram
	dropped atomic.Uint64
	closed  atomic.Bool
}

type wsConn struct {
	conn    *websocket.Conn
	addr    netip.AddrPort
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *wsConn) write(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(kind, data)
}

func NewWebSocket() *WebSocket {
	return &WebSocket{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  protocol.MaxPacketLength,
			WriteBufferSize: protocol.MaxPacketLength,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		dialer: websocket.DefaultDialer,
		nodes:  newNodeTable(),
		conns:  make(map[int]*wsConn),
		inbox:  make(chan Datagram, udpQueue),
	}
}

// ServeHTTP upgrades the request and assigns the connection a node.
func (w *WebSocket) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.closed.Load() {
		http.Error(rw, "closed", http.StatusServiceUnavailable)
		return
	}
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		return
	}
	addr, _ := netip.ParseAddrPort(r.RemoteAddr)
	if _, err := w.attach(conn, addr); err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		conn.Close()
	}
}

// Connect dials a ws:// or wss:// URL.
func (w *WebSocket) Connect(ctx context.Context, url string) (int, error) {
	conn, resp, err := w.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", url, err)
	}
	var addr netip.AddrPort
	if remote := conn.RemoteAddr(); remote != nil {
		addr, _ = netip.ParseAddrPort(remote.String())
	}
	node, err := w.attach(conn, addr)
	if err != nil {
		conn.Close()
		return 0, err
	}
	return node, nil
}

func (w *WebSocket) attach(conn *websocket.Conn, addr netip.AddrPort) (int, error) {
	w.mu.Lock()
	w.serial++
	key := fmt.Sprintf("ws#%d@%s", w.serial, addr)
	w.mu.Unlock()

	node, err := w.nodes.lookup(key, netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port()), true)
	if err != nil {
		return 0, err
	}
	c := &wsConn{conn: conn, addr: addr, done: make(chan struct{})}
	w.mu.Lock()
	w.conns[node] = c
	w.mu.Unlock()

	conn.SetReadLimit(protocol.MaxPacketLength)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go w.pingLoop(c)
	go w.readLoop(node, c)
	return node, nil
}

func (w *WebSocket) pingLoop(c *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (w *WebSocket) readLoop(node int, c *wsConn) {
	defer c.close()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		select {
		case w.inbox <- Datagram{Node: node, Addr: c.addr, Data: data}:
		default:
			w.dropped.Add(1)
		}
	}
}

func (w *WebSocket) conn(node int) *wsConn {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conns[node]
}

func (w *WebSocket) Send(node int, data []byte) error {
	if w.closed.Load() {
		return ErrClosed
	}
	c := w.conn(node)
	if c == nil {
		return fmt.Errorf("%w: %d", ErrUnknownNode, node)
	}
	select {
	case <-c.done:
		return fmt.Errorf("transport: node %d disconnected", node)
	default:
	}
	return c.write(websocket.BinaryMessage, data)
}

func (w *WebSocket) Receive() (Datagram, bool) {
	select {
	case d := <-w.inbox:
		return d, true
	default:
		return Datagram{}, false
	}
}

// Dropped counts messages discarded because the queue was full.
func (w *WebSocket) Dropped() uint64 {
	return w.dropped.Load()
}

func (w *WebSocket) CloseNode(node int) {
	w.mu.Lock()
	c := w.conns[node]
	delete(w.conns, node)
	w.mu.Unlock()
	if c != nil {
		c.close()
	}
	w.nodes.release(node)
}

func (w *WebSocket) Addr(node int) netip.AddrPort {
	return w.nodes.addr(node)
}

func (w *WebSocket) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	w.mu.Lock()
	conns := w.conns
	w.conns = make(map[int]*wsConn)
	w.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	return nil
}
