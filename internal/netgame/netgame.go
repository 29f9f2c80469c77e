// Package netgame runs a lockstep session. The Server collects every
// player's tic commands, fixes the authoritative order and broadcasts it;
// the Client joins, sends its local input and simulates exactly what the
// server broadcast.
package netgame

import (
	"context"
	"errors"
	"fmt"

	"kartsync/server/internal/consistency"
	"kartsync/server/internal/protocol"
	"kartsync/server/internal/telemetry"
	"kartsync/server/internal/ticcmd"
	"kartsync/server/internal/tics"
	"kartsync/server/internal/transport"
	"kartsync/server/logging"
	"kartsync/server/logging/network"
)

var (
	// ErrShutdown is returned once the session has been ended on purpose,
	// e.g. an admin kicked the hosting player.
	ErrShutdown = errors.New("netgame: session shut down")
	// ErrNotConnected is returned by client operations that need a server.
	ErrNotConnected = errors.New("netgame: not connected")
	// ErrAborted is returned by Client.NetUpdate after the connection was
	// given up; the machine's reason says why.
	ErrAborted = errors.New("netgame: connection aborted")
)

// Game is the deterministic simulation driven by the session.
type Game interface {
	// RunTic advances one tic with one command per player slot.
	RunTic(tic tics.Tic, cmds []ticcmd.Command)
	ConsistencyState() consistency.State
	// InLevel reports active play; consistency and signature rounds only
	// run in a level.
	InLevel() bool
	// LevelTime counts tics since the current level started.
	LevelTime() tics.Tic
	Save() ([]byte, error)
	Load(data []byte) error
}

// Bots provides commands for bot-controlled slots.
type Bots interface {
	BotCommand(player int, tic tics.Tic) ticcmd.Command
}

// FileChecker reconciles the add-on files a server runs with the local
// install. A nil FileChecker means there is nothing to check.
type FileChecker interface {
	Missing(info protocol.ServerInfo) ([]string, error)
	Fetch(ctx context.Context, names []string) error
}

// link wraps a transport with the per-node header counters and traffic
// accounting shared by both ends.
type link struct {
	tr      transport.Transport
	metrics telemetry.Metrics
	logger  telemetry.Logger
	pub     logging.Publisher

	ack       [protocol.MaxNodes]uint8
	ackReturn [protocol.MaxNodes]uint8
}

// send frames payload as kind and hands it to the transport. Node 0 is the
// local machine and never goes on the wire.
func (l *link) send(node int, kind protocol.Kind, payload []byte) error {
	if node == 0 {
		return nil
	}
	if node < 0 || node >= protocol.MaxNodes {
		return fmt.Errorf("send %s: node %d out of range", kind, node)
	}
	l.ack[node]++
	if l.ack[node] == 0 {
		l.ack[node] = 1
	}
	datagram, err := protocol.Encode(kind, l.ack[node], l.ackReturn[node], payload)
	if err != nil {
		return err
	}
	if err := l.tr.Send(node, datagram); err != nil {
		return fmt.Errorf("send %s to node %d: %w", kind, node, err)
	}
	l.metrics.Add(telemetry.KeyPacketsOut, 1)
	l.metrics.Add(telemetry.KeyBytesOut, uint64(len(datagram)))
	return nil
}

// sendLogged is send for packets whose loss the protocol tolerates.
func (l *link) sendLogged(node int, kind protocol.Kind, payload []byte) {
	if err := l.send(node, kind, payload); err != nil {
		l.logger.Printf("%v", err)
	}
}

// inbound is one received datagram. err holds a decode failure; the
// caller decides whether the sender is closed for it.
type inbound struct {
	node int
	pkt  protocol.Packet
	err  error
}

// receive pulls the next datagram. Decode failures are counted and
// returned with whatever header could be read.
func (l *link) receive(ctx context.Context, tick tics.Tic) (inbound, bool) {
	dgram, ok := l.tr.Receive()
	if !ok {
		return inbound{}, false
	}
	l.metrics.Add(telemetry.KeyPacketsIn, 1)
	pkt, err := protocol.Decode(dgram.Data)
	if err != nil {
		l.reject(ctx, tick, dgram.Node, pkt.Kind(), err.Error())
		return inbound{node: dgram.Node, pkt: pkt, err: err}, true
	}
	if dgram.Node >= 0 && dgram.Node < protocol.MaxNodes {
		l.ackReturn[dgram.Node] = pkt.Header.Ack
	}
	return inbound{node: dgram.Node, pkt: pkt}, true
}

func (l *link) reject(ctx context.Context, tick tics.Tic, node int, kind protocol.Kind, reason string) {
	l.metrics.Add(telemetry.KeyPacketsRejected, 1)
	network.PacketRejected(ctx, l.pub, uint64(tick), logging.NodeRef(node), network.PacketRejectedPayload{
		Kind:   kind.String(),
		Reason: reason,
	})
}

// forget resets the counters of a closed node.
func (l *link) forget(node int) {
	if node <= 0 || node >= protocol.MaxNodes {
		return
	}
	l.ack[node] = 0
	l.ackReturn[node] = 0
	l.tr.CloseNode(node)
}
