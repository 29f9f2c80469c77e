package network

import (
	"context"

	"kartsync/server/logging"
)

const (
	// EventAckAdvanced is emitted when a node acknowledges newer tics.
	EventAckAdvanced logging.EventType = "network.ack_advanced"
	// EventAckRegression is emitted when a node reports an older acknowledgement than previously recorded.
	EventAckRegression logging.EventType = "network.ack_regression"
	// EventPacketRejected is emitted when a datagram fails validation or arrives in the wrong state.
	EventPacketRejected logging.EventType = "network.packet_rejected"
	// EventTicsSent is emitted for every tic window sent to a node.
	EventTicsSent logging.EventType = "network.tics_sent"
	// EventPacketMissed is emitted by a client that saw a gap in the tic stream.
	EventPacketMissed logging.EventType = "network.packet_missed"
)

// AckPayload captures acknowledgement progression details.
type AckPayload struct {
	Previous uint64 `json:"previous"`
	Ack      uint64 `json:"ack"`
}

// PacketRejectedPayload names the packet and why it was dropped.
type PacketRejectedPayload struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

// TicsSentPayload describes one ServerTics packet.
type TicsSentPayload struct {
	First uint64 `json:"first"`
	Last  uint64 `json:"last"`
	Slots int    `json:"slots"`
	Bytes int    `json:"bytes"`
}

// PacketMissedPayload records where the stream broke.
type PacketMissedPayload struct {
	Needed uint64 `json:"needed"`
	Start  uint64 `json:"start"`
}

// AckAdvanced publishes a debug event when an acknowledgement advances.
func AckAdvanced(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAckAdvanced,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// AckRegression publishes a warning event when an acknowledgement regresses.
func AckRegression(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload AckPayload, extra map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAckRegression,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategoryNetwork,
		Payload:  payload,
		Extra:    extra,
	})
}

// PacketRejected publishes a debug event for a dropped datagram.
func PacketRejected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PacketRejectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPacketRejected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func TicsSent(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload TicsSentPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventTicsSent,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}

func PacketMissed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PacketMissedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPacketMissed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityDebug,
		Category: logging.CategoryNetwork,
		Payload:  payload,
	})
}
