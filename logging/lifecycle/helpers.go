package lifecycle

import (
	"context"

	"kartsync/server/logging"
)

const (
	// EventNodeAdded is emitted when a node is admitted to the game.
	EventNodeAdded logging.EventType = "lifecycle.node_added"
	// EventPlayerJoined is emitted when a player slot is filled.
	EventPlayerJoined logging.EventType = "lifecycle.player_joined"
	// EventPlayerRemoved is emitted when a player slot is freed.
	EventPlayerRemoved logging.EventType = "lifecycle.player_removed"
	// EventJoinRefused is emitted when the server turns a join down.
	EventJoinRefused logging.EventType = "lifecycle.join_refused"
	// EventJoinState is emitted when a client's connection state changes.
	EventJoinState logging.EventType = "lifecycle.join_state"
)

type NodeAddedPayload struct {
	Addr    string `json:"addr"`
	Players int    `json:"players"`
}

// PlayerJoinedPayload identifies the new player.
type PlayerJoinedPayload struct {
	Node  int    `json:"node"`
	Split int    `json:"split"`
	Name  string `json:"name"`
	Key   string `json:"key,omitempty"`
	Admin bool   `json:"admin,omitempty"`
}

// PlayerRemovedPayload captures the reason a player left.
type PlayerRemovedPayload struct {
	Reason string `json:"reason"`
}

type JoinRefusedPayload struct {
	Addr   string `json:"addr"`
	Reason string `json:"reason"`
}

type JoinStatePayload struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Event string `json:"event"`
}

func publish(ctx context.Context, pub logging.Publisher, event logging.Event) {
	if pub == nil {
		return
	}
	event.Category = logging.CategoryLifecycle
	pub.Publish(ctx, event)
}

func NodeAdded(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload NodeAddedPayload, traceID string) {
	publish(ctx, pub, logging.Event{Type: EventNodeAdded, Tick: tick, Actor: actor, Severity: logging.SeverityInfo, Payload: payload, TraceID: traceID})
}

func PlayerJoined(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerJoinedPayload) {
	publish(ctx, pub, logging.Event{Type: EventPlayerJoined, Tick: tick, Actor: actor, Severity: logging.SeverityInfo, Payload: payload})
}

func PlayerRemoved(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PlayerRemovedPayload) {
	publish(ctx, pub, logging.Event{Type: EventPlayerRemoved, Tick: tick, Actor: actor, Severity: logging.SeverityInfo, Payload: payload})
}

// JoinRefused is a warning: repeated refusals from one address usually
// mean a misconfigured or hostile client.
func JoinRefused(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload JoinRefusedPayload, traceID string) {
	publish(ctx, pub, logging.Event{Type: EventJoinRefused, Tick: tick, Actor: actor, Severity: logging.SeverityWarn, Payload: payload, TraceID: traceID})
}

func JoinState(ctx context.Context, pub logging.Publisher, tick uint64, payload JoinStatePayload, traceID string) {
	publish(ctx, pub, logging.Event{Type: EventJoinState, Tick: tick, Actor: logging.ServerRef(), Severity: logging.SeverityDebug, Payload: payload, TraceID: traceID})
}
