package resync

import (
	"context"

	"kartsync/server/logging"
)

const (
	// EventResendScheduled is emitted when a node's reported state diverged and it will get a snapshot.
	EventResendScheduled logging.EventType = "resync.resend_scheduled"
	// EventSnapshotSent is emitted once every fragment of a snapshot is on the wire.
	EventSnapshotSent logging.EventType = "resync.snapshot_sent"
	// EventResyncCompleted is emitted when a node confirms it reloaded.
	EventResyncCompleted logging.EventType = "resync.completed"
	// EventResyncKick is emitted when a node ran out of resync attempts.
	EventResyncKick logging.EventType = "resync.kick"
	// EventFragmentsResent is emitted when a node asked again for snapshot fragments.
	EventFragmentsResent logging.EventType = "resync.fragments_resent"
	// EventResyncExpired is emitted when a node did not confirm a resync in time.
	EventResyncExpired logging.EventType = "resync.expired"
)

// DivergencePayload compares the two values for the reported tic.
type DivergencePayload struct {
	Tic     uint64 `json:"tic"`
	Local   int16  `json:"local"`
	Remote  int16  `json:"remote"`
	Attempt int    `json:"attempt"`
}

type SnapshotPayload struct {
	Tic       uint64 `json:"tic"`
	Bytes     int    `json:"bytes"`
	Fragments int    `json:"fragments"`
	Packed    int    `json:"packed"`
}

type FragmentsPayload struct {
	Tic       uint64 `json:"tic"`
	Requested int    `json:"requested"`
	Resent    int    `json:"resent"`
}

type ExpiredPayload struct {
	Attempt int  `json:"attempt"`
	Sending bool `json:"sending"`
}

func emit(ctx context.Context, pub logging.Publisher, typ logging.EventType, sev logging.Severity, tick uint64, actor logging.EntityRef, payload any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     typ,
		Tick:     tick,
		Actor:    actor,
		Severity: sev,
		Category: logging.CategoryResync,
		Payload:  payload,
	})
}

func ResendScheduled(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DivergencePayload) {
	emit(ctx, pub, EventResendScheduled, logging.SeverityWarn, tick, actor, payload)
}

func SnapshotSent(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SnapshotPayload) {
	emit(ctx, pub, EventSnapshotSent, logging.SeverityInfo, tick, actor, payload)
}

func ResyncCompleted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef) {
	emit(ctx, pub, EventResyncCompleted, logging.SeverityInfo, tick, actor, nil)
}

func ResyncKick(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload DivergencePayload) {
	emit(ctx, pub, EventResyncKick, logging.SeverityError, tick, actor, payload)
}

func FragmentsResent(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload FragmentsPayload) {
	emit(ctx, pub, EventFragmentsResent, logging.SeverityDebug, tick, actor, payload)
}

func ResyncExpired(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload ExpiredPayload) {
	emit(ctx, pub, EventResyncExpired, logging.SeverityWarn, tick, actor, payload)
}
