package security

import (
	"context"
	"time"

	"kartsync/server/logging"
)

const (
	EventChallengeIssued logging.EventType = "security.challenge_issued"
	EventSignatureFailed logging.EventType = "security.signature_failed"
	EventBanApplied      logging.EventType = "security.ban_applied"
	EventKickIssued      logging.EventType = "security.kick_issued"
)

type ChallengePayload struct {
	Players int `json:"players"`
}

type SignatureFailedPayload struct {
	Reason string `json:"reason"`
	Key    string `json:"key,omitempty"`
}

type BanPayload struct {
	Addr      string    `json:"addr"`
	Reason    string    `json:"reason"`
	Until     time.Time `json:"until,omitempty"`
	Permanent bool      `json:"permanent"`
}

type KickPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
	By      int    `json:"by"`
}

// ChallengeIssued marks the start of a challenge round. traceID ties the
// responses and any failures to the round.
func ChallengeIssued(ctx context.Context, pub logging.Publisher, tick uint64, payload ChallengePayload, traceID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventChallengeIssued,
		Tick:     tick,
		Actor:    logging.ServerRef(),
		Severity: logging.SeverityInfo,
		Category: logging.CategorySecurity,
		Payload:  payload,
		TraceID:  traceID,
	})
}

func SignatureFailed(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload SignatureFailedPayload, traceID string) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventSignatureFailed,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySecurity,
		Payload:  payload,
		TraceID:  traceID,
	})
}

func BanApplied(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload BanPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventBanApplied,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityWarn,
		Category: logging.CategorySecurity,
		Payload:  payload,
	})
}

func KickIssued(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload KickPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventKickIssued,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategorySecurity,
		Payload:  payload,
	})
}
