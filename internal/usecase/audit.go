package usecase

import (
	"context"
	"errors"
	"fmt"

	"heirloom/internal/domain"
)

type AuditEmitter struct {
	Clock Clock
}

func NewAuditEmitter(clock Clock) *AuditEmitter {
	return &AuditEmitter{Clock: clock}
}

// Emit appends event to its stream through repo, which is normally the caller's transaction.
// A nil emitter drops the event.
func (e *AuditEmitter) Emit(ctx context.Context, repo AuditEventRepository, event domain.AuditEvent) error {
	if e == nil {
		return nil
	}
	if repo == nil {
		return errors.New("audit repository required")
	}
	if event.StreamID == "" || event.EventType == "" {
		return errors.New("audit event missing stream_id or event_type")
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	if event.ActorType == "" {
		actor := ActorFrom(ctx)
		event.ActorType = actor.Type
		event.ActorIDHash = domain.HashString(actor.ID)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = nowFrom(e.Clock)
	}
	_, err := repo.Append(ctx, event)
	return err
}

// VerifyAuditChain walks a stream and checks sequence, linkage and hashes.
func VerifyAuditChain(ctx context.Context, repo AuditEventRepository, streamID string) error {
	if repo == nil {
		return errors.New("audit repository required")
	}
	if streamID == "" {
		return fmt.Errorf("%w: stream id is required", domain.ErrValidation)
	}
	events, err := repo.ListByStream(ctx, streamID)
	if err != nil {
		return err
	}
	expectedSeq := int64(1)
	prevHash := domain.ZeroAuditHash
	for _, event := range events {
		if event.StreamID != streamID {
			return fmt.Errorf("audit chain stream mismatch at seq %d", event.Seq)
		}
		if event.Seq != expectedSeq {
			return fmt.Errorf("audit chain seq mismatch: expected %d got %d", expectedSeq, event.Seq)
		}
		if event.PrevEventHash != prevHash {
			return fmt.Errorf("audit chain prev hash mismatch at seq %d", event.Seq)
		}
		payloadHash, err := domain.AuditPayloadHash(event.Payload)
		if err != nil {
			return fmt.Errorf("audit chain payload encode failed at seq %d: %w", event.Seq, err)
		}
		if payloadHash != event.PayloadHash {
			return fmt.Errorf("audit chain payload hash mismatch at seq %d", event.Seq)
		}
		expectedHash, err := event.ChainHash()
		if err != nil {
			return fmt.Errorf("audit chain hash compute failed at seq %d: %w", event.Seq, err)
		}
		if expectedHash != event.EventHash {
			return fmt.Errorf("audit chain hash mismatch at seq %d", event.Seq)
		}
		prevHash = event.EventHash
		expectedSeq++
	}
	return nil
}
