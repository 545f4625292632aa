package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"heirloom/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Append seals event onto the end of its stream. The per-stream counter row is locked
// for the rest of the transaction so concurrent appends cannot fork the chain.
func (s *Store) Append(ctx context.Context, event domain.AuditEvent) (domain.AuditEvent, error) {
	if event.StreamID == "" || event.EventType == "" {
		return domain.AuditEvent{}, errors.New("audit event missing stream_id or event_type")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Payload == nil {
		event.Payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return domain.AuditEvent{}, err
	}

	var out domain.AuditEvent
	err = s.atomic(ctx, func(tx *gorm.DB) error {
		prev, err := lastAuditEvent(tx, event.StreamID)
		if err != nil {
			return err
		}
		sealed, err := event.Seal(prev)
		if err != nil {
			return err
		}
		model := auditEventModelFromDomain(sealed, payloadJSON)
		if err := tx.Create(&model).Error; err != nil {
			return mapErr(err, "audit stream", event.StreamID)
		}
		out = sealed
		return nil
	})
	if err != nil {
		return domain.AuditEvent{}, err
	}
	return out, nil
}

func (s *Store) ListByStream(ctx context.Context, streamID string) ([]domain.AuditEvent, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	var models []AuditEventModel
	if err := db.Where("stream_id = ?", streamID).Order("seq ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.AuditEvent, 0, len(models))
	for _, model := range models {
		event, err := auditEventFromModel(model)
		if err != nil {
			return nil, err
		}
		out = append(out, event)
	}
	return out, nil
}

// lastAuditEvent bumps the stream counter under a row lock and returns the event the new
// one links to, or nil when the stream is empty.
func lastAuditEvent(tx *gorm.DB, streamID string) (*domain.AuditEvent, error) {
	if err := tx.Exec(
		"INSERT INTO audit_stream_seq (stream_id, seq) VALUES (?, 0) ON CONFLICT (stream_id) DO NOTHING",
		streamID,
	).Error; err != nil {
		return nil, err
	}
	var currentSeq int64
	if err := tx.Raw(
		"SELECT seq FROM audit_stream_seq WHERE stream_id = ? FOR UPDATE",
		streamID,
	).Scan(&currentSeq).Error; err != nil {
		return nil, err
	}
	if err := tx.Exec(
		"UPDATE audit_stream_seq SET seq = ? WHERE stream_id = ?",
		currentSeq+1,
		streamID,
	).Error; err != nil {
		return nil, err
	}
	if currentSeq == 0 {
		return nil, nil
	}
	var prev AuditEventModel
	if err := tx.Where("stream_id = ? AND seq = ?", streamID, currentSeq).Take(&prev).Error; err != nil {
		return nil, fmt.Errorf("load audit event %d of %s: %w", currentSeq, streamID, err)
	}
	if prev.EventHash == "" {
		return nil, fmt.Errorf("missing previous event hash for stream %s", streamID)
	}
	return &domain.AuditEvent{Seq: prev.Seq, EventHash: prev.EventHash}, nil
}

func auditEventModelFromDomain(event domain.AuditEvent, payloadJSON []byte) AuditEventModel {
	return AuditEventModel{
		ID:            event.ID,
		StreamID:      event.StreamID,
		Seq:           event.Seq,
		EventType:     string(event.EventType),
		PayloadJSON:   payloadJSON,
		PayloadHash:   event.PayloadHash,
		ActorType:     string(event.ActorType),
		ActorIDHash:   stringPtrIfNotEmpty(event.ActorIDHash),
		TargetID:      stringPtrIfNotEmpty(event.TargetID),
		PrevEventHash: event.PrevEventHash,
		EventHash:     event.EventHash,
		CreatedAt:     event.CreatedAt.UTC(),
	}
}

func auditEventFromModel(model AuditEventModel) (domain.AuditEvent, error) {
	payload := map[string]any{}
	if len(model.PayloadJSON) > 0 {
		if err := json.Unmarshal(model.PayloadJSON, &payload); err != nil {
			return domain.AuditEvent{}, fmt.Errorf("decode audit payload seq %d: %w", model.Seq, err)
		}
	}
	return domain.AuditEvent{
		ID:            model.ID,
		StreamID:      model.StreamID,
		Seq:           model.Seq,
		EventType:     domain.AuditEventType(model.EventType),
		Payload:       payload,
		PayloadHash:   model.PayloadHash,
		ActorType:     domain.AuditActorType(model.ActorType),
		ActorIDHash:   stringValue(model.ActorIDHash),
		TargetID:      stringValue(model.TargetID),
		PrevEventHash: model.PrevEventHash,
		EventHash:     model.EventHash,
		CreatedAt:     model.CreatedAt.UTC(),
	}, nil
}
