package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/solenne/signet/idgen"
)

// Business event types emitted by the ingestion pipeline.
const (
	EventIngestQueued    = "ingest_queued"
	EventIngestSucceeded = "ingest_succeeded"
	EventIngestFailed    = "ingest_failed"
	EventManualReview    = "manual_review"
	EventQualityGated    = "quality_gated"
	EventEmbedded        = "embedded"
)

// Event is one business milestone.
type Event struct {
	ID        string
	Type      string
	UserID    string
	SubjectID string
	Detail    map[string]any
	CreatedAt time.Time
}

// EventLogger persists business events asynchronously so the pipeline never
// blocks on bookkeeping.
type EventLogger struct {
	store *Store
	newID idgen.Generator
	ch    chan *Event
	done  chan struct{}
}

// NewEventLogger starts the async writer. Recommended bufferSize: 256.
func NewEventLogger(s *Store, bufferSize int) *EventLogger {
	l := &EventLogger{
		store: s,
		newID: idgen.Prefixed("evt_", idgen.Default),
		ch:    make(chan *Event, bufferSize),
		done:  make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

// Log queues an event. Drops it with a warning when the buffer is full:
// business events are visibility, not ledger.
func (l *EventLogger) Log(eventType, userID, subjectID string, detail map[string]any) {
	ev := &Event{
		ID:        l.newID(),
		Type:      eventType,
		UserID:    userID,
		SubjectID: subjectID,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	select {
	case l.ch <- ev:
	default:
		slog.Warn("store: event buffer full, dropping", "type", eventType, "subject", subjectID)
	}
}

// Close drains pending events and stops the writer.
func (l *EventLogger) Close() {
	close(l.ch)
	<-l.done
}

func (l *EventLogger) flushLoop() {
	defer close(l.done)
	for ev := range l.ch {
		if err := l.insert(context.Background(), ev); err != nil {
			slog.Error("store: event insert failed", "type", ev.Type, "error", err)
		}
	}
}

func (l *EventLogger) insert(ctx context.Context, ev *Event) error {
	detail := "{}"
	if len(ev.Detail) > 0 {
		b, err := json.Marshal(ev.Detail)
		if err != nil {
			return fmt.Errorf("store: marshal event detail: %w", err)
		}
		detail = string(b)
	}
	_, err := l.store.DB.ExecContext(ctx, `
		INSERT INTO business_events (id, event_type, user_id, subject_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Type, ev.UserID, ev.SubjectID, detail, ev.CreatedAt.UnixMilli())
	return err
}

// ListEvents returns recent events of one type, newest first.
func (s *Store) ListEvents(ctx context.Context, eventType string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, event_type, user_id, subject_id, detail, created_at
		FROM business_events WHERE event_type = ?
		ORDER BY created_at DESC LIMIT ?`, eventType, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var ev Event
		var detail string
		var creAt int64
		if err := rows.Scan(&ev.ID, &ev.Type, &ev.UserID, &ev.SubjectID, &detail, &creAt); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(detail), &ev.Detail); err != nil {
			return nil, fmt.Errorf("store: decode event detail: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(creAt)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
