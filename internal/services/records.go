package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/achievehub/apiserver/internal/logger"
	"github.com/achievehub/apiserver/internal/records"
	"github.com/achievehub/apiserver/internal/store"
)

const syncEventChannel = "record-sync"

// RecordRepository defines persistence operations for record collections.
type RecordRepository interface {
	ListByUser(ctx context.Context, c records.Collection, userID int) ([]store.StoredRecord, error)
	ReplaceAll(ctx context.Context, c records.Collection, userID int, rows []store.StoredRecord) error
}

// EventPublisher sends a message to the named channel. Satisfied by mq.MQ.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// RecordService encapsulates the full-replace sync and list use-cases.
type RecordService struct {
	repo   RecordRepository
	events EventPublisher
	log    *logger.Logger
}

// NewRecordService constructs a RecordService. events may be nil to disable
// sync event publishing.
func NewRecordService(repo RecordRepository, events EventPublisher, log *logger.Logger) *RecordService {
	if log == nil {
		log = logger.Nop()
	}
	return &RecordService{
		repo:   repo,
		events: events,
		log:    log,
	}
}

// List returns the user's records for one collection in stored order, each
// reassembled into the flat wire shape.
func (s *RecordService) List(ctx context.Context, c records.Collection, userID int) ([]records.Record, error) {
	rows, err := s.repo.ListByUser(ctx, c, userID)
	if err != nil {
		return nil, err
	}

	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, c.Merge(row.Known, row.Extra))
	}
	return out, nil
}

// Sync replaces every record the user owns in the collection with the
// submitted sequence. Records omitted from the sequence are discarded; this
// is a replace, not a merge. Returns the number of stored records.
func (s *RecordService) Sync(ctx context.Context, c records.Collection, userID int, recs []records.Record) (int, error) {
	rows := make([]store.StoredRecord, 0, len(recs))
	for _, rec := range recs {
		known, extra := c.Split(rec)
		rows = append(rows, store.StoredRecord{Known: known, Extra: extra})
	}

	if err := s.repo.ReplaceAll(ctx, c, userID, rows); err != nil {
		return 0, err
	}

	s.publishSyncEvent(ctx, c, userID, len(rows))
	return len(rows), nil
}

type syncEvent struct {
	UserID     int       `json:"user_id"`
	Collection string    `json:"collection"`
	Count      int       `json:"count"`
	SyncedAt   time.Time `json:"synced_at"`
}

// publishSyncEvent notifies downstream consumers of a committed sync.
// Publish failures are logged, never surfaced to the client.
func (s *RecordService) publishSyncEvent(ctx context.Context, c records.Collection, userID, count int) {
	if s.events == nil {
		return
	}

	data, err := json.Marshal(syncEvent{
		UserID:     userID,
		Collection: c.Name,
		Count:      count,
		SyncedAt:   time.Now(),
	})
	if err != nil {
		return
	}

	if _, err := s.events.Publish(ctx, syncEventChannel, data, map[string]string{"collection": c.Name}); err != nil {
		s.log.Warn().Err(err).Str("collection", c.Name).Msg("failed to publish sync event")
	}
}
