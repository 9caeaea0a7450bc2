package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"popotte/internal/feed"
)

const (
	TopicChanges  = `popotte.changes`
	ConsumerGroup = `popotte`
)

// ChangeEvent is the record value written to the changes topic.
type ChangeEvent struct {
	Table     string    `json:"table"`
	Op        string    `json:"op"`
	RowID     string    `json:"id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func Encode(ev feed.Event) ([]byte, error) {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return json.Marshal(ChangeEvent{Table: ev.Table, Op: ev.Op, RowID: ev.RowID, CreatedAt: at})
}

func Decode(value []byte) (feed.Event, error) {
	var ce ChangeEvent
	if err := json.Unmarshal(value, &ce); err != nil {
		return feed.Event{}, fmt.Errorf("decode change event: %w", err)
	}
	if ce.Table == "" {
		return feed.Event{}, fmt.Errorf("decode change event: missing table")
	}
	if ce.Op == "" {
		ce.Op = feed.OpAny
	}
	return feed.Event{Table: ce.Table, Op: ce.Op, RowID: ce.RowID, At: ce.CreatedAt}, nil
}
