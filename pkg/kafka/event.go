package kafka

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TopicPrefix namespaces every topic the auth service writes to.
const TopicPrefix = "auth"

// Topic joins the parts onto TopicPrefix: Topic("user", "registered") is
// "auth.user.registered".
func Topic(parts ...string) string {
	return strings.Join(append([]string{TopicPrefix}, parts...), ".")
}

// SchemaVersion is bumped on incompatible envelope changes.
const SchemaVersion = 1

// Event is the envelope written as every message value. Subject is the id
// of the entity the event is about and doubles as the partition key.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Subject       string          `json:"subject"`
	Time          time.Time       `json:"time"`
	SchemaVersion int             `json:"schemaVersion"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// NewEvent stamps a new envelope. A nil data leaves Data empty.
func NewEvent(source, eventType, subject string, data any) (*Event, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
		}
		raw = b
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Subject:       subject,
		Time:          time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Data:          raw,
	}, nil
}

func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
