package extractor

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Message is a queue envelope carrying an inner payload
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	PublishTime time.Time
}

// Queue unwraps queue messages and hands the body to an inner extractor.
// Transport metadata is merged into the inner result.
type Queue struct {
	inner Extractor
}

// NewQueue wraps inner for queue delivery
func NewQueue(inner Extractor) *Queue {
	return &Queue{inner: inner}
}

// Name reports the inner extractor name with a queue prefix
func (q *Queue) Name() string {
	return "queue:" + q.inner.Name()
}

// Extract treats payload as a bare message body
func (q *Queue) Extract(ctx context.Context, payload []byte) (*Extracted, error) {
	return q.ExtractMessage(ctx, Message{Data: payload})
}

// ExtractMessage extracts the message body and records transport metadata
func (q *Queue) ExtractMessage(ctx context.Context, msg Message) (*Extracted, error) {
	out, err := q.inner.Extract(ctx, msg.Data)
	if err != nil {
		if msg.ID != "" {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		return nil, err
	}

	out.Metadata.MessageID = msg.ID
	out.Metadata.PublishTime = msg.PublishTime
	if len(msg.Attributes) > 0 {
		out.Metadata.Attributes = maps.Clone(msg.Attributes)
	}
	return out, nil
}
