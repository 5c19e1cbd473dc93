// Package notify publishes best-effort run-completion events once an
// orchestrator invocation reaches a terminal status.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
)

// RunCompleted is the event published to the run-completion topic.
type RunCompleted struct {
	RunID     string `json:"run_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
}

// Publisher publishes RunCompleted events. A nil *Publisher is valid and
// Publish becomes a no-op, matching the "disabled when unconfigured"
// convention used across this codebase's optional integrations.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher constructs a Publisher over the given brokers/topic. Pass an
// empty brokers list to disable notification entirely.
func NewPublisher(brokers []string, topic string) *Publisher {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
	return &Publisher{writer: writer}
}

// Publish writes a run-completion event. Errors are the caller's to log;
// Publish itself never panics on a nil Publisher or writer.
func (p *Publisher) Publish(ctx context.Context, ev RunCompleted) error {
	if p == nil || p.writer == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := kafka.Message{Key: []byte(ev.RunID), Value: payload, Time: time.Now()}
	return p.writer.WriteMessages(ctx, msg)
}

// Close shuts down the underlying writer, if any.
func (p *Publisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
