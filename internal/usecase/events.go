package usecase

import (
	"context"
	"encoding/json"
	"time"

	"salesagent/internal/domain"
)

// publishEvent publishes on bus when it is configured. Payloads that fail to
// marshal go out empty rather than blocking the turn.
func publishEvent(bus domain.EventBus, ctx context.Context, eventType domain.EventType, threadID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		ThreadID:  threadID,
		Payload:   raw,
	})
}
