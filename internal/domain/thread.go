package domain

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Position marks where a thread's state machine is waiting to run next.
type Position string

const (
	// PositionIdle means no turn is in flight.
	PositionIdle Position = "idle"
	// PositionSuspended means the thread is parked on a sensitive tool
	// call awaiting a human decision.
	PositionSuspended Position = "suspended"
)

// Thread is the unit of conversation identity and the sole unit of
// checkpointing. It is created on first interaction and lives for the
// session; stale threads are reaped by the maintenance schedule.
type Thread struct {
	ID         string           `json:"id"`
	CustomerID string           `json:"customer_id"`
	Messages   []Message        `json:"messages"`
	Position   Position         `json:"position"`
	Pending    *PendingApproval `json:"pending,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// PendingApproval is the suspended record of a sensitive tool call awaiting
// a human decision. At most one exists per thread at any time.
type PendingApproval struct {
	ThreadID string   `json:"thread_id"`
	Call     ToolCall `json:"call"`
	// Snapshot digests the thread's message history at suspension time.
	// Approval is refused when the digest no longer matches, so a decision
	// can never be applied to a thread that advanced by other means.
	Snapshot  string    `json:"snapshot"`
	CreatedAt time.Time `json:"created_at"`
}

// NewThread creates an empty thread for the given customer.
func NewThread(id, customerID string) *Thread {
	now := time.Now()
	return &Thread{
		ID:         id,
		CustomerID: customerID,
		Messages:   make([]Message, 0),
		Position:   PositionIdle,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Append adds a message and updates the thread timestamp.
func (t *Thread) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = time.Now()
}

// Clone returns a deep copy. The orchestrator mutates a clone during a turn
// and persists it only when the turn fully resolves, so a failed turn never
// leaves the stored thread half-updated.
func (t *Thread) Clone() *Thread {
	cp := *t
	cp.Messages = make([]Message, len(t.Messages))
	copy(cp.Messages, t.Messages)
	if t.Pending != nil {
		p := *t.Pending
		cp.Pending = &p
	}
	return &cp
}

// Digest returns a content hash of the message history, used as the
// PendingApproval snapshot.
func (t *Thread) Digest() string {
	h := sha256.New()
	for _, m := range t.Messages {
		b, _ := json.Marshal(m)
		h.Write(b)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckpointStore persists threads. A Save must be durably visible to the
// next Load for the same thread id before the caller reports the turn
// complete; no cross-thread guarantee is required.
type CheckpointStore interface {
	// Load returns the stored thread, or a fresh empty one on first use.
	Load(ctx context.Context, threadID, customerID string) (*Thread, error)
	// Get returns the stored thread or ErrThreadNotFound.
	Get(ctx context.Context, threadID string) (*Thread, error)
	// Save atomically replaces the thread's persisted record.
	Save(ctx context.Context, t *Thread) error
}
