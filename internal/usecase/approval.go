package usecase

import (
	"bytes"
	"context"
	"encoding/json"

	"salesagent/internal/domain"
)

// ApprovalGateway is the human-facing surface for pending sensitive tool
// calls. It exposes exactly three operations: inspect the pending call,
// approve it, or deny it with a reason. Everything else about the turn stays
// inside the orchestrator.
type ApprovalGateway struct {
	orch *Orchestrator
}

// NewApprovalGateway creates a gateway over the orchestrator.
func NewApprovalGateway(orch *Orchestrator) *ApprovalGateway {
	return &ApprovalGateway{orch: orch}
}

// GetPending returns the thread's pending approval, or ErrNoPendingApproval.
func (g *ApprovalGateway) GetPending(ctx context.Context, threadID string) (*domain.PendingApproval, error) {
	return g.orch.Pending(ctx, threadID)
}

// Approve executes the pending call and resumes the conversation. A second
// Approve for the same suspension finds nothing pending and reports
// ErrNoPendingApproval; the tool never runs twice.
func (g *ApprovalGateway) Approve(ctx context.Context, threadID string) (*TurnResult, error) {
	return g.orch.Approve(ctx, threadID)
}

// Deny rejects the pending call with a reason and resumes the conversation.
func (g *ApprovalGateway) Deny(ctx context.Context, threadID, reason string) (*TurnResult, error) {
	return g.orch.Deny(ctx, threadID, reason)
}

// DescribePending renders a pending call for display: the tool name and its
// arguments pretty-printed.
func (g *ApprovalGateway) DescribePending(p *domain.PendingApproval) string {
	var buf bytes.Buffer
	buf.WriteString(p.Call.Name)
	if len(p.Call.Arguments) > 0 {
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, p.Call.Arguments, "", "  "); err == nil {
			buf.WriteString("\n")
			buf.Write(pretty.Bytes())
		} else {
			buf.WriteString("\n")
			buf.Write(p.Call.Arguments)
		}
	}
	return buf.String()
}
