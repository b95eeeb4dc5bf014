package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/workflu/workflu/internal/approvals"
)

// ApprovalNotifier bridges the approval workflow into the delivery engine.
// Requests and escalations go to the admin group, decisions go back to the
// requester. Delivery failures are logged, never propagated: a notification
// problem must not fail the approval itself.
type ApprovalNotifier struct {
	service  *Service
	adminIDs []int64
	logger   *slog.Logger
}

// NewApprovalNotifier constructs the adapter.
func NewApprovalNotifier(service *Service, adminIDs []int64, logger *slog.Logger) *ApprovalNotifier {
	return &ApprovalNotifier{service: service, adminIDs: adminIDs, logger: logger}
}

func (n *ApprovalNotifier) ApprovalRequested(ctx context.Context, approval approvals.PendingApproval) {
	n.service.SendBulk(ctx, n.adminIDs, SendInput{
		TemplateKey: "approval-required",
		Data: map[string]string{
			"operationType":   string(approval.OperationType),
			"requestedByName": approval.RequestedByName,
			"amount":          fmt.Sprintf("%.2f", approval.Amount),
			"currency":        "USD",
		},
		EntityType: "pending_approval",
		EntityID:   approval.ID.String(),
		ActionURL:  "/approvals/" + approval.ID.String(),
		Channels:   []ChannelKind{ChannelInApp, ChannelEmail},
	})
}

func (n *ApprovalNotifier) ApprovalDecided(ctx context.Context, approval approvals.PendingApproval) {
	note := ""
	if approval.DecisionNote != "" {
		note = ": " + approval.DecisionNote
	}
	if _, err := n.service.Send(ctx, SendInput{
		UserID:      approval.RequestedBy,
		TemplateKey: "approval-decided",
		Data: map[string]string{
			"operationType": string(approval.OperationType),
			"decision":      string(approval.Status),
			"amount":        fmt.Sprintf("%.2f", approval.Amount),
			"currency":      "USD",
			"decisionNote":  note,
		},
		EntityType: "pending_approval",
		EntityID:   approval.ID.String(),
	}); err != nil {
		n.logger.Warn("notify approval decision", slog.Any("error", err))
	}
}

func (n *ApprovalNotifier) ApprovalEscalated(ctx context.Context, approval approvals.PendingApproval) {
	for _, adminID := range n.adminIDs {
		if _, err := n.service.Send(ctx, SendInput{
			UserID:      adminID,
			TemplateKey: "approval-escalated",
			Data: map[string]string{
				"operationType":   string(approval.OperationType),
				"requestedByName": approval.RequestedByName,
			},
			EntityType: "pending_approval",
			EntityID:   approval.ID.String(),
			ActionURL:  "/approvals/" + approval.ID.String(),
		}); err != nil {
			n.logger.Warn("notify approval escalation", slog.Any("error", err))
		}
	}
}
