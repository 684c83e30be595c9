package publishrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// Workflow publishes one channel version and then runs its license audit.
// The publish activity is not retried automatically: the version counter
// must only advance once, and the export-before-commit contract inside the
// service already makes a failed attempt safe to re-trigger explicitly.
func Workflow(ctx workflow.Context, in Input) error {
	if strings.TrimSpace(in.ChannelID) == "" {
		return fmt.Errorf("publishrun: missing channel_id")
	}

	publishCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 1 * time.Hour,
		HeartbeatTimeout:    1 * time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var out PublishResult
	if err := workflow.ExecuteActivity(publishCtx, ActivityPublish, in.ChannelID).Get(ctx, &out); err != nil {
		return err
	}

	// The audit converges on re-run, so transient failures retry freely.
	auditCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 15 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    5,
		},
	})
	return workflow.ExecuteActivity(auditCtx, ActivityAudit, in.ChannelID, out.Version).Get(ctx, nil)
}
