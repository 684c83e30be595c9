package temporalx

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/learningequality/studio-sub002/internal/logger"
	"github.com/learningequality/studio-sub002/internal/temporalx/publishrun"
)

// Runner hosts the Temporal worker that serves the publish workflow.
type Runner struct {
	log        *logger.Logger
	tc         temporalsdkclient.Client
	activities *publishrun.Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, activities *publishrun.Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if activities == nil {
		return nil, fmt.Errorf("temporal worker missing activities")
	}
	return &Runner{log: log, tc: tc, activities: activities}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	cfg := LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal worker", "namespace", cfg.Namespace, "task_queue", cfg.TaskQueue)
	}

	w := worker.New(r.tc, cfg.TaskQueue, worker.Options{})
	w.RegisterWorkflowWithOptions(publishrun.Workflow, workflow.RegisterOptions{Name: publishrun.WorkflowName})
	w.RegisterActivityWithOptions(r.activities.Publish, activity.RegisterOptions{Name: publishrun.ActivityPublish})
	w.RegisterActivityWithOptions(r.activities.Audit, activity.RegisterOptions{Name: publishrun.ActivityAudit})

	backoff := durationMillisFromEnv("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := durationMillisFromEnv("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)
	deadline := time.Now().Add(durationSecondsFromEnv("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60))

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			return nil
		}
		w.Stop()
		if time.Now().After(deadline) {
			return fmt.Errorf("temporal worker start: %w", startErr)
		}
		if r.log != nil {
			r.log.Warn("Temporal worker start retrying", "attempt", attempt, "error", startErr)
		}
		time.Sleep(clampBackoff(backoff, backoffMax, attempt))
	}
}

// StartPublishWorkflow triggers (or joins) the publish workflow for one
// channel. The fixed workflow id collapses concurrent publish requests.
func StartPublishWorkflow(ctx context.Context, tc temporalsdkclient.Client, channelID string) error {
	if tc == nil {
		return fmt.Errorf("temporal client is not configured")
	}
	cfg := LoadConfig()
	_, err := tc.ExecuteWorkflow(ctx, temporalsdkclient.StartWorkflowOptions{
		ID:                       "publish:" + channelID,
		TaskQueue:                cfg.TaskQueue,
		WorkflowExecutionTimeout: 2 * time.Hour,
	}, publishrun.WorkflowName, publishrun.Input{ChannelID: channelID})
	return err
}
