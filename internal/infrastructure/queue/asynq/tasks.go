// Package asynqadp adapts the orchestrator's three broker tasks onto
// hibiken/asynq: PLAN_JOB, RUN_EXECUTION, and the periodic PUBLISH_OUTBOX
// sweep.
package asynqadp

const (
	TaskPlanJob       = "PLAN_JOB"
	TaskRunExecution  = "RUN_EXECUTION"
	TaskPublishOutbox = "PUBLISH_OUTBOX"
)

// PlanJobPayload is the PLAN_JOB task body.
type PlanJobPayload struct {
	JobID string `json:"job_id"`
}

// RunExecutionPayload is the RUN_EXECUTION task body. LockRetries counts
// host-lock-contention re-deliveries separately from the execution's own
// attempts column, so a contended host can't burn through its failure
// budget just by losing the advisory lock race.
type RunExecutionPayload struct {
	ExecutionID string `json:"execution_id"`
	LockRetries int    `json:"lock_retries"`
}
