package audit

import (
	"context"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/fleetops/orchestrator/internal/pkg/requestid"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger provides structured audit logging for the orchestrator's
// approval-gate, runner, and host-policy decisions.
type Logger struct {
	log zerolog.Logger
}

func New(log zerolog.Logger) *Logger {
	return &Logger{log: log.With().Bool("audit", true).Logger()}
}

func (l *Logger) JobCreated(ctx context.Context, jobID uuid.UUID, cmd domain.CommandType, approvalState domain.ApprovalState) {
	l.log.Info().
		Str("action", "job_created").
		Str("job_id", jobID.String()).
		Str("command_type", string(cmd)).
		Str("approval_state", string(approvalState)).
		Str("trace_id", getTraceID(ctx)).
		Msg("job intake")
}

func (l *Logger) JobApproved(ctx context.Context, jobID uuid.UUID) {
	l.log.Info().
		Str("action", "job_approved").
		Str("job_id", jobID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("job approved")
}

func (l *Logger) JobRejected(ctx context.Context, jobID uuid.UUID) {
	l.log.Warn().
		Str("action", "job_rejected").
		Str("job_id", jobID.String()).
		Str("trace_id", getTraceID(ctx)).
		Msg("job rejected")
}

func (l *Logger) ExecutionBlocked(ctx context.Context, executionID, hostID uuid.UUID, cmd domain.CommandType) {
	l.log.Warn().
		Str("action", "execution_blocked").
		Str("execution_id", executionID.String()).
		Str("host_id", hostID.String()).
		Str("command_type", string(cmd)).
		Str("trace_id", getTraceID(ctx)).
		Msg("execution blocked by host policy")
}

func (l *Logger) ExecutionRetried(ctx context.Context, executionID uuid.UUID, attempt int, hostLocked bool) {
	l.log.Info().
		Str("action", "execution_retried").
		Str("execution_id", executionID.String()).
		Int("attempt", attempt).
		Bool("host_locked", hostLocked).
		Str("trace_id", getTraceID(ctx)).
		Msg("execution scheduled for retry")
}

func (l *Logger) ExecutionFinished(ctx context.Context, executionID uuid.UUID, status domain.ExecutionStatus) {
	l.log.Info().
		Str("action", "execution_finished").
		Str("execution_id", executionID.String()).
		Str("status", string(status)).
		Str("trace_id", getTraceID(ctx)).
		Msg("execution finished")
}

func (l *Logger) HostBlockSet(ctx context.Context, hostID uuid.UUID, commands []domain.CommandType) {
	l.log.Info().
		Str("action", "host_block_set").
		Str("host_id", hostID.String()).
		Int("blocked_count", len(commands)).
		Str("trace_id", getTraceID(ctx)).
		Msg("host command blocks replaced")
}

func (l *Logger) OutboxPublished(ctx context.Context, jobID uuid.UUID) {
	l.log.Debug().
		Str("action", "outbox_published").
		Str("job_id", jobID.String()).
		Msg("outbox event published")
}

func (l *Logger) OutboxFailed(ctx context.Context, eventID uuid.UUID, attempts int) {
	l.log.Error().
		Str("action", "outbox_failed").
		Str("event_id", eventID.String()).
		Int("attempts", attempts).
		Msg("outbox event moved to FAILED")
}

func getTraceID(ctx context.Context) string {
	return requestid.GetRequestID(ctx)
}
