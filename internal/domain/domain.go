// Package domain holds the orchestrator's core types: the Job and Execution
// state machines, the outbox record, host policy blocks, and the Store
// interface every transport and worker depends on.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type CommandType string

const (
	CommandPing           CommandType = "PING"
	CommandRestartService CommandType = "RESTART_SERVICE"
	CommandDeploy         CommandType = "DEPLOY"
	CommandRunScript      CommandType = "RUN_SCRIPT"
)

// RequiresApproval reports whether command must be human-approved before planning.
func (c CommandType) RequiresApproval() bool {
	switch c {
	case CommandRestartService, CommandDeploy, CommandRunScript:
		return true
	default:
		return false
	}
}

func (c CommandType) Valid() bool {
	switch c {
	case CommandPing, CommandRestartService, CommandDeploy, CommandRunScript:
		return true
	default:
		return false
	}
}

type JobStatus string

const (
	JobNew     JobStatus = "NEW"
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobFailed  JobStatus = "FAILED"
	JobPartial JobStatus = "PARTIAL"
)

type ApprovalState string

const (
	ApprovalNone         ApprovalState = ""
	ApprovalWaitApproval ApprovalState = "WAIT_APPROVAL"
	ApprovalApproved     ApprovalState = "APPROVED"
	ApprovalRejected     ApprovalState = "REJECTED"
)

type ExecutionStatus string

const (
	ExecutionNew       ExecutionStatus = "NEW"
	ExecutionQueued    ExecutionStatus = "QUEUED"
	ExecutionRunning   ExecutionStatus = "RUNNING"
	ExecutionSuccess   ExecutionStatus = "SUCCESS"
	ExecutionFailed    ExecutionStatus = "FAILED"
	ExecutionCancelled ExecutionStatus = "CANCELLED"
	ExecutionTimeout   ExecutionStatus = "TIMEOUT"
	ExecutionBlocked   ExecutionStatus = "BLOCKED"
)

// Terminal reports whether status is absorbing.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCancelled, ExecutionTimeout, ExecutionBlocked:
		return true
	default:
		return false
	}
}

type OutboxStatus string

const (
	OutboxNew   OutboxStatus = "NEW"
	OutboxSent  OutboxStatus = "SENT"
	OutboxFailed OutboxStatus = "FAILED"
)

type OutboxEventType string

const (
	EventPlanJob OutboxEventType = "PLAN_JOB"
)

type Host struct {
	HostID   uuid.UUID
	Hostname string
	Metadata map[string]any
}

type Job struct {
	JobID         uuid.UUID
	ExternalID    string
	Signature     string
	Selector      Selector
	Payload       map[string]any
	CommandType   CommandType
	Status        JobStatus
	ApprovalState ApprovalState
	CreatedAt     time.Time
}

// Selector names the target hosts for a job: either all hosts, or an
// explicit hostname list.
type Selector struct {
	All       bool     `json:"all,omitempty"`
	Hostnames []string `json:"hostnames,omitempty"`
}

type Execution struct {
	ExecutionID uuid.UUID
	JobID       uuid.UUID
	HostID      uuid.UUID
	Hostname    string
	Status      ExecutionStatus
	Attempts    int
	CreatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
}

type ExecutionLog struct {
	ExecutionID uuid.UUID
	TS          time.Time
	Line        string
}

type HostCommandBlock struct {
	HostID      uuid.UUID
	CommandType CommandType
}

type OutboxEvent struct {
	EventID   uuid.UUID
	EventType OutboxEventType
	JobID     uuid.UUID
	Status    OutboxStatus
	Attempts  int
	CreatedAt time.Time
	SentAt    *time.Time
}

// JobSummary is the advisory roll-up computed by component G.
type JobSummary string

const (
	SummaryEmpty   JobSummary = "EMPTY"
	SummarySuccess JobSummary = "SUCCESS"
	SummaryFailed  JobSummary = "FAILED"
	SummaryPartial JobSummary = "PARTIAL"
	SummaryQueued  JobSummary = "QUEUED"
	SummaryRunning JobSummary = "RUNNING"
	SummaryNew     JobSummary = "NEW"
)

// Outcome is a tagged retry-or-done value for one runner attempt (spec design
// note: model retry-as-exception control flow as a return value instead).
// The service runner does not return it: it re-enqueues retries itself
// through service.Queue and returns an error.
type Outcome struct {
	Done         bool
	RetryAfter   time.Duration
	HostLocked   bool // true when the retry is due to lock contention, not a failed attempt
}

var (
	ErrJobNotFound        = errors.New("job not found")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrHostNotFound       = errors.New("host not found")
	ErrMissingHosts       = errors.New("missing hosts")
	ErrApprovalConflict   = errors.New("job not waiting for approval")
	ErrAlreadyApproved    = errors.New("job already approved")
	ErrAlreadyRejected    = errors.New("job already rejected")
	ErrInvalidCommandType = errors.New("invalid command_type")
	ErrInvalidSelector    = errors.New("invalid selector")
)

// JobDetail is the read model returned for GET /jobs/{job_id}/.
type JobDetail struct {
	Job              Job
	ExecutionsTotal  int
	ExecutionsByStat map[ExecutionStatus]int
	Summary          JobSummary
}

// Store is the durable record of hosts, jobs, executions, logs, and
// outbox events (component A). Every method is a bounded sequence of one
// or more transactions; no method holds a transaction open across a
// broker call.
type Store interface {
	// Job Intake (B)
	CreateJob(ctx context.Context, in CreateJobInput) (uuid.UUID, error)

	// Approval Gate (C)
	ApproveJob(ctx context.Context, jobID uuid.UUID) (enqueued bool, err error)
	RejectJob(ctx context.Context, jobID uuid.UUID) (Job, error)

	// Outbox Publisher (D)
	DrainOutbox(ctx context.Context, batchSize int) (jobIDs []uuid.UUID, err error)
	SweepStuckOutbox(ctx context.Context, olderThan time.Duration) (int, error)

	// Planner (E)
	BeginPlanning(ctx context.Context, jobID uuid.UUID) (bool, error)
	ClaimExecutionBatch(ctx context.Context, jobID uuid.UUID, batchSize int) ([]uuid.UUID, error)

	// Runner (F)
	LoadExecutionForRun(ctx context.Context, executionID uuid.UUID) (*Execution, CommandType, error)
	IsHostBlocked(ctx context.Context, hostID uuid.UUID, cmd CommandType) (bool, error)
	MarkBlocked(ctx context.Context, executionID uuid.UUID, line string) error
	AppendExecutionLog(ctx context.Context, executionID uuid.UUID, line string) error
	TryLockHost(ctx context.Context, hostID uuid.UUID) (unlock func(context.Context) error, ok bool, err error)
	StartRunning(ctx context.Context, executionID, jobID uuid.UUID) (bool, error)
	FinishSuccess(ctx context.Context, executionID uuid.UUID, line string) error
	RequeueForRetry(ctx context.Context, executionID uuid.UUID, line string) error
	FinishTerminal(ctx context.Context, executionID uuid.UUID, status ExecutionStatus, line string) error

	// Job Roll-up (G) / reads
	ListJobs(ctx context.Context, limit, offset int) ([]Job, error)
	GetJobDetail(ctx context.Context, jobID uuid.UUID) (*JobDetail, error)
	ListExecutions(ctx context.Context, jobID uuid.UUID, status *ExecutionStatus, limit, offset int) ([]Execution, error)
	GetExecutionLogs(ctx context.Context, executionID uuid.UUID) ([]ExecutionLog, error)

	// Host Policy (H)
	SetHostBlocks(ctx context.Context, hostID uuid.UUID, commands []CommandType) ([]CommandType, error)
	DeleteHostBlock(ctx context.Context, hostID uuid.UUID, cmd CommandType) (int, error)
}

type CreateJobInput struct {
	ExternalID  string
	Signature   string
	CommandType CommandType
	Selector    Selector
	Payload     map[string]any
}
