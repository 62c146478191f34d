//go:build integration
// +build integration

package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/fleetops/orchestrator/internal/domain"
	"github.com/fleetops/orchestrator/internal/infrastructure/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupRepo connects to TEST_DB_DSN and truncates every table the
// orchestrator owns so each test starts from empty.
func setupRepo(t *testing.T) (*postgres.Repository, *pgxpool.Pool) {
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("Skipping integration test: TEST_DB_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)

	_, err = pool.Exec(context.Background(),
		"TRUNCATE TABLE execution_logs, executions, host_command_blocks, outbox_events, jobs, hosts RESTART IDENTITY CASCADE")
	require.NoError(t, err)

	return postgres.New(pool), pool
}

func seedHost(t *testing.T, pool *pgxpool.Pool, hostname string) uuid.UUID {
	var id uuid.UUID
	err := pool.QueryRow(context.Background(),
		`INSERT INTO hosts (hostname) VALUES ($1) RETURNING id`, hostname).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestCreateJob_AutoApprovedEnqueuesOutbox(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedHost(t, pool, "web-1")

	jobID, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-1",
		CommandType: domain.CommandPing,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, jobID)

	var count int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE status = 'NEW'`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var execCount int
	err = pool.QueryRow(ctx, `SELECT count(*) FROM executions WHERE job_id = $1`, jobID).Scan(&execCount)
	require.NoError(t, err)
	assert.Equal(t, 1, execCount)
}

func TestCreateJob_IsIdempotentOnExternalID(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedHost(t, pool, "web-1")

	in := domain.CreateJobInput{ExternalID: "dup-1", CommandType: domain.CommandPing, Selector: domain.Selector{All: true}}
	first, err := repo.CreateJob(ctx, in)
	require.NoError(t, err)

	second, err := repo.CreateJob(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var jobCount int
	pool.QueryRow(ctx, `SELECT count(*) FROM jobs WHERE external_id = 'dup-1'`).Scan(&jobCount)
	assert.Equal(t, 1, jobCount)
}

func TestCreateJob_ApprovalRequiredCommandDoesNotEnqueue(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedHost(t, pool, "web-1")

	_, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-deploy",
		CommandType: domain.CommandDeploy,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)

	var count int
	pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events`).Scan(&count)
	assert.Equal(t, 0, count)
}

func TestCreateJob_MissingHostnameFails(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	_, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-missing",
		CommandType: domain.CommandPing,
		Selector:    domain.Selector{Hostnames: []string{"ghost-1"}},
	})
	assert.ErrorIs(t, err, domain.ErrMissingHosts)
}

func TestCreateJob_BlockedHostMaterializesAsBlocked(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	hostID := seedHost(t, pool, "web-1")

	_, err := repo.SetHostBlocks(ctx, hostID, []domain.CommandType{domain.CommandDeploy})
	require.NoError(t, err)

	jobID, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-blocked",
		CommandType: domain.CommandDeploy,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)

	var status string
	err = pool.QueryRow(ctx, `SELECT status FROM executions WHERE job_id = $1`, jobID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, string(domain.ExecutionBlocked), status)
}

func TestApproveJob_EnqueuesOnceAndIsIdempotent(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedHost(t, pool, "web-1")

	jobID, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-approve",
		CommandType: domain.CommandDeploy,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)

	enqueued, err := repo.ApproveJob(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, enqueued)

	enqueued, err = repo.ApproveJob(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, enqueued, "second approval must not enqueue again")

	var count int
	pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events`).Scan(&count)
	assert.Equal(t, 1, count)
}

func TestRejectJob_CancelsPendingExecutions(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedHost(t, pool, "web-1")

	jobID, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-reject",
		CommandType: domain.CommandRestartService,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)

	job, err := repo.RejectJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApprovalRejected, job.ApprovalState)
	assert.Equal(t, domain.JobFailed, job.Status)

	var status string
	err = pool.QueryRow(ctx, `SELECT status FROM executions WHERE job_id = $1`, jobID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, string(domain.ExecutionCancelled), status)
}

func TestPlanAndClaimExecutionBatch_DrainsToEmpty(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	seedHost(t, pool, "web-1")
	seedHost(t, pool, "web-2")

	jobID, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-plan",
		CommandType: domain.CommandPing,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)

	began, err := repo.BeginPlanning(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, began)

	began, err = repo.BeginPlanning(ctx, jobID)
	require.NoError(t, err)
	assert.False(t, began, "planning twice must be a no-op")

	ids, err := repo.ClaimExecutionBatch(ctx, jobID, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	ids, err = repo.ClaimExecutionBatch(ctx, jobID, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRunnerLifecycle_SuccessPath(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	hostID := seedHost(t, pool, "web-1")

	jobID, err := repo.CreateJob(ctx, domain.CreateJobInput{
		ExternalID:  "ext-run",
		CommandType: domain.CommandPing,
		Selector:    domain.Selector{All: true},
	})
	require.NoError(t, err)
	_, err = repo.BeginPlanning(ctx, jobID)
	require.NoError(t, err)
	ids, err := repo.ClaimExecutionBatch(ctx, jobID, 10)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	executionID := ids[0]

	exec, cmd, err := repo.LoadExecutionForRun(ctx, executionID)
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, domain.CommandPing, cmd)
	assert.Equal(t, hostID, exec.HostID)

	blocked, err := repo.IsHostBlocked(ctx, hostID, cmd)
	require.NoError(t, err)
	assert.False(t, blocked)

	unlock, ok, err := repo.TryLockHost(ctx, hostID)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock(ctx)

	started, err := repo.StartRunning(ctx, executionID, jobID)
	require.NoError(t, err)
	assert.True(t, started)

	require.NoError(t, repo.FinishSuccess(ctx, executionID, "exit_code=0"))

	var status string
	err = pool.QueryRow(ctx, `SELECT status FROM executions WHERE id = $1`, executionID).Scan(&status)
	require.NoError(t, err)
	assert.Equal(t, string(domain.ExecutionSuccess), status)

	logs, err := repo.GetExecutionLogs(ctx, executionID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "exit_code=0", logs[0].Line)
}

func TestTryLockHost_SecondCallerLosesRace(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	hostID := seedHost(t, pool, "web-1")

	unlock, ok, err := repo.TryLockHost(ctx, hostID)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock(ctx)

	_, ok2, err := repo.TryLockHost(ctx, hostID)
	require.NoError(t, err)
	assert.False(t, ok2, "a held advisory lock must block a second acquirer")
}

func TestSweepStuckOutbox_RevertsOldSentRows(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()

	var eventID uuid.UUID
	err := pool.QueryRow(ctx, `
		INSERT INTO outbox_events (event_type, payload, status, sent_at)
		VALUES ('PLAN_JOB', '{"job_id":"`+uuid.New().String()+`"}', 'SENT', NOW() - INTERVAL '10 minutes')
		RETURNING id
	`).Scan(&eventID)
	require.NoError(t, err)

	n, err := repo.SweepStuckOutbox(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var status string
	pool.QueryRow(ctx, `SELECT status FROM outbox_events WHERE id = $1`, eventID).Scan(&status)
	assert.Equal(t, string(domain.OutboxNew), status)
}

func TestHostPolicy_SetAndDeleteBlocks(t *testing.T) {
	repo, pool := setupRepo(t)
	ctx := context.Background()
	hostID := seedHost(t, pool, "web-1")

	set, err := repo.SetHostBlocks(ctx, hostID, []domain.CommandType{domain.CommandDeploy, domain.CommandDeploy, domain.CommandRunScript})
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.CommandType{domain.CommandDeploy, domain.CommandRunScript}, set)

	deleted, err := repo.DeleteHostBlock(ctx, hostID, domain.CommandDeploy)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	deleted, err = repo.DeleteHostBlock(ctx, hostID, domain.CommandDeploy)
	require.NoError(t, err)
	assert.Equal(t, 0, deleted)
}

func TestHostPolicy_UnknownHostFails(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()

	_, err := repo.SetHostBlocks(ctx, uuid.New(), []domain.CommandType{domain.CommandPing})
	assert.ErrorIs(t, err, domain.ErrHostNotFound)
}
