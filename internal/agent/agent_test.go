package agent_test

import (
	"context"
	"testing"
	"time"

	"github.com/fleetops/orchestrator/internal/agent"
	"github.com/stretchr/testify/assert"
)

func TestSimulated_Invoke_RespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := agent.Simulated{}.Invoke(ctx, "host-1", "PING", nil)
	assert.Error(t, err)
}

func TestSimulated_Invoke_EventuallyProducesEachOutcome(t *testing.T) {
	var sawSuccess, sawTimeout, sawError bool

	for i := 0; i < 40 && !(sawSuccess && sawTimeout && sawError); i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := agent.Simulated{}.Invoke(ctx, "host-1", "PING", nil)
		cancel()

		switch {
		case err == nil:
			sawSuccess = true
			assert.Equal(t, 0, result.ExitCode)
		case err == agent.ErrTimeout:
			sawTimeout = true
		case err != nil:
			sawError = true
		}
	}

	assert.True(t, sawSuccess, "expected at least one success in 40 attempts")
	assert.True(t, sawTimeout, "expected at least one timeout in 40 attempts")
	assert.True(t, sawError, "expected at least one generic error in 40 attempts")
}
