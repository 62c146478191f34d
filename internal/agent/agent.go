// Package agent defines the runner's one blocking external call: the
// per-host command executor. The real executor is deliberately out of
// scope for this system; Simulated stands in for it so the runner's state
// machine can be exercised end to end.
package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrTimeout marks a per-attempt timeout, distinct from a generic failure
// for the purposes of the runner's final terminal status (TIMEOUT vs FAILED).
var ErrTimeout = errors.New("agent timeout")

// Result is what a successful agent invocation returns.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

func (r Result) String() string {
	return fmt.Sprintf("exit_code=%d stdout=%s", r.ExitCode, r.Stdout)
}

// Client invokes the per-host command. Implementations must respect ctx
// cancellation.
type Client interface {
	Invoke(ctx context.Context, hostID string, cmd string, payload map[string]any) (Result, error)
}

// Simulated is a stand-in agent used when no real executor is wired: it
// randomly times out, fails, or succeeds, matching the probabilities of
// the reference implementation this runner's retry behavior was modeled
// on.
type Simulated struct{}

func (Simulated) Invoke(ctx context.Context, hostID string, cmd string, payload map[string]any) (Result, error) {
	p := rand.Float64()
	switch {
	case p > 0.5:
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		return Result{}, ErrTimeout
	case p < 0.15:
		return Result{}, errors.New("agent error")
	default:
		d := time.Duration(100+rand.Intn(1400)) * time.Millisecond
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
		return Result{ExitCode: 0, Stdout: "ok"}, nil
	}
}
