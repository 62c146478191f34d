package domain

// Summarize computes the advisory job summary (component G) from the
// histogram of its executions' statuses. The authoritative Job.Status is
// written separately by the planner/runner/reject path.
func Summarize(counts map[ExecutionStatus]int) JobSummary {
	total := 0
	for _, n := range counts {
		total += n
	}
	if total == 0 {
		return SummaryEmpty
	}

	done := counts[ExecutionSuccess] + counts[ExecutionFailed] +
		counts[ExecutionCancelled] + counts[ExecutionTimeout] + counts[ExecutionBlocked]

	switch {
	case done == total && counts[ExecutionFailed] == 0 && counts[ExecutionBlocked] == 0 && counts[ExecutionTimeout] == 0:
		return SummarySuccess
	case done == total && counts[ExecutionSuccess] == 0:
		return SummaryFailed
	case done == total:
		return SummaryPartial
	case counts[ExecutionQueued] > 0:
		return SummaryQueued
	case counts[ExecutionRunning] > 0:
		return SummaryRunning
	default:
		return SummaryNew
	}
}
