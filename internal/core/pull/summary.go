package pull

import "github.com/artpar/preflight/internal/core/domain"

// =============================================================================
// Summary Aggregation
// =============================================================================

// Summarize aggregates per-image results into the structured summary that
// gates activation. Skipped images count as successes: the image is present
// locally, which is all acquisition guarantees.
func Summarize(results []domain.PullResult) domain.PullSummary {
	summary := domain.PullSummary{Results: results}

	seen := map[Class]bool{}
	for _, r := range results {
		switch r.Outcome {
		case domain.PullSucceeded, domain.PullSkipped:
			summary.Successes++
		case domain.PullFailed:
			summary.Failures++
			seen[Classify(r.Output)] = true
		}
	}

	for _, class := range classOrder {
		if seen[class] {
			summary.Remediation = append(summary.Remediation, Remediation(class))
		}
	}
	return summary
}
