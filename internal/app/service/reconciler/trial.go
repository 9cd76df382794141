package reconciler

import "time"

// IsTrialActive reports whether a trial window is still open at now.
// A nil end date is never active; the boundary instant itself is expired.
func IsTrialActive(now time.Time, endDate *time.Time) bool {
	return endDate != nil && now.Before(*endDate)
}
