package scheduler

// Stats counts scheduling outcomes since process start.
type Stats struct {
	// Leases counts successful lease grants.
	Leases int64 `json:"leases"`
	// SkippedDueToQuota counts step() calls that found queued work but
	// no eligible entry under the current quotas.
	SkippedDueToQuota int64 `json:"skippedDueToQuota"`
	// Completed counts runs that reached a terminal state under a lease.
	Completed int64 `json:"completed"`
}
