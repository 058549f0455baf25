package constants

import "time"

// Requeue intervals used by controllers.
const (
	RequeueShort    = 5 * time.Second
	RequeueStandard = 1 * time.Minute

	RequeueSafetyNetBase   = 20 * time.Minute
	RequeueSafetyNetJitter = 5 * time.Minute
)

// Bounded waits and retry limits.
const (
	// UpgradeOrdinalTimeout is the longest a rolling upgrade waits for a
	// single replaced ordinal to pass app-level readiness before the upgrade
	// halts and the cluster degrades.
	UpgradeOrdinalTimeout = 10 * time.Minute

	// ApplyConflictRetries is how many times an optimistic-concurrency
	// conflict on a single owned object is retried with a refetch within one
	// pass before the pass fails as transient.
	ApplyConflictRetries = 3
)
