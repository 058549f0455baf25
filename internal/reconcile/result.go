package reconcile

import "time"

// Result expresses whether a sub-reconciler wants the pass requeued, and
// after what delay. A zero RequeueAfter means "no requeue requested".
type Result struct {
	RequeueAfter time.Duration
}
