package constants

// Annotation keys used by the operator.
const (
	// AnnotationAppliedHash records the content hash of the operator-managed
	// fields of an owned object, set at apply time. A matching hash on the
	// live object means the object is already up to date and the apply is
	// skipped.
	AnnotationAppliedHash = "logbus.io/applied-hash"
	// AnnotationConfigHash is set on the broker pod template and carries the
	// hash of the rendered broker configuration. Changing it rolls the pods.
	AnnotationConfigHash = "logbus.io/config-hash"
	// AnnotationRetryUpgrade is set by a human on the LogbusCluster to clear a
	// halted upgrade and retry the failed ordinal. The value is ignored; the
	// operator removes the annotation once consumed.
	AnnotationRetryUpgrade = "logbus.io/retry-upgrade"
)
