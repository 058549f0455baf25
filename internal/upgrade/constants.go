package upgrade

import "time"

// Timing constants for rolling upgrades. The per-ordinal readiness budget
// lives in internal/constants (UpgradeOrdinalTimeout); these cover the
// smaller waits inside a single ordinal step.
const (
	// DefaultPodReadyTimeout is the maximum time to wait for a replaced pod
	// to pass its kubelet readiness probe before the broker-level check runs.
	DefaultPodReadyTimeout = 5 * time.Minute

	// DefaultReadyCheckTimeout bounds a single admin-API readiness call.
	DefaultReadyCheckTimeout = 10 * time.Second
)

// Reason constants used in condition updates during upgrades.
const (
	// ReasonUpgradeStarted indicates a rolling upgrade has been initiated.
	ReasonUpgradeStarted = "UpgradeStarted"

	// ReasonUpgradeInProgress indicates the partition walk is underway.
	ReasonUpgradeInProgress = "UpgradeInProgress"

	// ReasonUpgradeComplete indicates the rollout finished successfully.
	ReasonUpgradeComplete = "UpgradeComplete"

	// ReasonUpgradeFailed indicates the rollout failed.
	ReasonUpgradeFailed = "UpgradeFailed"

	// ReasonUpgradeHalted indicates the rollout is halted awaiting operator
	// action (spec change or the retry annotation).
	ReasonUpgradeHalted = "UpgradeHalted"

	// ReasonUpgradePaused indicates spec.paused suspended the rollout.
	ReasonUpgradePaused = "UpgradePaused"

	// ReasonInvalidVersion indicates the target version is not valid semver.
	ReasonInvalidVersion = "InvalidVersion"

	// ReasonDowngradeBlocked indicates a downgrade was requested and refused.
	ReasonDowngradeBlocked = "DowngradeBlocked"

	// ReasonClusterNotReady indicates the cluster is not in a state where a
	// rollout can begin (missing pods, unready replicas).
	ReasonClusterNotReady = "ClusterNotReady"

	// ReasonReadinessTimeout indicates a replaced broker did not report
	// application-level readiness within the per-ordinal budget.
	ReasonReadinessTimeout = "ReadinessTimeout"

	// ReasonImageVerificationFailed indicates the target image signature
	// could not be verified before the rollout.
	ReasonImageVerificationFailed = "ImageVerificationFailed"

	// ReasonRetryRequested indicates a halted rollout was resumed via the
	// retry annotation.
	ReasonRetryRequested = "RetryRequested"

	// ReasonIdle indicates no upgrade activity.
	ReasonIdle = "Idle"

	// ReasonNoUpgradeNeeded indicates spec.version already matches
	// status.currentVersion.
	ReasonNoUpgradeNeeded = "NoUpgradeNeeded"

	// ReasonVersionMismatch indicates spec.version changed mid-rollout.
	ReasonVersionMismatch = "VersionMismatch"
)

// Message templates used in condition updates.
const (
	// MessageUpgradeStarted is the message when a rollout begins.
	MessageUpgradeStarted = "Upgrade from %s to %s has started"

	// MessageUpgradeInProgress is the message during the partition walk.
	MessageUpgradeInProgress = "Upgraded %d of %d brokers (partition: %d)"

	// MessageUpgradeComplete is the message when a rollout completes.
	MessageUpgradeComplete = "Successfully upgraded from %s to %s"

	// MessageUpgradeFailed is the message when a rollout fails.
	MessageUpgradeFailed = "Upgrade failed: %s"

	// MessageUpgradeHalted is the message when a rollout is halted on a
	// specific ordinal.
	MessageUpgradeHalted = "Upgrade halted at broker ordinal %d; edit the spec or set the %s annotation to retry"

	// MessageNoUpgradeNeeded is the message when versions already match.
	MessageNoUpgradeNeeded = "No upgrade needed; current version matches desired version"

	// MessageDowngradeBlocked is the message when a downgrade is refused.
	MessageDowngradeBlocked = "Downgrade from %s to %s is not allowed"

	// MessageInvalidVersion is the message when a version is invalid.
	MessageInvalidVersion = "Invalid version %q: %s"

	// MessageClusterNotReady is the message when the rollout cannot begin.
	MessageClusterNotReady = "Cluster is not ready for upgrade: %s"

	// MessageReadinessTimeout is the message when an ordinal times out.
	MessageReadinessTimeout = "Broker %s did not report readiness within %v"

	// MessageImageVerificationFailed is the message when signature
	// verification rejects the target image.
	MessageImageVerificationFailed = "Image verification failed for %s: %s"
)
