package logbuscluster

// controllerName labels log lines and metrics emitted by this controller.
const controllerName = "logbuscluster"

// Condition reasons specific to the LogbusCluster controller. Shared reasons
// (Ready, Error, Paused) live in internal/constants.
const (
	reasonSpecInvalid             = "SpecInvalid"
	reasonSpecAccepted            = "SpecAccepted"
	reasonInfrastructureApplied   = "InfrastructureApplied"
	reasonInfrastructureError     = "InfrastructureError"
	reasonGatewayAPIMissing       = "GatewayAPIMissing"
	reasonImageVerificationFailed = "ImageVerificationFailed"
	reasonAllReplicasReady        = "AllReplicasReady"
	reasonNotAllReplicasReady     = "NotAllReplicasReady"
	reasonNoReplicasReady         = "NoReplicasReady"
	reasonDeleting                = "Deleting"
)
