package constants

// Common Kubernetes label keys used by the operator.
const (
	LabelAppName      = "app.kubernetes.io/name"
	LabelAppInstance  = "app.kubernetes.io/instance"
	LabelAppManagedBy = "app.kubernetes.io/managed-by"
	LabelAppComponent = "app.kubernetes.io/component"

	LabelLogbusCluster   = "logbus.io/cluster"
	LabelLogbusComponent = "logbus.io/component"
	LabelLogbusRevision  = "logbus.io/revision"
)

// Common label values used by the operator.
const (
	LabelValueAppNameLogbus              = "logbus"
	LabelValueAppManagedByLogbusOperator = "logbus-operator"
	LabelValueComponentBroker            = "broker"
)
