package constants

// Logbus admin API paths used by the operator.
const (
	APIPathReady          = "/v1/ready"
	APIPathTopics         = "/v1/topics"
	APIPathSegments       = "/v1/segments"
	APIPathSegmentData    = "/v1/segments/data"
	APIPathSegmentRelease = "/v1/segments/release"
	APIPathRecordsFetch   = "/v1/records/fetch"
	APIPathRecordsProduce = "/v1/records/produce"
)

// Ports exposed by Logbus broker pods.
const (
	PortClient      = 9092
	PortInterBroker = 9093
	PortAdmin       = 9640
	PortMetrics     = 9090
)

// Named ports on broker Services and the StatefulSet pod template.
const (
	PortNameClient      = "client"
	PortNameInterBroker = "internal"
	PortNameAdmin       = "admin"
	PortNameMetrics     = "metrics"
)
