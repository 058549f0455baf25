package constants

// Common mount paths used by Logbus broker pods.
const (
	PathConfig = "/etc/logbus"
	PathData   = "/var/lib/logbus"
)

// Common volume names used by Logbus broker pods.
const (
	VolumeConfig = "config"
	VolumeData   = "data"
)

// Broker configuration file, rendered by the operator into the per-cluster
// ConfigMap and mounted read-only.
const (
	ConfigFileName = "config.hcl"
	PathConfigFile = PathConfig + "/" + ConfigFileName
)
