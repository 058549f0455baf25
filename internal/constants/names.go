package constants

// Resource name suffixes used by the operator when creating per-cluster resources.
const (
	SuffixConfigMap    = "-config"
	SuffixHeadless     = "-headless"
	SuffixMirrorState  = "-mirror-state"
	SuffixArchiveState = "-archive-state"
)

// Data keys inside the two state-table ConfigMaps. Both tables are TOML so
// an operator can read them with kubectl during an incident.
const (
	StateKeyCheckpoints = "checkpoints.toml"
	StateKeyArchive     = "archive.toml"
)

// Well-known container and binary names used by the operator.
const (
	ContainerNameLogbus = "logbus"
	BinaryNameLogbus    = "logbus"
)

// FieldManager is the field manager name the operator uses for server-side
// apply. Owned objects whose manager-tracked fields were claimed by a
// different manager are reported as ownership conflicts rather than fought
// over.
const FieldManager = "logbus-operator"
