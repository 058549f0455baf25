package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const revisionLength = 16

// LogbusClusterRevision returns a deterministic revision string derived from
// the fields that force broker pod replacement: the image, the declared
// version, and the hash of the rendered broker configuration. Replica count
// is deliberately excluded so that scaling does not look like a new revision.
func LogbusClusterRevision(image, version, configHash string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("image=%s\nversion=%s\nconfig=%s\n", image, version, configHash)))
	return hex.EncodeToString(sum[:])[:revisionLength]
}
