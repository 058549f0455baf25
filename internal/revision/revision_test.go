package revision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogbusClusterRevision(t *testing.T) {
	base := LogbusClusterRevision("logbus:2.3.0", "2.3.0", "abc123")

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, base, LogbusClusterRevision("logbus:2.3.0", "2.3.0", "abc123"))
	})

	t.Run("length", func(t *testing.T) {
		assert.Len(t, base, revisionLength)
	})

	t.Run("image changes revision", func(t *testing.T) {
		assert.NotEqual(t, base, LogbusClusterRevision("logbus:2.3.1", "2.3.0", "abc123"))
	})

	t.Run("version changes revision", func(t *testing.T) {
		assert.NotEqual(t, base, LogbusClusterRevision("logbus:2.3.0", "2.3.1", "abc123"))
	})

	t.Run("config hash changes revision", func(t *testing.T) {
		assert.NotEqual(t, base, LogbusClusterRevision("logbus:2.3.0", "2.3.0", "def456"))
	})

	t.Run("field boundaries are unambiguous", func(t *testing.T) {
		// Moving a suffix between adjacent fields must not collide.
		a := LogbusClusterRevision("logbus:2", ".3.0", "x")
		b := LogbusClusterRevision("logbus:2.", "3.0", "x")
		assert.NotEqual(t, a, b)
	})
}
