package document

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/ndicore/internal/ir"
)

func TestNextVersion(t *testing.T) {
	v1 := newProbeDoc(t)
	v1.Payload[BranchDependencies] = ir.Obj(ir.O("cached", ir.IRBool(true)))

	v2 := v1.NextVersion("22222222222222222222222222222222")
	v3 := v2.NextVersion("33333333333333333333333333333333")

	assert.Equal(t, v1.ID(), v2.Metadata.ParentID)
	assert.Equal(t, []string{v1.ID()}, v2.Metadata.AscPath)
	assert.Equal(t, 1, v2.Metadata.VersionDepth)
	assert.True(t, v2.Metadata.LatestVersion)
	_, hasDeps := v2.Payload[BranchDependencies]
	assert.False(t, hasDeps)

	assert.Equal(t, []string{v2.ID(), v1.ID()}, v3.Metadata.AscPath)
	assert.Equal(t, 2, v3.Metadata.VersionDepth)

	assert.Equal(t, []string{v1.ID(), v2.ID(), v3.ID()}, v3.History())

	// The predecessor is untouched.
	assert.Empty(t, v1.Metadata.AscPath)
	_, hasDeps = v1.Payload[BranchDependencies]
	assert.True(t, hasDeps)
}
