package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/acp0/acp0/types"
)

func TestVersion(t *testing.T) {
	assert.True(t, strings.HasPrefix(Version, ACPSemVer))
	assert.Equal(t, types.ProtocolVersion, ProtocolVersion)
}
