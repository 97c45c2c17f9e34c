package api_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/buildflow/pkg/api"
)

func TestIsValidID(t *testing.T) {
	assert.True(t, api.IsValidID(api.NodeID("agent-1")))
	assert.True(t, api.IsValidID(api.ResourceName("build dir_2.0+x")))
	assert.False(t, api.IsValidID(api.NodeID("")))
	assert.False(t, api.IsValidID(api.NodeID("node/1")))
	assert.False(t, api.IsValidID(api.RunID("run!")))
}

func TestSanitizeID(t *testing.T) {
	assert.Equal(t,
		api.NodeID("build-agent-7"),
		api.SanitizeID(api.NodeID("Build Agent #7")),
	)
	assert.Equal(t,
		api.ResourceName("workspace"),
		api.SanitizeID(api.ResourceName("--Work/space--")),
	)
	assert.Equal(t, api.RunID(""), api.SanitizeID(api.RunID("!!!")))
}
