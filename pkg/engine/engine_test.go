package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/internal/plan"
)

func TestComputeServingPortHonorsExplicitPort(t *testing.T) {
	port, err := ComputeServingPort(9999, 8000, NewPortExclusion())
	require.NoError(t, err)
	assert.Equal(t, 9999, port)
}

func TestComputeServingPortSkipsExcluded(t *testing.T) {
	port, err := ComputeServingPort(0, 18080, NewPortExclusion(18080, 18081))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 18082)
}

func TestMergeEnvUserOverridesAuto(t *testing.T) {
	merged, err := MergeEnv(map[string]string{"GPU": "auto", "FOO": "bar"}, map[string]string{"GPU": "0"})
	require.NoError(t, err)
	assert.Equal(t, "0", merged["GPU"])
	assert.Equal(t, "bar", merged["FOO"])
}

func TestBuildArgvIncludesMountsAndDeviceNone(t *testing.T) {
	argv := BuildArgv(plan.Serve{
		Image:         "llama.cpp",
		ContainerName: "ramalama-test",
		Port:          8080,
		Mounts:        []plan.Mount{{Source: "/snap/model.gguf", Dest: "/mnt/models/model.gguf", ReadOnly: true}},
		Args:          []string{"--model", "/mnt/models/model.gguf"},
	})
	joined := argv
	assert.Contains(t, joined, "--device")
	assert.Contains(t, joined, "none")
	assert.Contains(t, joined, "--mount")
	found := false
	for _, a := range joined {
		if a == "type=bind,src=/snap/model.gguf,dst=/mnt/models/model.gguf,ro" {
			found = true
		}
	}
	assert.True(t, found, "expected mount flag in argv: %v", joined)
}

func TestDryRunStringQuotesSpecialCharacters(t *testing.T) {
	s := DryRunString("podman", []string{"run", "--label", "a b"})
	assert.Contains(t, s, `'a b'`)
}

func TestAutoDevicesSuppressedByNoDevices(t *testing.T) {
	assert.Nil(t, AutoDevices(true))
}
