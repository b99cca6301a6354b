package generate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/containers/ramalama/internal/plan"
)

func samplePlan() plan.Serve {
	return plan.Serve{
		Runtime:       plan.RuntimeLlamaCPP,
		Containerized: true,
		Image:         "quay.io/ramalama/ramalama:latest",
		ContainerName: "ramalama_abc123",
		Args:          []string{"llama-server", "--model", "/mnt/models/model.gguf", "--port", "8080"},
		Env:           map[string]string{"HOME": "/tmp"},
		Mounts:        []plan.Mount{{Source: "/store/blobs/deadbeef", Dest: "/mnt/models/model.gguf", ReadOnly: true}},
		Devices:       []plan.Device{{Path: "/dev/dri"}},
		Port:          8080,
		Labels:        map[string]string{"ai.ramalama.model": "model"},
	}
}

func TestParseInjectionSplitsThreeParts(t *testing.T) {
	inj, err := ParseInjection("Service:Environment:FOO=bar")
	require.NoError(t, err)
	assert.Equal(t, "Service", inj.Section)
	assert.Equal(t, "Environment", inj.Key)
	assert.Equal(t, "FOO=bar", inj.Value)
}

func TestParseInjectionRejectsMalformed(t *testing.T) {
	_, err := ParseInjection("not-enough-parts")
	require.Error(t, err)
}

func TestQuadletIncludesMountsAndDevices(t *testing.T) {
	out := Quadlet(samplePlan(), nil)
	assert.Contains(t, out, "Image=quay.io/ramalama/ramalama:latest")
	assert.Contains(t, out, "Volume=/store/blobs/deadbeef:/mnt/models/model.gguf:ro")
	assert.Contains(t, out, "AddDevice=/dev/dri")
	assert.Contains(t, out, "PublishPort=8080:8080")
}

func TestQuadletInjectsIntoNamedSection(t *testing.T) {
	out := Quadlet(samplePlan(), []Injection{{Section: "Container", Key: "PodmanArgs", Value: "--cpus=2"}})
	assert.Contains(t, out, "PodmanArgs=--cpus=2")
}

func TestQuadletInjectsNewSection(t *testing.T) {
	out := Quadlet(samplePlan(), []Injection{{Section: "Service", Key: "Restart", Value: "always"}})
	assert.Contains(t, out, "[Service]\nRestart=always")
}

func TestKubeProducesSinglePodWithVolumes(t *testing.T) {
	out, err := Kube(samplePlan())
	require.NoError(t, err)

	var pod kubePod
	require.NoError(t, yaml.Unmarshal([]byte(out), &pod))
	assert.Equal(t, "Pod", pod.Kind)
	require.Len(t, pod.Spec.Containers, 1)
	assert.Equal(t, "quay.io/ramalama/ramalama:latest", pod.Spec.Containers[0].Image)
	require.Len(t, pod.Spec.Volumes, 1)
	assert.Equal(t, "/store/blobs/deadbeef", pod.Spec.Volumes[0].HostPath.Path)
}

func TestComposeAddsGPUReservationForCUDAImage(t *testing.T) {
	p := samplePlan()
	p.Image = "quay.io/ramalama/cuda:latest"
	out, err := Compose(p)
	require.NoError(t, err)
	assert.Contains(t, out, "capabilities:")
	assert.Contains(t, out, "gpu")
}

func TestComposeOmitsGPUReservationForCPUImage(t *testing.T) {
	out, err := Compose(samplePlan())
	require.NoError(t, err)
	assert.NotContains(t, out, "deploy:")
}

func TestWriteAllWritesFixedFilenames(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteAll(dir, samplePlan(), nil))

	for _, name := range []string{"ramalama.container", "ramalama-pod.yaml", "docker-compose.yaml"} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.False(t, info.IsDir())
	}
}
