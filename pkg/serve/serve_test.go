package serve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containers/ramalama/internal/plan"
	"github.com/containers/ramalama/internal/rlerr"
)

func TestPlanLlamaCPPIncludesChatTemplateAndMmproj(t *testing.T) {
	p, err := Plan(Request{
		ModelAlias: "hf/org/repo:latest",
		Files: map[string]string{
			"model":         "/snap/model.gguf",
			"mmproj":        "/snap/mmproj.gguf",
			"chat_template": "/snap/chat_template.json",
		},
		Port: 8080,
	})
	require.NoError(t, err)
	assert.Contains(t, p.Args, "--jinja")
	assert.Contains(t, p.Args, "--mmproj")
	assert.Contains(t, p.Args, "/snap/mmproj.gguf")
	assert.Contains(t, p.Args, "--no-webui")
}

func TestPlanLlamaCPPEmbeddingFlags(t *testing.T) {
	p, err := Plan(Request{
		Files:     map[string]string{"model": "/snap/model.gguf"},
		Embedding: true,
		Port:      8080,
	})
	require.NoError(t, err)
	assert.Contains(t, p.Args, "--embedding")
	assert.Contains(t, p.Args, "--pooling")
}

func TestPlanMissingModelFileFails(t *testing.T) {
	_, err := Plan(Request{Runtime: plan.RuntimeVLLM, Files: map[string]string{}})
	require.Error(t, err)
	assert.True(t, rlerr.As(err, rlerr.KindBadName))
}

func TestPlanRouterModeOmitsModelFlag(t *testing.T) {
	p, err := PlanLlamaCPPRouterMode(Request{RouterModelsDir: "/mnt/models", Port: 8080})
	require.NoError(t, err)
	assert.NotContains(t, p.Args, "--model")
	assert.Contains(t, p.Args, "--models-dir")
	assert.True(t, p.RouterMode)
}
