package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeWithDefaultsPreservesUnsetFields(t *testing.T) {
	user := &Config{}
	user.LLM.DefaultModel = "llama3.1:70b"

	merged, err := mergeWithDefaults(user)
	require.NoError(t, err)

	assert.Equal(t, "llama3.1:70b", merged.LLM.DefaultModel)
	assert.Equal(t, "local", merged.LLM.DefaultProvider)
	assert.Equal(t, DefaultConfig().Queue.Path, merged.Queue.Path)
}

func TestMergeWithDefaultsMergesProviderMapByKey(t *testing.T) {
	user := &Config{}
	user.LLM.Providers = map[string]ProviderConfig{
		"openai": {BaseURL: "https://my-proxy.internal/v1", APIKeyEnv: "MY_OPENAI_KEY"},
	}

	merged, err := mergeWithDefaults(user)
	require.NoError(t, err)

	assert.Equal(t, "https://my-proxy.internal/v1", merged.LLM.Providers["openai"].BaseURL)
	assert.Contains(t, merged.LLM.Providers, "local")
	assert.Contains(t, merged.LLM.Providers, "anthropic")
}

func TestMergeWithDefaultsDoesNotMutateDefaultConfig(t *testing.T) {
	before := DefaultConfig().LLM.DefaultModel

	user := &Config{}
	user.LLM.DefaultModel = "something-else"
	_, err := mergeWithDefaults(user)
	require.NoError(t, err)

	assert.Equal(t, before, DefaultConfig().LLM.DefaultModel)
}
