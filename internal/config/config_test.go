package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
env: staging
platform:
  base_url: https://platform.example.com
  executor_id: exec-1
broker:
  paper: true
http:
  port: 9090
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadAppliesDefaultsAndFileValues(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "exec-1", cfg.Platform.ExecutorID)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "127.0.0.1", cfg.HTTP.Host)
	assert.Equal(t, "executor.db", cfg.Store.Path)
}

func TestLoadOverridesApiKeyFromEnv(t *testing.T) {
	path := writeConfig(t, sampleYAML)
	t.Setenv("EXECUTOR_PLATFORM_API_KEY", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Platform.ApiKey)
}

func TestValidateRejectsMissingExecutorID(t *testing.T) {
	cfg := &Config{Platform: PlatformConfig{BaseURL: "https://x"}, Broker: BrokerConfig{Paper: true}, HTTP: HTTPConfig{Port: 1}, Runtime: RuntimeConfig{TickInterval: 1}}
	assert.ErrorContains(t, cfg.Validate(), "executor_id")
}

func TestValidateRequiresTerminalPathUnlessPaper(t *testing.T) {
	cfg := &Config{
		Platform: PlatformConfig{BaseURL: "https://x", ExecutorID: "e1", ApiKey: "k"},
		Broker:   BrokerConfig{},
		HTTP:     HTTPConfig{Port: 1},
		Runtime:  RuntimeConfig{TickInterval: 1},
	}
	assert.ErrorContains(t, cfg.Validate(), "terminal_path")
}
