package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	assert.Nil(t, cfg.Validate())
}

func TestValidateRejectsMissingWorkspace(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = filepath.Join(t.TempDir(), "does-not-exist")
	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	var found bool
	for _, e := range verrs {
		if e.Field == "workspace" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateAccumulatesMultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Queue.MaxQueueSize = 0
	cfg.Retry.MaxDelayMs = 0
	cfg.Retry.BaseDelayMs = 100
	err := cfg.Validate()
	require.Error(t, err)
	verrs, ok := err.(ValidationErrors)
	require.True(t, ok)
	assert.GreaterOrEqual(t, len(verrs), 2)
}

func TestValidateRejectsOutOfRangeSimilarityThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Conflict.DuplicateSimilarityThreshold = 1.5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownLoggingLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Logging.Level = "verbose"
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMalformedObserverListenAddress(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workspace = t.TempDir()
	cfg.Observer.Enabled = true
	cfg.Observer.Listen = "not-an-address"
	require.Error(t, cfg.Validate())
}

func TestLoadAppliesDefaultsWhenNoConfigFilePresent(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	cfg, loadErr := Load("")
	require.NoError(t, loadErr)
	assert.Equal(t, 10000, cfg.Queue.MaxQueueSize)
}

func TestLoadReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	workspace := filepath.Join(dir, "workspace")
	require.NoError(t, os.Mkdir(workspace, 0755))

	configPath := filepath.Join(dir, "specsync.yaml")
	yaml := "workspace: " + workspace + "\nqueue:\n  max_queue_size: 42\n  max_batch_size: 5\n  processing_interval_ms: 500\n"
	require.NoError(t, os.WriteFile(configPath, []byte(yaml), 0644))

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Queue.MaxQueueSize)
	assert.Equal(t, workspace, cfg.Workspace)
}
