package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imsec/script"
)

func TestDefaultConfigPolicyIsRebase(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, script.NormalizeRebase, cfg.Policy())
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers: 4\nnormalization_policy: clamp\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxWorkers)
	assert.Equal(t, script.NormalizeClamp, cfg.Policy())
}

func TestBuiltinEnabledDefaultsToAllWhenUnset(t *testing.T) {
	cfg := DefaultConfig()
	assert.True(t, cfg.BuiltinEnabled("shift"))
}

func TestBuiltinEnabledRespectsAllowlist(t *testing.T) {
	cfg := DefaultConfig()
	cfg.EnabledBuiltins = []string{"shift", "mean"}
	assert.True(t, cfg.BuiltinEnabled("shift"))
	assert.False(t, cfg.BuiltinEnabled("external"))
}
