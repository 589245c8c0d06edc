package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	t.Run("reads toml config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strix.toml")
		content := `
[database]
path = "/cases/alpha/strix.db"

[semantic]
rules_path = "/cases/alpha/rules"
min_indicators_required = 2
use_query_path = true
`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, "/cases/alpha/strix.db", cfg.Database.Path)
		assert.Equal(t, "/cases/alpha/rules", cfg.Semantic.RulesPath)
		assert.Equal(t, 2, cfg.Semantic.MinIndicatorsRequired)
		assert.True(t, cfg.Semantic.UseQueryPath)
		assert.False(t, cfg.Semantic.EnableFTS)
	})

	t.Run("missing file errors", func(t *testing.T) {
		_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.toml"))
		assert.Error(t, err)
	})

	t.Run("min indicators clamped to 1", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "strix.toml")
		require.NoError(t, os.WriteFile(path, []byte("[semantic]\nmin_indicators_required = 0\n"), 0o644))

		cfg, err := LoadFromFile(path)
		require.NoError(t, err)
		assert.Equal(t, 1, cfg.Semantic.MinIndicatorsRequired)
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "strix.db", cfg.Database.Path)
	assert.Equal(t, 1, cfg.Semantic.MinIndicatorsRequired)
	assert.False(t, cfg.Semantic.UseQueryPath)
}
