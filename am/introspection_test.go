package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkSettingsFromSource(t *testing.T) {
	t.Run("Nested settings", func(t *testing.T) {
		settings := map[string]interface{}{
			"pipeline": map[string]interface{}{
				"max_attempts": 5,
			},
			"remote": map[string]interface{}{
				"retry": map[string]interface{}{
					"exponent": 1.5,
				},
			},
		}

		sourceMap := make(map[string]SourceInfo)
		markSettingsFromSource(settings, "", SourceUser, "/home/user/.scribe/am.toml", sourceMap)

		assert.Len(t, sourceMap, 2)
		assert.Equal(t, SourceUser, sourceMap["pipeline.max_attempts"].Source)
		assert.Equal(t, SourceUser, sourceMap["remote.retry.exponent"].Source)
		assert.Equal(t, "/home/user/.scribe/am.toml", sourceMap["remote.retry.exponent"].Path)
	})
}

func TestFlattenSettingsWithSources(t *testing.T) {
	t.Run("Environment variable override", func(t *testing.T) {
		t.Setenv("SCRIBE_PIPELINE_MAX_ATTEMPTS", "9")

		settings := map[string]interface{}{
			"pipeline": map[string]interface{}{"max_attempts": 3},
		}
		sourceMap := map[string]SourceInfo{
			"pipeline.max_attempts": {Source: SourceProject, Path: "/p/am.toml"},
		}

		introspection := &ConfigIntrospection{Settings: make([]SettingInfo, 0)}
		flattenSettingsWithSources(settings, "", introspection, sourceMap)

		require.Len(t, introspection.Settings, 1)
		assert.Equal(t, SourceEnvironment, introspection.Settings[0].Source)
		assert.Equal(t, "SCRIBE_PIPELINE_MAX_ATTEMPTS", introspection.Settings[0].SourcePath)
	})

	t.Run("Default source for unmapped settings", func(t *testing.T) {
		settings := map[string]interface{}{
			"watch": map[string]interface{}{"debounce_ms": 2000},
		}

		introspection := &ConfigIntrospection{Settings: make([]SettingInfo, 0)}
		flattenSettingsWithSources(settings, "", introspection, map[string]SourceInfo{})

		require.Len(t, introspection.Settings, 1)
		assert.Equal(t, SourceDefault, introspection.Settings[0].Source)
		assert.Equal(t, "built-in default", introspection.Settings[0].SourcePath)
	})

	t.Run("API key is redacted", func(t *testing.T) {
		settings := map[string]interface{}{
			"remote": map[string]interface{}{"api_key": "sk-secret"},
		}

		introspection := &ConfigIntrospection{Settings: make([]SettingInfo, 0)}
		flattenSettingsWithSources(settings, "", introspection, map[string]SourceInfo{})

		require.Len(t, introspection.Settings, 1)
		assert.Equal(t, "********", introspection.Settings[0].Value)
	})
}

func TestGetConfigIntrospection(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	require.NoError(t, os.MkdirAll(filepath.Join(home, ".scribe"), 0750))
	userConfig := filepath.Join(home, ".scribe", "am.toml")
	require.NoError(t, os.WriteFile(userConfig, []byte("[media]\nsample_rate = 22050\n"), 0644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(home))
	t.Cleanup(func() { os.Chdir(wd) })

	t.Setenv("SCRIBE_WATCH_DEBOUNCE_MS", "99")

	Reset()
	t.Cleanup(Reset)

	introspection, err := GetConfigIntrospection()
	require.NoError(t, err)

	settingsByKey := make(map[string]SettingInfo)
	lastKey := ""
	for _, setting := range introspection.Settings {
		settingsByKey[setting.Key] = setting
		assert.True(t, setting.Key >= lastKey, "settings should be sorted: %s after %s", setting.Key, lastKey)
		lastKey = setting.Key
	}

	assert.Equal(t, SourceUser, settingsByKey["media.sample_rate"].Source)
	assert.Equal(t, userConfig, settingsByKey["media.sample_rate"].SourcePath)
	assert.Equal(t, SourceEnvironment, settingsByKey["watch.debounce_ms"].Source)
	assert.Equal(t, SourceDefault, settingsByKey["pipeline.max_attempts"].Source)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 22050, cfg.Media.SampleRate)
	assert.Equal(t, 99, cfg.Watch.DebounceMS)
}
