package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	require.NoError(t, config.Validate())
	assert.Equal(t, "kompics-app", config.App.Name)
	assert.True(t, config.IsDevelopment())
	assert.False(t, config.IsProduction())
	assert.Equal(t, LogLevelInfo, config.GetLogLevel())
	assert.Equal(t, 1, config.Runtime.MaxEventsPerBatch)
	assert.Equal(t, RestartScopeSubtree, config.Runtime.RestartScope)
	assert.Equal(t, 5*time.Second, config.Runtime.ShutdownTimeout)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"empty app name", func(c *Config) { c.App.Name = "" }, ErrInvalidAppName},
		{"invalid environment", func(c *Config) { c.App.Environment = "moon" }, ErrInvalidEnvironment},
		{"invalid log level", func(c *Config) { c.Log.Level = "loud" }, ErrInvalidLogLevel},
		{"invalid log format", func(c *Config) { c.Log.Format = "xml" }, ErrInvalidLogFormat},
		{"negative workers", func(c *Config) { c.Runtime.Workers = -1 }, ErrInvalidWorkers},
		{"negative batch", func(c *Config) { c.Runtime.MaxEventsPerBatch = -1 }, ErrInvalidBatchSize},
		{"negative free list", func(c *Config) { c.Runtime.FreeListSize = -5 }, ErrInvalidFreeListSize},
		{"negative timeout", func(c *Config) { c.Runtime.ShutdownTimeout = -time.Second }, ErrInvalidShutdownTimeout},
		{"unknown restart scope", func(c *Config) { c.Runtime.RestartScope = "world" }, ErrInvalidRestartScope},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Address = ""
		}, ErrInvalidMetricsAddress},
		{"component scope", func(c *Config) { c.Runtime.RestartScope = RestartScopeComponent }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(config)
			err := config.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestConfigClone(t *testing.T) {
	config := DefaultConfig()
	config.Log.Fields = map[string]string{"node": "a"}

	clone := config.Clone()
	clone.Log.Fields["node"] = "b"
	clone.Runtime.Workers = 8

	assert.Equal(t, "a", config.Log.Fields["node"])
	assert.Zero(t, config.Runtime.Workers)
}

// newTestLoader returns a loader that sees only env
func newTestLoader(env map[string]string) *Loader {
	l := NewLoader().SetSearchPaths(nil)
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoadFromReader(t *testing.T) {
	t.Run("yaml keeps defaults for missing fields", func(t *testing.T) {
		yml := `
app:
  name: pingpong
runtime:
  workers: 3
  shutdown_timeout: 2s
log:
  level: debug
  format: json
`
		config, err := newTestLoader(nil).LoadFromReader(strings.NewReader(yml), FormatYAML)
		require.NoError(t, err)

		assert.Equal(t, "pingpong", config.App.Name)
		assert.Equal(t, EnvDevelopment, config.App.Environment)
		assert.Equal(t, 3, config.Runtime.Workers)
		assert.Equal(t, 2*time.Second, config.Runtime.ShutdownTimeout)
		assert.Equal(t, 1000, config.Runtime.FreeListSize)
		assert.Equal(t, LogLevelDebug, config.Log.Level)
		assert.Equal(t, "json", config.Log.Format)
	})

	t.Run("json", func(t *testing.T) {
		js := `{"app": {"name": "svc", "environment": "production"}, "runtime": {"max_events_per_batch": 16}}`
		config, err := newTestLoader(nil).LoadFromReader(strings.NewReader(js), FormatJSON)
		require.NoError(t, err)

		assert.True(t, config.IsProduction())
		assert.Equal(t, 16, config.Runtime.MaxEventsPerBatch)
	})

	t.Run("parse error", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFromReader(strings.NewReader("{"), FormatJSON)
		assert.ErrorIs(t, err, ErrConfigParseError)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFromReader(strings.NewReader(""), "toml")
		assert.ErrorIs(t, err, ErrUnsupportedFormat)
	})

	t.Run("invalid values fail validation", func(t *testing.T) {
		_, err := newTestLoader(nil).LoadFromReader(strings.NewReader("runtime:\n  restart_scope: all\n"), FormatYAML)
		assert.ErrorIs(t, err, ErrInvalidRestartScope)
	})
}

func TestLoadFromEnv(t *testing.T) {
	env := map[string]string{
		"KOMPICS_APP_NAME":                     "from-env",
		"KOMPICS_LOG_LEVEL":                    "WARN",
		"KOMPICS_RUNTIME_WORKERS":              "6",
		"KOMPICS_RUNTIME_MAX_EVENTS_PER_BATCH": "32",
		"KOMPICS_RUNTIME_SHUTDOWN_TIMEOUT":     "250ms",
		"KOMPICS_RUNTIME_RESTART_SCOPE":        "Component",
		"KOMPICS_METRICS_ENABLED":              "true",
		"KOMPICS_METRICS_ADDRESS":              "127.0.0.1:0",
	}

	config, err := newTestLoader(env).Load("")
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.App.Name)
	assert.Equal(t, LogLevelWarn, config.Log.Level)
	assert.Equal(t, 6, config.Runtime.Workers)
	assert.Equal(t, 32, config.Runtime.MaxEventsPerBatch)
	assert.Equal(t, 250*time.Millisecond, config.Runtime.ShutdownTimeout)
	assert.Equal(t, RestartScopeComponent, config.Runtime.RestartScope)
	assert.True(t, config.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:0", config.Metrics.Address)
}

func TestLoadFromEnv_BadValues(t *testing.T) {
	for _, key := range []string{"KOMPICS_RUNTIME_WORKERS", "KOMPICS_RUNTIME_SHUTDOWN_TIMEOUT"} {
		t.Run(key, func(t *testing.T) {
			_, err := newTestLoader(map[string]string{key: "lots"}).Load("")
			assert.ErrorIs(t, err, ErrEnvironmentVarError)
		})
	}
}

func TestLoadFromEnv_Process(t *testing.T) {
	t.Setenv("KOMPICS_RUNTIME_WORKERS", "2")

	config, err := NewLoader().SetSearchPaths(nil).Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, config.Runtime.Workers)
}

func TestFileOverriddenByEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kompics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  workers: 2\n"), 0o644))

	config, err := newTestLoader(map[string]string{"KOMPICS_RUNTIME_WORKERS": "9"}).LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9, config.Runtime.Workers)
}

func TestAutoLoad(t *testing.T) {
	t.Run("no file uses defaults", func(t *testing.T) {
		config, err := newTestLoader(nil).SetSearchPaths([]string{t.TempDir()}).AutoLoad()
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().App.Name, config.App.Name)
	})

	t.Run("finds the first match", func(t *testing.T) {
		empty, dir := t.TempDir(), t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"app": {"name": "json"}}`), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "kompics.yml"), []byte("app:\n  name: yml\n"), 0o644))

		l := newTestLoader(nil).SetSearchPaths([]string{empty, dir})
		found, err := l.FindConfigFile()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "kompics.yml"), found)

		config, err := l.AutoLoad()
		require.NoError(t, err)
		assert.Equal(t, "yml", config.App.Name)
	})

	t.Run("broken file is an error", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "kompics.yaml"), []byte("app: [\n"), 0o644))

		_, err := newTestLoader(nil).SetSearchPaths([]string{dir}).AutoLoad()
		assert.ErrorIs(t, err, ErrConfigParseError)
	})
}

func TestLoadFromFile_Errors(t *testing.T) {
	l := newTestLoader(nil)

	_, err := l.LoadFromFile("settings.toml")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = l.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kompics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	w, err := NewWatcher(path, newTestLoader(nil), nil)
	require.NoError(t, err)
	w.SetDebounce(20 * time.Millisecond)
	require.NoError(t, w.Start())
	t.Cleanup(func() { _ = w.Stop() })

	assert.Equal(t, LogLevelInfo, w.GetConfig().Log.Level)

	changes := make(chan LogLevel, 4)
	w.OnConfigChange(func(_, newConfig *Config) {
		panic("first callback fails")
	})
	w.OnConfigChange(func(oldConfig, newConfig *Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			changes <- newConfig.Log.Level
		}
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))

	select {
	case level := <-changes:
		assert.Equal(t, LogLevelDebug, level)
	case <-time.After(5 * time.Second):
		t.Fatal("configuration change was not observed")
	}
	assert.Equal(t, LogLevelDebug, w.GetConfig().Log.Level)
}

func TestWatcher_BadReloadKeepsConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kompics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  workers: 2\n"), 0o644))

	w, err := NewWatcher(path, newTestLoader(nil), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Stop() })

	var calls atomic.Int32
	w.OnConfigChange(func(_, _ *Config) { calls.Add(1) })

	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  workers: -3\n"), 0o644))
	assert.ErrorIs(t, w.Reload(), ErrInvalidWorkers)
	assert.Equal(t, 2, w.GetConfig().Runtime.Workers)
	assert.Zero(t, calls.Load())

	require.NoError(t, os.WriteFile(path, []byte("runtime:\n  workers: 4\n"), 0o644))
	require.NoError(t, w.Reload())
	assert.Equal(t, 4, w.GetConfig().Runtime.Workers)
	assert.EqualValues(t, 1, calls.Load())
}

func TestNewWatcher_Errors(t *testing.T) {
	_, err := NewWatcher("config.ini", newTestLoader(nil), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NewWatcher(filepath.Join(t.TempDir(), "none.yaml"), newTestLoader(nil), nil)
	assert.Error(t, err)
}
