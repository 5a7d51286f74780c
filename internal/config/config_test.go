package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadDefaults 无配置文件时使用默认值
func TestLoadDefaults(t *testing.T) {
	cfg, err := NewManager().Load()
	require.NoError(t, err)

	assert.Equal(t, ":4444", cfg.Server.ListenAddr)
	assert.Empty(t, cfg.Server.HTTPAddr)
	assert.Equal(t, 5*time.Second, cfg.Analysis.DrainInterval)
	assert.Empty(t, cfg.Analysis.FillWords)
	assert.False(t, cfg.Database.Enabled)
}

// TestLoadFromFile 从YAML文件加载词表与地址
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen_addr: "127.0.0.1:5555"
  http_addr: "127.0.0.1:8088"
analysis:
  drain_interval: 2s
  fill_words: [das, ist, oder]
  trigger_words:
    positive: [super]
    neutral: [okay]
    negative: [schlecht]
logging:
  debug: true
`), 0o644))

	cfg, err := NewManager(WithConfigPath(path)).Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:5555", cfg.Server.ListenAddr)
	assert.Equal(t, "127.0.0.1:8088", cfg.Server.HTTPAddr)
	assert.Equal(t, 2*time.Second, cfg.Analysis.DrainInterval)
	assert.Equal(t, []string{"das", "ist", "oder"}, cfg.Analysis.FillWords)
	assert.Equal(t, []string{"super"}, cfg.Analysis.TriggerWords.Positive)
	assert.Equal(t, []string{"okay"}, cfg.Analysis.TriggerWords.Neutral)
	assert.Equal(t, []string{"schlecht"}, cfg.Analysis.TriggerWords.Negative)
	assert.True(t, cfg.Logging.Debug)
}

// TestLoadValidation 非法地址和非正的消费间隔被拒绝
func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"bad listen addr": `
server:
  listen_addr: "not-an-addr"
`,
		"bad drain interval": `
analysis:
  drain_interval: -1s
`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "relay.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

			_, err := NewManager(WithConfigPath(path)).Load()
			assert.Error(t, err)
		})
	}
}

// TestLoadMissingFile 指定的配置文件不存在时报错
func TestLoadMissingFile(t *testing.T) {
	_, err := NewManager(WithConfigPath("/nonexistent/relay.yaml")).Load()
	assert.Error(t, err)
}

// TestCurrentReflectsLoad Current返回最近一次成功加载的配置
func TestCurrentReflectsLoad(t *testing.T) {
	m := NewManager()
	assert.Nil(t, m.Current())

	cfg, err := m.Load()
	require.NoError(t, err)
	assert.Same(t, cfg, m.Current())
}

// TestSetOnChangeAfterLoad Load之后注册的回调在重载时被调用
func TestSetOnChangeAfterLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  fill_words: [das]
`), 0o644))

	m := NewManager(WithConfigPath(path))
	_, err := m.Load()
	require.NoError(t, err)

	var got *Config
	m.SetOnChange(func(cfg *Config) { got = cfg })

	require.NoError(t, os.WriteFile(path, []byte(`
analysis:
  fill_words: [das, ist]
`), 0o644))
	m.reload()

	require.NotNil(t, got)
	assert.Equal(t, []string{"das", "ist"}, got.Analysis.FillWords)
	assert.Same(t, got, m.Current())
}
