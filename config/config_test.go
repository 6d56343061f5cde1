package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewConfig 默认配置有效
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	require.NotNil(t, cfg)
	assert.NoError(t, cfg.Validate())

	assert.Equal(t, 20, cfg.Routing.BucketSize)
	assert.Equal(t, 3, cfg.Lookup.Alpha)
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Max.Duration())
}

// TestConfig_Validate 无效字段被拒绝
func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(c *Config){
		"EmptyListen":    func(c *Config) { c.ListenAddr = "" },
		"BadNodeID":      func(c *Config) { c.NodeID = "zz" },
		"ZeroAlpha":      func(c *Config) { c.Lookup.Alpha = 0 },
		"MaxBelowMin":    func(c *Config) { c.Timeouts.Max = Duration(time.Millisecond) },
		"BadSeed":        func(c *Config) { c.Bootstrap.Seeds = []string{"nope"} },
		"UnknownGtAlive": func(c *Config) { c.Routing.MaxFailuresUnknown = 9 },
		"ZeroRate":       func(c *Config) { c.Handler.RequestsPerSecond = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := NewConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

// TestDuration_JSON 字符串与纳秒两种写法
func TestDuration_JSON(t *testing.T) {
	cfg, err := FromJSON([]byte(`{"timeouts":{"default":"2s","min":100000000}}`))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Default.Duration())
	assert.Equal(t, 100*time.Millisecond, cfg.Timeouts.Min.Duration())

	// 未出现的字段保留默认值
	assert.Equal(t, 10*time.Second, cfg.Timeouts.Max.Duration())

	_, err = FromJSON([]byte(`{"timeouts":{"default":"soon"}}`))
	assert.Error(t, err)
}

// TestLoad_TOML 从 TOML 文件加载
func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kad.toml")
	data := `
listen_addr = "127.0.0.1:4100"
data_dir = "/tmp/kad"

[lookup]
alpha = 5

[routing]
refresh_interval = "10m"

[bootstrap]
seeds = ["127.0.0.1:4000"]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4100", cfg.ListenAddr)
	assert.Equal(t, 5, cfg.Lookup.Alpha)
	assert.Equal(t, 10*time.Minute, cfg.Routing.RefreshInterval.Duration())
	assert.Equal(t, filepath.Join("/tmp/kad", "kad.db"), cfg.DBPath())

	seeds, err := cfg.Bootstrap.SeedAddrs()
	require.NoError(t, err)
	require.Len(t, seeds, 1)
	assert.Equal(t, uint16(4000), seeds[0].Port())
}

// TestLoad_JSON 从 JSON 文件加载
func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"lookup":{"max_stall_rounds":4}}`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Lookup.MaxStallRounds)
}

// TestLoad_UnsupportedExt 未知扩展名
func TestLoad_UnsupportedExt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: 1"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// TestConfig_Convert 转换为组件配置
func TestConfig_Convert(t *testing.T) {
	cfg := NewConfig()
	cfg.Routing.BucketSize = 8
	cfg.Timeouts.Min = Duration(200 * time.Millisecond)

	rc := cfg.RoutingConfig()
	assert.Equal(t, 8, rc.BucketSize)
	assert.Equal(t, 200*time.Millisecond, rc.Policy.MinTimeout)
	assert.Equal(t, 4, rc.Policy.MaxFailuresForAlive)

	assert.Equal(t, 8, cfg.LookupConfig().BucketSize)
	assert.Equal(t, 8, cfg.NetsizeConfig().BucketSize)
	assert.Equal(t, 8, cfg.HandlerConfig().BucketSize)
	assert.Equal(t, 5*time.Second, cfg.DispatcherConfig().DefaultTimeout)
	assert.Equal(t, cfg.ListenAddr, cfg.TransportConfig().ListenAddr)

	_, ok, err := cfg.LocalNodeID()
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestConfig_ToJSON 序列化后可再次加载
func TestConfig_ToJSON(t *testing.T) {
	cfg := NewConfig()
	cfg.Bootstrap.Seeds = []string{"10.0.0.1:4000"}
	data, err := cfg.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"refresh_interval": "30m0s"`)

	back, err := FromJSON(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}
