package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-kad/config"
)

// TestLoadConfig_FlagsOverride 命令行参数覆盖配置文件
func TestLoadConfig_FlagsOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kad.toml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr = \"127.0.0.1:4100\"\n"), 0o600))

	runFlags.configFile = path
	runFlags.seeds = []string{"127.0.0.1:4000"}
	runFlags.metricsAddr = ":9100"
	t.Cleanup(func() { runFlags.configFile, runFlags.seeds, runFlags.metricsAddr = "", nil, "" })

	cfg, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:4100", cfg.ListenAddr)
	assert.Equal(t, []string{"127.0.0.1:4000"}, cfg.Bootstrap.Seeds)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

// TestLoadConfig_InvalidSeed 无效种子地址被拒绝
func TestLoadConfig_InvalidSeed(t *testing.T) {
	runFlags.seeds = []string{"not-an-addr"}
	t.Cleanup(func() { runFlags.seeds = nil })

	_, err := loadConfig()
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

// TestConfigCmd 输出可再次解析的默认配置
func TestConfigCmd(t *testing.T) {
	var out bytes.Buffer
	configCmd.SetOut(&out)
	require.NoError(t, configCmd.RunE(configCmd, nil))

	cfg, err := config.FromJSON(out.Bytes())
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}
