package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-match-go/internal/constants"
)

func TestLoadConfigDefaults(t *testing.T) {
	// 指向不存在的文件时全部走默认值
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "qwen-plus", cfg.Aliyun.Model)
	assert.Equal(t, 1024, cfg.Aliyun.Embedding.Dimensions)
	assert.Equal(t, "cv_match", cfg.MySQL.Database)
	assert.Equal(t, constants.DefaultSearchLimit, cfg.Search.DefaultLimit)
	assert.False(t, cfg.RabbitMQ.Enabled, "消息队列默认关闭")
	assert.False(t, cfg.Tracing.Enabled, "链路追踪默认关闭")
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: ":9090"
aliyun:
  model: qwen-max
mysql:
  host: db.internal
  port: 3307
match:
  cache_time_seconds: 3600
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, "qwen-max", cfg.Aliyun.Model)
	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, 3307, cfg.MySQL.Port)
	assert.Equal(t, time.Hour, cfg.Match.CacheDuration())
	// 文件未覆盖的字段保留默认值
	assert.Equal(t, "root", cfg.MySQL.Username)
	assert.Equal(t, 1024, cfg.Aliyun.Embedding.Dimensions)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mysql:
  host: from-file
`), 0o600))

	t.Setenv("MYSQL_HOST", "from-env")
	t.Setenv("MYSQL_PORT", "3310")
	t.Setenv("ALIYUN_API_KEY", "sk-test")
	t.Setenv("SERVER_API_KEY", "secret")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.MySQL.Host, "环境变量优先级高于配置文件")
	assert.Equal(t, 3310, cfg.MySQL.Port)
	assert.Equal(t, "sk-test", cfg.Aliyun.APIKey)
	assert.Equal(t, "secret", cfg.Server.APIKey)
}

func TestLoadConfigInvalidDimensions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
aliyun:
  embedding:
    dimensions: -1
`), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err, "非法的embedding维度应拒绝启动")
}

func TestMySQLDSN(t *testing.T) {
	c := MySQLConfig{Host: "localhost", Port: 3306, Username: "root", Password: "pw", Database: "cv_match"}
	assert.Equal(t, "root:pw@tcp(localhost:3306)/cv_match?charset=utf8mb4&parseTime=True&loc=Local", c.DSN())
}

func TestMatchCacheDurationFallback(t *testing.T) {
	var c MatchConfig
	assert.Equal(t, time.Duration(constants.DefaultMatchCacheSeconds)*time.Second, c.CacheDuration(), "未配置TTL时使用默认值")
}
