package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cv-match-go/internal/config"
)

func TestNewStorageNilConfig(t *testing.T) {
	s, err := NewStorage(context.Background(), nil)
	require.Error(t, err, "空配置应返回错误")
	assert.Nil(t, s, "出错时不应返回管理器")
}

// MySQL是硬依赖：连不上数据库时整体初始化必须失败，
// 而不是返回一个MySQL为nil的降级实例。
func TestNewStorageFailsFastWithoutMySQL(t *testing.T) {
	cfg := &config.Config{
		MySQL: config.MySQLConfig{
			Host:     "127.0.0.1",
			Port:     1, // 不可达端口，连接立即被拒绝
			Username: "root",
			Password: "root",
			Database: "cv_match",
		},
	}

	s, err := NewStorage(context.Background(), cfg)
	require.Error(t, err, "MySQL初始化失败应使整体初始化失败")
	assert.Nil(t, s, "MySQL不可用时不应返回降级的管理器")
	assert.Contains(t, err.Error(), "MySQL", "错误信息应指明失败的组件")
}
