package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// ClientConfig 客户端配置，保存在 ~/.im-sync/client.toml
type ClientConfig struct {
	Server ClientServerConfig `toml:"server"`
	Auth   ClientAuthConfig   `toml:"auth"`
	Store  ClientStoreConfig  `toml:"store"`
	Sync   ClientSyncConfig   `toml:"sync"`
	Log    LogConfig          `toml:"log"`
}

// ClientServerConfig 服务端地址
type ClientServerConfig struct {
	BaseURL string `toml:"base_url"` // HTTP 地址，例如 http://localhost:8080
	WSURL   string `toml:"ws_url"`   // WebSocket 地址，留空时由 base_url 推导
}

// ClientAuthConfig 登录状态
type ClientAuthConfig struct {
	Token    string `toml:"token"`
	UserID   uint   `toml:"user_id"`
	Username string `toml:"username"`
}

// ClientStoreConfig 本地数据库
type ClientStoreConfig struct {
	Path string `toml:"path"` // sqlite 文件路径
}

// ClientSyncConfig 拉取同步调度
type ClientSyncConfig struct {
	Cron        string        `toml:"cron"`         // cron 表达式，优先于 interval
	Interval    time.Duration `toml:"interval"`     // 固定间隔
	PageSize    int           `toml:"page_size"`    // 每页条数
	MaxPages    int           `toml:"max_pages"`    // 单次同步最多拉取的页数
	MaxAttempts int           `toml:"max_attempts"` // 单次运行最多连续失败次数
	RetryDelay  time.Duration `toml:"retry_delay"`  // 两次尝试之间的等待
	HTTPTimeout time.Duration `toml:"http_timeout"` // 单次请求超时
}

// DefaultClientConfig 客户端默认配置
func DefaultClientConfig() *ClientConfig {
	home, _ := os.UserHomeDir()
	return &ClientConfig{
		Server: ClientServerConfig{
			BaseURL: "http://localhost:8080",
		},
		Store: ClientStoreConfig{
			Path: filepath.Join(home, ".im-sync", "local.db"),
		},
		Sync: ClientSyncConfig{
			Interval:    5 * time.Minute,
			PageSize:    100,
			MaxPages:    1000,
			MaxAttempts: 3,
			RetryDelay:  5 * time.Second,
			HTTPTimeout: 15 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Filename:   filepath.Join(home, ".im-sync", "client.log"),
			MaxSize:    20,
			MaxBackups: 2,
			MaxAge:     7,
		},
	}
}

// DefaultClientConfigPath 返回 ~/.im-sync/client.toml
func DefaultClientConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("无法获取用户目录: %w", err)
	}
	return filepath.Join(home, ".im-sync", "client.toml"), nil
}

// LoadClientConfig 读取客户端配置，文件不存在时返回默认值
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("读取客户端配置失败: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析客户端配置失败: %w", err)
	}
	return cfg, nil
}

// SaveClientConfig 写回客户端配置（登录后保存令牌）
func SaveClientConfig(path string, cfg *ClientConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("序列化客户端配置失败: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("写入客户端配置失败: %w", err)
	}
	return nil
}
