package main

import (
	"fmt"
	"os"
	"strconv"

	"im-sync/config"
	"im-sync/internal/client/api"
	"im-sync/internal/client/localstore"
	"im-sync/internal/client/reconciler"
	"im-sync/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	configPath string

	// 会话目标
	toUser  uint
	toGroup uint
)

var rootCmd = &cobra.Command{
	Use:   "im-client",
	Short: "im-sync 命令行客户端",
	Long:  "登录、拉取同步、监听实时通道并收发消息。\n本地数据保存在 sqlite 中，配置保存在 ~/.im-sync/client.toml。",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath != "" {
			return nil
		}
		path, err := config.DefaultClientConfigPath()
		if err != nil {
			return err
		}
		configPath = path
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "客户端配置文件（默认 ~/.im-sync/client.toml）")
	rootCmd.AddCommand(loginCmd, syncCmd, listenCmd, sendCmd, resendCmd, readCmd, threadsCmd, draftCmd)
}

// env 一次命令执行所需的依赖
type env struct {
	cfg   *config.ClientConfig
	api   *api.Client
	store *localstore.Store
	rec   *reconciler.Reconciler
}

func (e *env) Close() {
	if e.store != nil {
		_ = e.store.Close()
	}
	_ = logger.Sync()
}

// loadConfig 读取配置并初始化日志
func loadConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger.InitLogger(cfg.Log)
	return cfg, nil
}

// openEnv 需要登录态的命令使用
func openEnv() (*env, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Auth.Token == "" || cfg.Auth.UserID == 0 {
		return nil, fmt.Errorf("尚未登录，请先执行 im-client login")
	}
	store, err := localstore.Open(cfg.Store.Path)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:   cfg,
		api:   api.New(cfg.Server.BaseURL, cfg.Auth.Token, cfg.Sync.HTTPTimeout),
		store: store,
		rec:   reconciler.New(store, cfg.Auth.UserID),
	}, nil
}

// target 由 --to / --group 得到会话
func target() (localstore.ThreadKey, error) {
	switch {
	case toUser != 0 && toGroup != 0:
		return localstore.ThreadKey{}, fmt.Errorf("--to 和 --group 只能指定一个")
	case toUser != 0:
		return localstore.DirectThread(toUser), nil
	case toGroup != 0:
		return localstore.GroupThread(toGroup), nil
	default:
		return localstore.ThreadKey{}, fmt.Errorf("需要 --to 或 --group")
	}
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().UintVar(&toUser, "to", 0, "单聊对方用户ID")
	cmd.Flags().UintVar(&toGroup, "group", 0, "群ID")
}

func threadLabel(k localstore.ThreadKey) string {
	if k.Type == localstore.ThreadGroup {
		return "群" + strconv.FormatUint(uint64(k.ID), 10)
	}
	return "用户" + strconv.FormatUint(uint64(k.ID), 10)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
