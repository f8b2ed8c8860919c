package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"im-sync/config"
	"im-sync/internal/client/api"
	"im-sync/internal/client/localstore"
	"im-sync/internal/client/session"
	"im-sync/internal/client/syncagent"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/protocol"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	loginRegister    bool
	loginDisplayName string
	sendMedia        string
	ackWait          time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "登录（或 --register 注册）并保存令牌",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()

		client := api.New(cfg.Server.BaseURL, "", cfg.Sync.HTTPTimeout)
		var sess *api.Session
		if loginRegister {
			sess, err = client.Register(cmd.Context(), args[0], args[1], loginDisplayName)
		} else {
			sess, err = client.Login(cmd.Context(), args[0], args[1])
		}
		if err != nil {
			return err
		}

		// 换号登录时本地镜像属于另一个用户，需要指定新的 store.path
		if cfg.Auth.UserID != 0 && cfg.Auth.UserID != sess.User.ID {
			fmt.Fprintf(os.Stderr, "警告: 本地数据库属于用户 %d，请修改 store.path\n", cfg.Auth.UserID)
		}
		cfg.Auth = config.ClientAuthConfig{Token: sess.AccessToken, UserID: sess.User.ID, Username: sess.User.Username}
		if err := config.SaveClientConfig(configPath, cfg); err != nil {
			return err
		}
		fmt.Printf("已登录 %s (id=%d)\n", sess.User.Username, sess.User.ID)
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "立即拉取同步一次",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		agent := syncagent.NewAgent(e.store, e.rec, e.api, e.cfg.Sync)
		res, err := agent.RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("同步 %d 页，%d 条消息，%d 条删除，游标 %d\n", res.Pages, res.Messages, res.Tombstones, res.Cursor)
		if !res.Complete {
			fmt.Println("达到单次页数上限，剩余数据将在下次同步")
		}
		return nil
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "保持实时连接并按计划同步，Ctrl-C 退出",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		agent := syncagent.NewAgent(e.store, e.rec, e.api, e.cfg.Sync)
		scheduler, err := syncagent.NewScheduler(agent, e.cfg.Sync)
		if err != nil {
			return err
		}
		go func() { _ = scheduler.Run(ctx) }()

		sess := session.New(e.store, e.rec, session.Handlers{
			OnConnected: scheduler.Trigger,
			OnChat: func(chat *protocol.Chat, created bool) {
				if created {
					fmt.Printf("[%d] %s: %s%s\n", chat.Timestamp, chat.SenderName, chat.Content, chat.MediaKey)
				}
			},
			OnPresence: func(userID uint, status string) { fmt.Printf("用户 %d %s\n", userID, status) },
			OnTyping: func(t *protocol.Typing) {
				if t.IsTyping {
					fmt.Printf("用户 %d 正在输入...\n", t.SenderID)
				}
			},
			OnSignal: func(s *protocol.Signal) { fmt.Printf("来自用户 %d 的呼叫信令 %s\n", s.SenderID, s.Type) },
		})
		defer sess.Close()

		return serveWithReconnect(ctx, e.cfg, sess)
	},
}

// serveWithReconnect 断线后按退避间隔重连，认证失败直接退出
func serveWithReconnect(ctx context.Context, cfg *config.ClientConfig, sess *session.Session) error {
	wsURL, err := wsURLFor(cfg)
	if err != nil {
		return err
	}
	log := logger.Named("listen")
	delay := time.Second
	for {
		err := sess.Connect(ctx, wsURL, cfg.Auth.Token)
		if err == nil {
			delay = time.Second
			err = sess.Serve(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, errs.ErrAuthentication) {
			return err
		}
		log.Warn("实时通道断开，稍后重连", zap.Duration("delay", delay), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if delay < 30*time.Second {
			delay *= 2
		}
	}
}

func wsURLFor(cfg *config.ClientConfig) (string, error) {
	if cfg.Server.WSURL != "" {
		return cfg.Server.WSURL, nil
	}
	return api.WebSocketURL(cfg.Server.BaseURL)
}

// withSession 连接实时通道，执行 fn 后等待服务端确认
func withSession(ctx context.Context, e *env, fn func(ctx context.Context, s *session.Session) (string, error)) error {
	wsURL, err := wsURLFor(e.cfg)
	if err != nil {
		return err
	}
	sess := session.New(e.store, e.rec, session.Handlers{})
	if err := sess.Connect(ctx, wsURL, e.cfg.Auth.Token); err != nil {
		return err
	}
	defer sess.Close()

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = sess.Serve(serveCtx) }()

	cid, err := fn(ctx, sess)
	if err != nil || cid == "" {
		return err
	}
	return waitAck(ctx, e.store, cid)
}

// waitAck 轮询本地状态直到消息离开 SENDING
func waitAck(ctx context.Context, store *localstore.Store, cid string) error {
	deadline := time.Now().Add(ackWait)
	for time.Now().Before(deadline) {
		m, err := store.GetMessage(ctx, cid)
		if err != nil {
			return err
		}
		switch m.Status {
		case localstore.StatusSending:
		case localstore.StatusFailed:
			return fmt.Errorf("消息 %s 发送失败，可用 resend 重发", cid)
		default:
			fmt.Printf("%s %s (server id %s)\n", cid, m.Status, m.ServerID)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	fmt.Printf("%s 仍在发送中，未收到确认时可用 resend 重发\n", cid)
	return nil
}

var sendCmd = &cobra.Command{
	Use:   "send <content>",
	Short: "发送消息（--to 用户 或 --group 群）",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := target()
		if err != nil {
			return err
		}
		content := ""
		if len(args) == 1 {
			content = args[0]
		}
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		return withSession(cmd.Context(), e, func(ctx context.Context, s *session.Session) (string, error) {
			msg, err := s.Send(ctx, key, content, sendMedia)
			if err != nil {
				return "", err
			}
			_ = s.DeleteDraft(ctx, key)
			return msg.Cid, nil
		})
	},
}

var resendCmd = &cobra.Command{
	Use:   "resend <cid>",
	Short: "用同一 cid 重发失败或未确认的消息",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		return withSession(cmd.Context(), e, func(ctx context.Context, s *session.Session) (string, error) {
			msg, err := s.Resend(ctx, args[0])
			if err != nil {
				return "", err
			}
			return msg.Cid, nil
		})
	},
}

var readCmd = &cobra.Command{
	Use:   "read <cid>",
	Short: "标记消息已读并通知发送者",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		return withSession(cmd.Context(), e, func(ctx context.Context, s *session.Session) (string, error) {
			return "", s.MarkRead(ctx, args[0])
		})
	},
}

var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "列出本地会话，指定 --to/--group 时列出该会话的消息",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		ctx := cmd.Context()

		if toUser != 0 || toGroup != 0 {
			key, err := target()
			if err != nil {
				return err
			}
			msgs, err := e.store.ListMessages(ctx, key, 50)
			if err != nil {
				return err
			}
			for _, m := range msgs {
				fmt.Printf("%s [%s] %d: %s%s\n", m.Cid, m.Status, m.SenderID, m.Content, m.MediaKey)
			}
			return nil
		}

		threads, err := e.store.ListThreads(ctx)
		if err != nil {
			return err
		}
		for _, t := range threads {
			fmt.Printf("%-10s 未读 %-3d %s\n", threadLabel(t.Key), t.UnreadCount, t.LastPreview)
		}
		return nil
	},
}

var draftCmd = &cobra.Command{
	Use:   "draft [content]",
	Short: "查看或保存会话草稿，内容为空字符串时删除",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := target()
		if err != nil {
			return err
		}
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.Close()
		ctx := cmd.Context()
		sess := session.New(e.store, e.rec, session.Handlers{})

		if len(args) == 1 {
			return sess.SaveDraft(ctx, key, args[0])
		}
		d, err := sess.Draft(ctx, key)
		if errors.Is(err, errs.ErrNotFound) {
			fmt.Println("(无草稿)")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Println(d.Content)
		return nil
	},
}

func init() {
	loginCmd.Flags().BoolVar(&loginRegister, "register", false, "注册新用户")
	loginCmd.Flags().StringVar(&loginDisplayName, "display-name", "", "注册时的显示名")

	for _, c := range []*cobra.Command{sendCmd, threadsCmd, draftCmd} {
		addTargetFlags(c)
	}
	sendCmd.Flags().StringVar(&sendMedia, "media", "", "媒体文件key")
	for _, c := range []*cobra.Command{sendCmd, resendCmd, readCmd} {
		c.Flags().DurationVar(&ackWait, "wait", 5*time.Second, "等待服务端确认的时间")
	}
}
