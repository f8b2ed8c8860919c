package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"im-sync/config"
	"im-sync/internal/handler"
	"im-sync/internal/model"
	"im-sync/internal/repository"
	"im-sync/internal/service"
	dbPkg "im-sync/pkg/db"
	"im-sync/pkg/jwt"
	"im-sync/pkg/logger"
	"im-sync/pkg/ratelimit"
	"im-sync/pkg/redis"
	"im-sync/pkg/websocket"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	// 0. 本地开发时从 .env 读取环境变量，文件不存在时忽略
	_ = godotenv.Load()

	// 1. 加载配置
	cfg := config.LoadConfig()

	// 2. 初始化日志系统
	log := logger.InitLogger(cfg.Log)
	defer log.Sync()

	log.Info("=== IM同步服务启动 ===")
	log.Info("服务器配置信息",
		zap.String("port", cfg.Server.Port),
		zap.String("database_driver", cfg.Database.Driver),
		zap.String("database_host", cfg.Database.Host),
		zap.String("database_name", cfg.Database.Database),
		zap.Bool("redis_enabled", cfg.Redis.Enabled),
		zap.Duration("jwt_expire_time", cfg.JWT.ExpireTime),
		zap.Int("sync_page_size", cfg.Sync.PageSize),
		zap.String("log_level", cfg.Log.Level),
	)

	// 3. 初始化数据库连接
	orm, err := dbPkg.InitDB(cfg.Database)
	if err != nil {
		log.Fatal("数据库连接失败", zap.Error(err))
	}
	defer func() {
		if err := dbPkg.CloseDB(); err != nil {
			log.Error("关闭数据库连接失败", zap.Error(err))
		}
	}()
	log.Info("数据库连接成功")

	// 3.1 自动迁移表结构
	if err := dbPkg.AutoMigrate(model.All()...); err != nil {
		log.Fatal("自动迁移失败", zap.Error(err))
	}
	log.Info("自动迁移完成")

	// 3.2 Redis 可选，不可用时在线镜像与未读计数降级
	if cfg.Redis.Enabled {
		if err := redis.InitRedis(cfg.Redis); err != nil {
			log.Warn("Redis不可用，已降级运行", zap.Error(err))
		} else {
			// 上次进程遗留的在线集合已失效
			if err := redis.ClearOnlineUsers(); err != nil {
				log.Warn("清理在线用户集合失败", zap.Error(err))
			}
			defer redis.Close()
			log.Info("Redis连接成功")
		}
	}

	// 3.3 初始化业务服务
	baseCtx, stop := context.WithCancel(context.Background())
	defer stop()

	jwtSvc := jwt.NewJWTService(cfg.JWT)
	registry := websocket.NewRegistry()

	userRepo := repository.NewUserRepository(orm)
	messageRepo := repository.NewMessageRepository(orm)
	tombstoneRepo := repository.NewTombstoneRepository(orm)
	groupRepo := repository.NewGroupRepository(orm)

	userSvc := service.NewUserService(userRepo, jwtSvc, registry)
	registry.SetPresenceListener(func(userID uint, username string, online bool) {
		ctx, cancel := context.WithTimeout(baseCtx, 5*time.Second)
		defer cancel()
		if err := userSvc.MarkPresence(ctx, userID, username, online); err != nil {
			log.Warn("更新在线状态失败", zap.Uint("user_id", userID), zap.Bool("online", online), zap.Error(err))
		}
	})

	dispatcher := service.NewDispatcher(
		service.NewChatRouter(messageRepo, userRepo, groupRepo, registry),
		service.NewReceiptService(messageRepo, groupRepo, registry),
		service.NewSignalRelay(registry),
	)

	apiLimiter := ratelimit.NewLimiterStore(ratelimit.PerMinute(cfg.RateLimit.APIPerMinute), cfg.RateLimit.APIPerMinute, 5*time.Minute)
	defer apiLimiter.Stop()
	frameLimiter := ratelimit.NewLimiterStore(ratelimit.PerSecond(cfg.RateLimit.FramesPerSecond), cfg.RateLimit.FrameBurst, 5*time.Minute)
	defer frameLimiter.Stop()

	handlers := &handler.Handlers{
		User:    handler.NewUserHandler(userSvc),
		Message: handler.NewMessageHandler(service.NewMessageService(messageRepo)),
		Sync:    handler.NewSyncHandler(service.NewSyncService(messageRepo, tombstoneRepo, groupRepo, cfg.Sync)),
		Group:   handler.NewGroupHandler(service.NewGroupService(groupRepo, userRepo)),
		WS:      handler.NewWSHandler(baseCtx, jwtSvc, userSvc, registry, dispatcher, frameLimiter, cfg.WebSocket),
	}

	// 4. 设置Gin模式
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 5. 创建Gin路由
	router := gin.New()
	router.Use(logger.LoggerMiddleware())      // 自定义日志中间件
	router.Use(logger.ErrorLoggerMiddleware()) // 错误日志中间件

	// 6. 绑定路由
	handlers.Register(router, jwtSvc.AuthMiddleware(), ratelimit.GinMiddleware(apiLimiter, jwt.ContextUserIDKey))

	// 7. 创建HTTP服务器
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// 8. 启动HTTP服务器
	go func() {
		log.Info("HTTP服务器启动", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务器...")
	stop()

	// 设置关闭超时
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 关闭HTTP服务器
	if err := server.Shutdown(ctx); err != nil {
		log.Error("HTTP服务器关闭失败", zap.Error(err))
	}

	log.Info("服务器已安全关闭")
}
