package syncagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"im-sync/config"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"

	"github.com/adhocore/gronx"
	"go.uber.org/zap"
)

// Cycler 执行一轮同步
type Cycler interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler 按 cron 表达式或固定间隔触发同步，也可以由 Trigger 立即触发
type Scheduler struct {
	cycler      Cycler
	cron        string
	interval    time.Duration
	maxAttempts int
	retryDelay  time.Duration
	trigger     chan struct{}
	log         *zap.Logger

	mu      sync.Mutex
	running bool
	now     func() time.Time
}

// NewScheduler 创建调度器，cron 非空时必须是合法表达式
func NewScheduler(cycler Cycler, cfg config.ClientSyncConfig) (*Scheduler, error) {
	if cfg.Cron != "" && !gronx.New().IsValid(cfg.Cron) {
		return nil, fmt.Errorf("非法的同步 cron 表达式 %q", cfg.Cron)
	}
	if cfg.Cron == "" && cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Scheduler{
		cycler:      cycler,
		cron:        cfg.Cron,
		interval:    cfg.Interval,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  cfg.RetryDelay,
		trigger:     make(chan struct{}, 1),
		log:         logger.Named("sync-scheduler"),
		now:         time.Now,
	}, nil
}

// Trigger 请求尽快同步一次；已有待处理的请求时合并
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Run 调度循环，直到 ctx 结束
func (s *Scheduler) Run(ctx context.Context) error {
	s.log.Info("同步调度启动", zap.String("cron", s.cron), zap.Duration("interval", s.interval))
	for {
		wait, err := s.nextWait()
		if err != nil {
			s.log.Error("计算下次同步时间失败", zap.String("cron", s.cron), zap.Error(err))
			wait = 30 * time.Second
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-s.trigger:
			timer.Stop()
		case <-timer.C:
		}
		s.runJob(ctx)
	}
}

func (s *Scheduler) nextWait() (time.Duration, error) {
	if s.cron == "" {
		return s.interval, nil
	}
	now := s.now()
	next, err := gronx.NextTickAfter(s.cron, now, false)
	if err != nil {
		return 0, err
	}
	if wait := next.Sub(now); wait > 0 {
		return wait, nil
	}
	return time.Second, nil
}

// runJob 同一时刻只允许一轮同步
func (s *Scheduler) runJob(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("本轮同步失败，等待下次调度", zap.Error(err))
	}
}

// RunOnce 执行一轮同步，失败时最多连续尝试 maxAttempts 次；认证失败不重试
func (s *Scheduler) RunOnce(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		_, err := s.cycler.RunCycle(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, errs.ErrAuthentication) || ctx.Err() != nil {
			return err
		}
		s.log.Warn("同步失败",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.maxAttempts),
			zap.Bool("transient", errs.Retryable(err)),
			zap.Error(err),
		)
		if attempt == s.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
	return fmt.Errorf("连续 %d 次同步失败: %w", s.maxAttempts, lastErr)
}
