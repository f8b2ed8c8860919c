// Package syncagent 拉取同步：从本地游标开始逐页拉取并合并，直到追平服务端
package syncagent

import (
	"context"
	"errors"
	"fmt"

	"im-sync/config"
	"im-sync/internal/client/localstore"
	"im-sync/internal/client/reconciler"
	"im-sync/pkg/errs"
	"im-sync/pkg/logger"
	"im-sync/pkg/protocol"

	"go.uber.org/zap"
)

// Puller 拉取一页同步数据
type Puller interface {
	Sync(ctx context.Context, lastTs int64, limit int) (*protocol.SyncPage, error)
}

// CycleResult 一次同步的统计
type CycleResult struct {
	Pages      int
	Messages   int
	Tombstones int
	Skipped    int
	Cursor     int64
	Complete   bool // false 表示达到页数上限，下次继续
}

// Agent 同步执行者
type Agent struct {
	store    *localstore.Store
	rec      *reconciler.Reconciler
	puller   Puller
	pageSize int
	maxPages int
	log      *zap.Logger
}

// NewAgent 创建同步执行者
func NewAgent(store *localstore.Store, rec *reconciler.Reconciler, puller Puller, cfg config.ClientSyncConfig) *Agent {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1000
	}
	return &Agent{
		store:    store,
		rec:      rec,
		puller:   puller,
		pageSize: cfg.PageSize,
		maxPages: cfg.MaxPages,
		log:      logger.Named("syncagent"),
	}
}

// RunCycle 从持久化的游标开始拉取，每页的合并和游标推进在同一个本地事务中提交
//
// 网络失败时游标停在最后一个成功提交的页；服务端声明还有数据却不推进游标时中止本轮。
func (a *Agent) RunCycle(ctx context.Context) (*CycleResult, error) {
	res := &CycleResult{}
	cursor, err := a.store.Cursor(ctx)
	if err != nil {
		return res, err
	}
	res.Cursor = cursor

	for res.Pages < a.maxPages {
		page, err := a.puller.Sync(ctx, cursor, a.pageSize)
		if err != nil {
			return res, fmt.Errorf("拉取游标 %d 之后的数据: %w", cursor, err)
		}
		if page.HasMore && page.LastTs <= cursor {
			return res, errs.Conflict("服务端返回hasMore但游标未推进 (cursor=%d lastTs=%d)", cursor, page.LastTs)
		}

		applied, skipped, err := a.applyPage(ctx, page)
		if err != nil {
			return res, err
		}
		res.Pages++
		res.Messages += applied
		res.Skipped += skipped
		res.Tombstones += len(page.Tombstones)
		if page.LastTs > cursor {
			cursor = page.LastTs
		}
		res.Cursor = cursor

		if !page.HasMore {
			res.Complete = true
			break
		}
	}

	a.log.Info("同步完成",
		zap.Int("pages", res.Pages),
		zap.Int("messages", res.Messages),
		zap.Int("tombstones", res.Tombstones),
		zap.Int("skipped", res.Skipped),
		zap.Int64("cursor", res.Cursor),
		zap.Bool("complete", res.Complete),
	)
	return res, nil
}

// applyPage 合并一页：先消息后墓碑，最后推进游标。无法归属的单条数据跳过
func (a *Agent) applyPage(ctx context.Context, page *protocol.SyncPage) (applied, skipped int, err error) {
	err = a.store.WithTx(ctx, func(tx *localstore.Tx) error {
		applied, skipped = 0, 0
		for i := range page.Messages {
			chat := &page.Messages[i]
			if _, err := a.rec.MessageTx(ctx, tx, chat, localstore.StatusSynced); err != nil {
				if skippable(err) {
					skipped++
					a.log.Warn("跳过无法合并的消息", zap.String("cid", chat.Cid), zap.String("message_id", chat.MessageID), zap.Error(err))
					continue
				}
				return err
			}
			applied++
		}
		for _, item := range page.Tombstones {
			if err := a.rec.TombstoneTx(ctx, tx, item); err != nil {
				if skippable(err) {
					skipped++
					a.log.Warn("跳过非法墓碑", zap.String("item_type", item.ItemType), zap.String("item_id", item.ItemID), zap.Error(err))
					continue
				}
				return err
			}
		}
		return tx.AdvanceCursor(ctx, page.LastTs)
	})
	if err != nil {
		return 0, 0, fmt.Errorf("合并同步页失败: %w", err)
	}
	return applied, skipped, nil
}

func skippable(err error) bool {
	return errors.Is(err, reconciler.ErrUnidentifiable) || errors.Is(err, errs.ErrConflictInvariant)
}
