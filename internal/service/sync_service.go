package service

import (
	"context"
	"fmt"

	"im-sync/config"
	"im-sync/internal/repository"
	"im-sync/pkg/metrics"
	"im-sync/pkg/protocol"
)

// SyncService 基于时间戳游标的拉取同步
//
// 下界是开区间 timestamp > cursor。为了不丢同一毫秒内的消息，分页截断点落在
// 某个时间戳内部时，会把该时间戳的剩余消息整体补进本页，因此一页可能略大于 limit。
// 墓碑返回 deleted_at > cursor 的部分；本页被截断时只返回不晚于本页最后一条消息的墓碑，
// 新游标取本页观察到的最大时间戳，不会越过尚未下发的消息。
type SyncService struct {
	messages   SyncStore
	tombstones TombstoneStore
	groups     GroupLookup
	cfg        config.SyncConfig
}

func NewSyncService(messages SyncStore, tombstones TombstoneStore, groups GroupLookup, cfg config.SyncConfig) *SyncService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPageSize < cfg.PageSize {
		cfg.MaxPageSize = cfg.PageSize
	}
	return &SyncService{messages: messages, tombstones: tombstones, groups: groups, cfg: cfg}
}

// Pull 返回 cursor 之后的一页消息与墓碑
func (s *SyncService) Pull(ctx context.Context, userID uint, cursor int64, limit int) (*protocol.SyncPage, error) {
	if cursor < 0 {
		cursor = 0
	}
	limit = s.pageSize(limit)

	groupIDs, err := s.groups.GroupIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("同步查询用户群: %w", err)
	}
	scope := repository.Scope{UserID: userID, GroupIDs: groupIDs}

	rows, err := s.messages.ListAfter(ctx, scope, cursor, limit+1)
	if err != nil {
		return nil, err
	}

	hasMore := len(rows) > limit
	var upTo int64
	if hasMore {
		rows = rows[:limit]
		boundary := rows[len(rows)-1].Timestamp
		sameTs, err := s.messages.ListAt(ctx, scope, boundary)
		if err != nil {
			return nil, err
		}
		cut := len(rows)
		for cut > 0 && rows[cut-1].Timestamp == boundary {
			cut--
		}
		rows = append(rows[:cut], sameTs...)
		upTo = boundary
	}

	tombs, err := s.tombstones.ListAfter(ctx, scope, cursor, upTo)
	if err != nil {
		return nil, err
	}

	page := &protocol.SyncPage{
		Messages:   make([]protocol.Chat, 0, len(rows)),
		Tombstones: make([]protocol.TombstoneItem, 0, len(tombs)),
		LastTs:     cursor,
		HasMore:    hasMore,
	}
	for _, m := range rows {
		page.Messages = append(page.Messages, *ToChat(m))
		if m.Timestamp > page.LastTs {
			page.LastTs = m.Timestamp
		}
	}
	for _, t := range tombs {
		page.Tombstones = append(page.Tombstones, ToTombstoneItem(t))
		if t.DeletedAt > page.LastTs {
			page.LastTs = t.DeletedAt
		}
	}

	metrics.SyncPages.Inc()
	metrics.SyncMessages.Add(float64(len(page.Messages)))
	return page, nil
}

func (s *SyncService) pageSize(limit int) int {
	if limit <= 0 {
		return s.cfg.PageSize
	}
	if limit > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return limit
}
