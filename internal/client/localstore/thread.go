package localstore

import (
	"context"
	"fmt"

	"im-sync/pkg/errs"
)

// TouchThread 更新会话摘要，不存在时创建；较旧的消息不会覆盖预览
func (t *Tx) TouchThread(ctx context.Context, key ThreadKey, preview string, ts int64, unreadDelta int) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO thread (thread_type, thread_id, last_preview, last_time, unread_count)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(thread_type, thread_id) DO UPDATE SET
  last_preview = CASE WHEN excluded.last_time >= thread.last_time THEN excluded.last_preview ELSE thread.last_preview END,
  last_time    = MAX(thread.last_time, excluded.last_time),
  unread_count = thread.unread_count + excluded.unread_count
`, key.Type, key.ID, preview, ts, unreadDelta)
	if err != nil {
		return fmt.Errorf("更新会话 %s/%d 失败: %w", key.Type, key.ID, err)
	}
	return nil
}

// ResetUnread 清零会话未读数
func (t *Tx) ResetUnread(ctx context.Context, key ThreadKey) error {
	_, err := t.q.ExecContext(ctx,
		`UPDATE thread SET unread_count = 0 WHERE thread_type = ? AND thread_id = ?`, key.Type, key.ID)
	if err != nil {
		return fmt.Errorf("清零会话未读失败: %w", err)
	}
	return nil
}

func (t *Tx) GetThread(ctx context.Context, key ThreadKey) (*Thread, error) {
	th := Thread{Key: key}
	err := t.q.QueryRowContext(ctx,
		`SELECT last_preview, last_time, unread_count FROM thread WHERE thread_type = ? AND thread_id = ?`,
		key.Type, key.ID).Scan(&th.LastPreview, &th.LastTime, &th.UnreadCount)
	if isNoRows(err) {
		return nil, errs.NotFound("会话 %s/%d", key.Type, key.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询会话失败: %w", err)
	}
	return &th, nil
}

// ListThreads 按最近消息时间倒序
func (t *Tx) ListThreads(ctx context.Context) ([]*Thread, error) {
	rows, err := t.q.QueryContext(ctx,
		`SELECT thread_type, thread_id, last_preview, last_time, unread_count FROM thread ORDER BY last_time DESC, thread_type, thread_id`)
	if err != nil {
		return nil, fmt.Errorf("查询会话列表失败: %w", err)
	}
	defer rows.Close()

	var out []*Thread
	for rows.Next() {
		var th Thread
		if err := rows.Scan(&th.Key.Type, &th.Key.ID, &th.LastPreview, &th.LastTime, &th.UnreadCount); err != nil {
			return nil, fmt.Errorf("读取会话列表失败: %w", err)
		}
		out = append(out, &th)
	}
	return out, rows.Err()
}

// DeleteThread 删除会话及其消息与草稿，不存在时不是错误
func (t *Tx) DeleteThread(ctx context.Context, key ThreadKey) error {
	for _, table := range []string{"message", "draft", "thread"} {
		if _, err := t.q.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE thread_type = ? AND thread_id = ?`, key.Type, key.ID); err != nil {
			return fmt.Errorf("删除会话 %s/%d 的 %s 失败: %w", key.Type, key.ID, table, err)
		}
	}
	return nil
}

// SaveDraft 保存草稿，每个会话只保留最新一条
func (t *Tx) SaveDraft(ctx context.Context, d *Draft) error {
	if d.UpdatedAt == 0 {
		d.UpdatedAt = nowMillis()
	}
	if d.Kind == "" {
		d.Kind = "text"
	}
	_, err := t.q.ExecContext(ctx, `
INSERT INTO draft (thread_type, thread_id, content, kind, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(thread_type, thread_id) DO UPDATE SET
  content = excluded.content, kind = excluded.kind, updated_at = excluded.updated_at
`, d.Thread.Type, d.Thread.ID, d.Content, d.Kind, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("保存草稿失败: %w", err)
	}
	return nil
}

func (t *Tx) GetDraft(ctx context.Context, key ThreadKey) (*Draft, error) {
	d := Draft{Thread: key}
	err := t.q.QueryRowContext(ctx,
		`SELECT content, kind, updated_at FROM draft WHERE thread_type = ? AND thread_id = ?`,
		key.Type, key.ID).Scan(&d.Content, &d.Kind, &d.UpdatedAt)
	if isNoRows(err) {
		return nil, errs.NotFound("草稿 %s/%d", key.Type, key.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询草稿失败: %w", err)
	}
	return &d, nil
}

func (t *Tx) DeleteDraft(ctx context.Context, key ThreadKey) error {
	_, err := t.q.ExecContext(ctx, `DELETE FROM draft WHERE thread_type = ? AND thread_id = ?`, key.Type, key.ID)
	if err != nil {
		return fmt.Errorf("删除草稿失败: %w", err)
	}
	return nil
}
