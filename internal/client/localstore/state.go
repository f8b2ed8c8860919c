package localstore

import (
	"context"
	"fmt"
)

// Cursor 当前同步游标，从未同步过时为0
func (t *Tx) Cursor(ctx context.Context) (int64, error) {
	var cursor int64
	err := t.q.QueryRowContext(ctx, `SELECT cursor FROM sync_state WHERE id = 1`).Scan(&cursor)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("读取同步游标失败: %w", err)
	}
	return cursor, nil
}

// AdvanceCursor 推进同步游标，游标只增不减
func (t *Tx) AdvanceCursor(ctx context.Context, ts int64) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO sync_state (id, cursor, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  cursor = MAX(sync_state.cursor, excluded.cursor),
  updated_at = excluded.updated_at
`, ts, nowMillis())
	if err != nil {
		return fmt.Errorf("推进同步游标失败: %w", err)
	}
	return nil
}

// SetPresence 记录联系人在线状态
func (t *Tx) SetPresence(ctx context.Context, userID uint, status string) error {
	_, err := t.q.ExecContext(ctx, `
INSERT INTO contact (user_id, status, updated_at) VALUES (?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at
`, userID, status, nowMillis())
	if err != nil {
		return fmt.Errorf("更新联系人 %d 在线状态失败: %w", userID, err)
	}
	return nil
}

// ReplaceOnline 用一次完整的在线列表覆盖联系人状态：列表内为在线，其余为离线
func (t *Tx) ReplaceOnline(ctx context.Context, online []uint) error {
	if _, err := t.q.ExecContext(ctx, `UPDATE contact SET status = 'offline', updated_at = ?`, nowMillis()); err != nil {
		return fmt.Errorf("重置联系人在线状态失败: %w", err)
	}
	for _, id := range online {
		if err := t.SetPresence(ctx, id, "online"); err != nil {
			return err
		}
	}
	return nil
}

// ListContacts 按用户ID升序
func (t *Tx) ListContacts(ctx context.Context) ([]*Contact, error) {
	rows, err := t.q.QueryContext(ctx, `SELECT user_id, status, updated_at FROM contact ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("查询联系人失败: %w", err)
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.UserID, &c.Status, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("读取联系人失败: %w", err)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}
