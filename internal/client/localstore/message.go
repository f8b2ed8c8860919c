package localstore

import (
	"context"
	"database/sql"
	"fmt"

	"im-sync/pkg/errs"
)

const messageColumns = `cid, server_id, thread_type, thread_id, sender_id, sender_name, content, media_key, kind, timestamp, status, is_mine`

// UpsertMessage 以 cid 为键写入消息
//
// 状态比较与写入在同一条语句里完成：只有新状态的 rank 更高时才覆盖。
// server_id 一旦写入不会被清空；首次得知 server_id 时采用服务端时间戳。
func (t *Tx) UpsertMessage(ctx context.Context, m *Message) error {
	rank := m.Status.Rank()
	if rank < 0 {
		return errs.Conflict("未知的消息状态 %q", m.Status)
	}
	_, err := t.q.ExecContext(ctx, `
INSERT INTO message (`+messageColumns+`, status_rank)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(cid) DO UPDATE SET
  server_id   = COALESCE(message.server_id, excluded.server_id),
  timestamp   = CASE WHEN message.server_id IS NULL AND excluded.server_id IS NOT NULL
                     THEN excluded.timestamp ELSE message.timestamp END,
  sender_name = CASE WHEN excluded.sender_name != '' THEN excluded.sender_name ELSE message.sender_name END,
  status      = CASE WHEN excluded.status_rank > message.status_rank THEN excluded.status ELSE message.status END,
  status_rank = MAX(message.status_rank, excluded.status_rank)
`,
		m.Cid, nullString(m.ServerID), m.Thread.Type, m.Thread.ID, m.SenderID, m.SenderName,
		m.Content, m.MediaKey, m.Kind, m.Timestamp, string(m.Status), boolInt(m.IsMine), rank,
	)
	if err != nil {
		return fmt.Errorf("写入本地消息 %q 失败: %w", m.Cid, err)
	}
	return nil
}

// UpdateStatus 提升消息状态，rank 不高于当前值时只补 server_id
func (t *Tx) UpdateStatus(ctx context.Context, cid string, status Status, serverID string) error {
	rank := status.Rank()
	if rank < 0 {
		return errs.Conflict("未知的消息状态 %q", status)
	}
	res, err := t.q.ExecContext(ctx, `
UPDATE message SET
  server_id   = COALESCE(server_id, ?),
  status      = CASE WHEN status_rank < ? THEN ? ELSE status END,
  status_rank = MAX(status_rank, ?)
WHERE cid = ?`,
		nullString(serverID), rank, string(status), rank, cid,
	)
	if err != nil {
		return fmt.Errorf("更新本地消息 %q 状态失败: %w", cid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFound("本地消息 %q", cid)
	}
	return nil
}

// MarkResending 重发：FAILED 回到 SENDING，这是状态单调上升唯一的例外。
// 迟迟没有 ack 的 SENDING 消息也可以重发，服务端按 cid 去重
func (t *Tx) MarkResending(ctx context.Context, cid string) (*Message, error) {
	res, err := t.q.ExecContext(ctx,
		`UPDATE message SET status = ?, status_rank = ? WHERE cid = ? AND status IN (?, ?)`,
		string(StatusSending), StatusSending.Rank(), cid, string(StatusSending), string(StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("重置本地消息 %q 失败: %w", cid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		m, err := t.GetMessage(ctx, cid)
		if err != nil {
			return nil, err
		}
		return nil, errs.Conflict("消息 %q 当前状态为 %s，不能重发", cid, m.Status)
	}
	return t.GetMessage(ctx, cid)
}

// MessageExists 本地是否已有该 cid
func (t *Tx) MessageExists(ctx context.Context, cid string) (bool, error) {
	var one int
	err := t.q.QueryRowContext(ctx, `SELECT 1 FROM message WHERE cid = ?`, cid).Scan(&one)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("查询本地消息 %q 失败: %w", cid, err)
	}
	return true, nil
}

func (t *Tx) GetMessage(ctx context.Context, cid string) (*Message, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message WHERE cid = ?`, cid)
	m, err := scanMessage(row)
	if isNoRows(err) {
		return nil, errs.NotFound("本地消息 %q", cid)
	}
	if err != nil {
		return nil, fmt.Errorf("查询本地消息 %q 失败: %w", cid, err)
	}
	return m, nil
}

// GetMessageByServerID 只知道服务端ID时（例如群回执）按 server_id 查找
func (t *Tx) GetMessageByServerID(ctx context.Context, serverID string) (*Message, error) {
	row := t.q.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM message WHERE server_id = ?`, serverID)
	m, err := scanMessage(row)
	if isNoRows(err) {
		return nil, errs.NotFound("本地消息 server_id=%q", serverID)
	}
	if err != nil {
		return nil, fmt.Errorf("查询本地消息 server_id=%q 失败: %w", serverID, err)
	}
	return m, nil
}

// ListMessages 会话内最近的 limit 条消息，按时间升序返回
func (t *Tx) ListMessages(ctx context.Context, thread ThreadKey, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.q.QueryContext(ctx, `
SELECT * FROM (
  SELECT `+messageColumns+` FROM message
  WHERE thread_type = ? AND thread_id = ?
  ORDER BY timestamp DESC, cid DESC
  LIMIT ?
) ORDER BY timestamp ASC, cid ASC`, thread.Type, thread.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("查询会话消息失败: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("读取会话消息失败: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteMessage 删除本地消息，不存在时不是错误
func (t *Tx) DeleteMessage(ctx context.Context, cid string) (bool, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM message WHERE cid = ?`, cid)
	if err != nil {
		return false, fmt.Errorf("删除本地消息 %q 失败: %w", cid, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		m        Message
		serverID sql.NullString
		status   string
		isMine   int
	)
	err := row.Scan(&m.Cid, &serverID, &m.Thread.Type, &m.Thread.ID, &m.SenderID, &m.SenderName,
		&m.Content, &m.MediaKey, &m.Kind, &m.Timestamp, &status, &isMine)
	if err != nil {
		return nil, err
	}
	m.ServerID = serverID.String
	m.Status = Status(status)
	m.IsMine = isMine != 0
	return &m, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
