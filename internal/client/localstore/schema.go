package localstore

// migrations 按顺序执行，已执行到第几条记录在 PRAGMA user_version
var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS message (
  cid          TEXT PRIMARY KEY,
  server_id    TEXT,
  thread_type  TEXT NOT NULL CHECK(thread_type IN ('direct','group')),
  thread_id    INTEGER NOT NULL,
  sender_id    INTEGER NOT NULL,
  sender_name  TEXT NOT NULL DEFAULT '',
  content      TEXT NOT NULL DEFAULT '',
  media_key    TEXT NOT NULL DEFAULT '',
  kind         TEXT NOT NULL DEFAULT 'text',
  timestamp    INTEGER NOT NULL,
  status       TEXT NOT NULL CHECK(status IN ('SENDING','FAILED','SENT','SYNCED','DELIVERED','READ')),
  status_rank  INTEGER NOT NULL,
  is_mine      INTEGER NOT NULL DEFAULT 0
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_message_thread_time
ON message (thread_type, thread_id, timestamp, cid);
`,
	`
CREATE INDEX IF NOT EXISTS idx_message_server_id
ON message (server_id);
`,
	`
CREATE TABLE IF NOT EXISTS thread (
  thread_type   TEXT NOT NULL CHECK(thread_type IN ('direct','group')),
  thread_id     INTEGER NOT NULL,
  last_preview  TEXT NOT NULL DEFAULT '',
  last_time     INTEGER NOT NULL DEFAULT 0,
  unread_count  INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (thread_type, thread_id)
);
`,
	`
CREATE TABLE IF NOT EXISTS draft (
  thread_type  TEXT NOT NULL CHECK(thread_type IN ('direct','group')),
  thread_id    INTEGER NOT NULL,
  content      TEXT NOT NULL,
  kind         TEXT NOT NULL DEFAULT 'text',
  updated_at   INTEGER NOT NULL,
  PRIMARY KEY (thread_type, thread_id)
);
`,
	`
CREATE TABLE IF NOT EXISTS sync_state (
  id          INTEGER PRIMARY KEY CHECK(id = 1),
  cursor      INTEGER NOT NULL DEFAULT 0,
  updated_at  INTEGER NOT NULL
);
`,
	`
CREATE TABLE IF NOT EXISTS contact (
  user_id     INTEGER PRIMARY KEY,
  status      TEXT NOT NULL CHECK(status IN ('online','offline')) DEFAULT 'offline',
  updated_at  INTEGER NOT NULL
);
`,
}
