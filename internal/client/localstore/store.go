// Package localstore 客户端本地镜像，基于 sqlite。
//
// Store 内嵌一个直接作用于连接的 Tx，所以单条操作可以直接调用；
// 需要原子提交的一组操作（例如同步的一页数据连同游标推进）通过 WithTx 完成。
package localstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultWALCheckpointInterval 定期截断 WAL 文件
const DefaultWALCheckpointInterval = time.Hour

// Store 本地数据库
type Store struct {
	*Tx
	db *sql.DB

	walCheckpointStop chan struct{}
	walCheckpointWG   sync.WaitGroup
	closeOnce         sync.Once
}

// Open 打开（或创建）本地数据库并执行迁移
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("创建本地数据目录失败: %w", err)
	}

	// _txlock=immediate：写事务开始即加写锁，避免读锁升级时的 SQLITE_BUSY
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("打开本地数据库失败: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("连接本地数据库失败: %w", err)
	}

	s := &Store{
		Tx:                &Tx{q: db},
		db:                db,
		walCheckpointStop: make(chan struct{}),
	}
	if err := s.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	s.startWALCheckpointLoop(DefaultWALCheckpointInterval)
	return s, nil
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.walCheckpointStop)
		s.walCheckpointWG.Wait()
		closeErr = s.db.Close()
	})
	return closeErr
}

// WithTx 在一个事务内执行 fn，fn 返回错误时回滚
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("开启本地事务失败: %w", err)
	}
	defer func() {
		_ = sqlTx.Rollback()
	}()

	if err := fn(&Tx{q: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("提交本地事务失败: %w", err)
	}
	return nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("读取本地库版本失败: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("开启迁移事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("执行迁移 %d 失败: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("更新本地库版本 %d 失败: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("提交迁移失败: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("开启WAL失败: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("开启WAL失败: 当前日志模式 %q", journalMode)
	}
	return nil
}

func (s *Store) startWALCheckpointLoop(interval time.Duration) {
	s.walCheckpointWG.Add(1)
	go func() {
		defer s.walCheckpointWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
			case <-s.walCheckpointStop:
				return
			}
		}
	}()
}

// querier 同时由 *sql.DB 与 *sql.Tx 实现
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Tx 本地库操作集合，既可直接作用于连接，也可处于事务中
type Tx struct {
	q querier
}

func nowMillis() int64 { return time.Now().UnixMilli() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isNoRows(err error) bool { return errors.Is(err, sql.ErrNoRows) }
