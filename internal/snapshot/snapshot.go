// Package snapshot persists the in-memory object cache to a SQLite file so a
// restarted proxy can start warm. Objects are written in cache walk order
// (bucket by bucket, least to most recently used) and replayed in the same
// order, which preserves each bucket's recency ordering.
package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite"

	"github.com/any-hub/cacheproxy/internal/cache"
)

// Store 封装快照数据库连接。
type Store struct {
	db   *sql.DB
	path string
}

// Open 打开（必要时创建）快照文件并确保表结构存在。
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("snapshot path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	// 单连接即可，避免 SQLite 写锁竞争。
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS objects (
		seq INTEGER PRIMARY KEY,
		key TEXT NOT NULL,
		body BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot table: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path 返回快照文件路径。
func (s *Store) Path() string {
	return s.path
}

// Save 用缓存当前内容整体替换快照，返回写入的对象数。
func (s *Store) Save(ctx context.Context, c *cache.Cache) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM objects"); err != nil {
		return 0, fmt.Errorf("clear snapshot: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO objects (seq, key, body) VALUES (?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	saved := 0
	var walkErr error
	c.Walk(func(key string, body []byte) bool {
		if _, err := stmt.ExecContext(ctx, saved, key, body); err != nil {
			walkErr = fmt.Errorf("save %s: %w", key, err)
			return false
		}
		saved++
		return true
	})
	if walkErr != nil {
		return 0, walkErr
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit snapshot: %w", err)
	}
	return saved, nil
}

// Load 按写入顺序把快照对象重新插入缓存，超过单对象上限的行会被跳过。
// 返回成功恢复的对象数。
func (s *Store) Load(ctx context.Context, c *cache.Cache) (int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, body FROM objects ORDER BY seq ASC")
	if err != nil {
		return 0, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var (
			key  string
			body []byte
		)
		if err := rows.Scan(&key, &body); err != nil {
			return loaded, fmt.Errorf("scan snapshot row: %w", err)
		}
		if err := c.Insert(cache.KeyFromString(key), body); err != nil {
			if errors.Is(err, cache.ErrObjectTooLarge) {
				continue
			}
			return loaded, err
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return loaded, fmt.Errorf("iterate snapshot: %w", err)
	}
	return loaded, nil
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	return s.db.Close()
}
