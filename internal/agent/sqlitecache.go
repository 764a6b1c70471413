package agent

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nao1215/fogpush/pkg/migration"
	"github.com/rs/zerolog"
	"github.com/zeebo/xxh3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStorage はSQLiteに永続化するCacheStorage。エージェントの再起動後もキャッシュが残る。
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage はSQLiteデータベースを開き、マイグレーションを適用する。
func OpenSQLiteStorage(ctx context.Context, dsn string, log zerolog.Logger) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("PRAGMAの設定に失敗: %w", err)
	}
	if err := migration.Run(ctx, db, migrationsFS, "migrations", log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Open は名前のストアを返す。存在しなければ作成する。
func (s *SQLiteStorage) Open(ctx context.Context, name string) (Cache, error) {
	if _, err := s.db.ExecContext(ctx, "INSERT OR IGNORE INTO cache_stores (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("ストア %s の作成に失敗: %w", name, err)
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, "SELECT id FROM cache_stores WHERE name = ?", name).Scan(&id); err != nil {
		return nil, fmt.Errorf("ストア %s の取得に失敗: %w", name, err)
	}
	return &sqliteCache{db: s.db, storeID: id}, nil
}

// Keys はストア名を作成順に返す。
func (s *SQLiteStorage) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM cache_stores ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("ストア一覧の取得に失敗: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("ストア名の読み取りに失敗: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Delete はストアとそのエントリを削除する。
func (s *SQLiteStorage) Delete(ctx context.Context, name string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE store_id IN (SELECT id FROM cache_stores WHERE name = ?)", name); err != nil {
		return false, fmt.Errorf("ストア %s のエントリ削除に失敗: %w", name, err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM cache_stores WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("ストア %s の削除に失敗: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ストア %s の削除のコミットに失敗: %w", name, err)
	}
	return n > 0, nil
}

// MatchAny は全ストアを作成順に検索し、最初に一致したレスポンスを返す。
func (s *SQLiteStorage) MatchAny(ctx context.Context, req *http.Request) (*CachedResponse, bool, error) {
	key := requestKey(req)
	row := s.db.QueryRowContext(ctx, `
		SELECT e.request_key, e.status, e.header, e.body
		FROM cache_entries e JOIN cache_stores s ON s.id = e.store_id
		WHERE e.key_hash = ? AND e.request_key = ?
		ORDER BY s.id LIMIT 1`, hashKey(key), key)
	return scanEntry(row)
}

type sqliteCache struct {
	db      *sql.DB
	storeID int64
}

func (c *sqliteCache) Put(ctx context.Context, req *http.Request, resp *CachedResponse) error {
	key := requestKey(req)
	header, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("ヘッダーのシリアライズに失敗: %w", err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (store_id, key_hash, request_key, status, header, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT (store_id, key_hash, request_key) DO UPDATE SET
			status = excluded.status,
			header = excluded.header,
			body = excluded.body,
			updated_at = excluded.updated_at`,
		c.storeID, hashKey(key), key, resp.StatusCode, string(header), body)
	if err != nil {
		return fmt.Errorf("キャッシュの保存に失敗: %w", err)
	}
	return nil
}

func (c *sqliteCache) Match(ctx context.Context, req *http.Request) (*CachedResponse, bool, error) {
	key := requestKey(req)
	row := c.db.QueryRowContext(ctx, `
		SELECT request_key, status, header, body FROM cache_entries
		WHERE store_id = ? AND key_hash = ? AND request_key = ?`, c.storeID, hashKey(key), key)
	return scanEntry(row)
}

// scanEntry はcache_entriesの1行をCachedResponseに変換する。
func scanEntry(row *sql.Row) (*CachedResponse, bool, error) {
	var (
		key    string
		status int
		header string
		body   []byte
	)
	if err := row.Scan(&key, &status, &header, &body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("キャッシュの読み取りに失敗: %w", err)
	}
	resp := &CachedResponse{StatusCode: status, Body: body}
	if err := json.Unmarshal([]byte(header), &resp.Header); err != nil {
		return nil, false, fmt.Errorf("ヘッダーのデシリアライズに失敗: %w", err)
	}
	return resp, true, nil
}

// hashKey はリクエスト識別子のxxh3ハッシュをSQLiteの整数列に収まる形で返す。
func hashKey(key string) int64 {
	return int64(xxh3.HashString(key))
}
