package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/nao1215/fogpush/pkg/migration"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Endpoint はレジストリに登録されたプッシュ送信先を表す。
type Endpoint struct {
	// Key はエンドポイントの登録キー。
	Key string
	// Token はデバイス固有のプッシュトークン。
	Token string
}

// Store はSQLiteをバックエンドとするレジストリ。
// 個々のキーの読み書きはSQLiteのアトミック性に依存し、複数キーのトランザクションは使用しない。
type Store struct {
	db *sql.DB
}

// Open はSQLiteデータベースを開き、マイグレーションを適用したStoreを返す。
// dsnには "/data/registry.db" や ":memory:" を指定する。
func Open(ctx context.Context, dsn string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	// SQLiteは書き込みが単一コネクションの方が安定する。:memory:の共有にも必要。
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("PRAGMAの設定に失敗: %w", err)
	}
	if err := migration.Run(ctx, db, migrationsFS, "migrations", log); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return &Store{db: db}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// ListEndpoints は登録済みのエンドポイントを全件返す。
func (s *Store) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, token FROM fcm_tokens ORDER BY key")
	if err != nil {
		return nil, fmt.Errorf("エンドポイント一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var endpoints []Endpoint
	for rows.Next() {
		var e Endpoint
		if err := rows.Scan(&e.Key, &e.Token); err != nil {
			return nil, fmt.Errorf("エンドポイントの読み取りに失敗: %w", err)
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, rows.Err()
}

// PutEndpoint はエンドポイントを登録する。同じキーが存在する場合はトークンを上書きする。
func (s *Store) PutEndpoint(ctx context.Context, key, token string) error {
	if key == "" || token == "" {
		return errors.New("キーとトークンは必須です")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO fcm_tokens (key, token) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET token = excluded.token`,
		key, token,
	)
	if err != nil {
		return fmt.Errorf("エンドポイントの登録に失敗: %w", err)
	}
	return nil
}

// DeleteEndpoint は指定キーのエンドポイントを削除する。
// 存在しないキーの削除はエラーにならない（冪等）。
func (s *Store) DeleteEndpoint(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM fcm_tokens WHERE key = ?", key); err != nil {
		return fmt.Errorf("エンドポイント %s の削除に失敗: %w", key, err)
	}
	return nil
}

// IsAdmin はユーザーが管理者許可リストに含まれ、かつフラグがtrueであるかを返す。
func (s *Store) IsAdmin(ctx context.Context, uid string) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, "SELECT is_admin FROM admins WHERE uid = ?", uid).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("管理者情報の取得に失敗: %w", err)
	}
	return flag == 1, nil
}

// SetAdmin はユーザーの管理者フラグを設定する。
func (s *Store) SetAdmin(ctx context.Context, uid string, admin bool) error {
	flag := 0
	if admin {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO admins (uid, is_admin) VALUES (?, ?)
		 ON CONFLICT(uid) DO UPDATE SET is_admin = excluded.is_admin`,
		uid, flag,
	)
	if err != nil {
		return fmt.Errorf("管理者フラグの設定に失敗: %w", err)
	}
	return nil
}

// RoundStatus は指定週のスコア入力状態を返す。未設定の場合は空文字を返す。
func (s *Store) RoundStatus(ctx context.Context, week string) (string, error) {
	var status string
	err := s.db.QueryRowContext(ctx, "SELECT status FROM round_status WHERE week = ?", week).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ラウンド状態の取得に失敗: %w", err)
	}
	return status, nil
}

// SetRoundStatus は指定週のスコア入力状態を更新し、更新前の値を返す。
func (s *Store) SetRoundStatus(ctx context.Context, week, status string) (string, error) {
	before, err := s.RoundStatus(ctx, week)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO round_status (week, status, updated_at) VALUES (?, ?, datetime('now'))
		 ON CONFLICT(week) DO UPDATE SET status = excluded.status, updated_at = excluded.updated_at`,
		week, status,
	)
	if err != nil {
		return "", fmt.Errorf("ラウンド状態の更新に失敗: %w", err)
	}
	return before, nil
}

// ListRoundStatuses は全週のスコア入力状態を週をキーとしたマップで返す。
func (s *Store) ListRoundStatuses(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT week, status FROM round_status")
	if err != nil {
		return nil, fmt.Errorf("ラウンド状態一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	statuses := make(map[string]string)
	for rows.Next() {
		var week, status string
		if err := rows.Scan(&week, &status); err != nil {
			return nil, fmt.Errorf("ラウンド状態の読み取りに失敗: %w", err)
		}
		statuses[week] = status
	}
	return statuses, rows.Err()
}

// ScheduleCourse は指定週のコース名を返す。未登録の場合は空文字を返す。
func (s *Store) ScheduleCourse(ctx context.Context, week string) (string, error) {
	var course string
	err := s.db.QueryRowContext(ctx, "SELECT course FROM schedule WHERE week = ?", week).Scan(&course)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("スケジュールの取得に失敗: %w", err)
	}
	return course, nil
}

// SetSchedule は指定週のコース名を登録する。
func (s *Store) SetSchedule(ctx context.Context, week, course string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule (week, course) VALUES (?, ?)
		 ON CONFLICT(week) DO UPDATE SET course = excluded.course`,
		week, course,
	)
	if err != nil {
		return fmt.Errorf("スケジュールの登録に失敗: %w", err)
	}
	return nil
}
