package agent

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storageFactories はテスト対象のCacheStorage実装。
func storageFactories() map[string]func(t *testing.T) CacheStorage {
	return map[string]func(t *testing.T) CacheStorage{
		"メモリ": func(_ *testing.T) CacheStorage {
			return NewMemoryStorage()
		},
		"SQLite": func(t *testing.T) CacheStorage {
			s, err := OpenSQLiteStorage(t.Context(), ":memory:", zerolog.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

// TestCacheStorage は両実装が同じ振る舞いをすることを検証する。
func TestCacheStorage(t *testing.T) {
	t.Parallel()

	for name, newStorage := range storageFactories() {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			t.Run("保存したレスポンスがバイト単位で一致して取り出せること", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				s := newStorage(t)

				cache, err := s.Open(ctx, "v1")
				require.NoError(t, err)

				body := []byte{0x00, 0xff, '<', 'h', '>', 0x7f, '\n'}
				req := newRequest(t, http.MethodGet, testOrigin+"/logo.png", nil)
				want := &CachedResponse{
					StatusCode: http.StatusOK,
					Header:     http.Header{"Content-Type": {"image/png"}, "Etag": {`"abc"`}},
					Body:       body,
				}
				require.NoError(t, cache.Put(ctx, req, want))

				got, ok, err := cache.Match(ctx, req)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want.StatusCode, got.StatusCode)
				assert.Equal(t, want.Header, got.Header)
				assert.Equal(t, body, got.Body)
			})

			t.Run("同じキーへの保存は後勝ちで上書きされること", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				s := newStorage(t)
				cache, err := s.Open(ctx, "v1")
				require.NoError(t, err)

				req := newRequest(t, http.MethodGet, testOrigin+"/", nil)
				require.NoError(t, cache.Put(ctx, req, &CachedResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("old")}))
				require.NoError(t, cache.Put(ctx, req, &CachedResponse{StatusCode: 200, Header: http.Header{}, Body: []byte("new")}))

				got, ok, err := cache.Match(ctx, req)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "new", string(got.Body))
			})

			t.Run("メソッドやURLが違えば一致しないこと", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				s := newStorage(t)
				cache, err := s.Open(ctx, "v1")
				require.NoError(t, err)

				require.NoError(t, cache.Put(ctx, newRequest(t, http.MethodGet, testOrigin+"/a", nil), &CachedResponse{StatusCode: 200, Body: []byte("a")}))

				for _, req := range []*http.Request{
					newRequest(t, http.MethodHead, testOrigin+"/a", nil),
					newRequest(t, http.MethodGet, testOrigin+"/a?x=1", nil),
					newRequest(t, http.MethodGet, testOrigin+"/b", nil),
				} {
					_, ok, err := cache.Match(ctx, req)
					require.NoError(t, err)
					assert.False(t, ok, "%s %s", req.Method, req.URL)
				}
			})

			t.Run("ストアは作成順に列挙され削除できること", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				s := newStorage(t)

				for _, n := range []string{"fog-golf-v8", "fog-golf-v9", "fog-golf-v10"} {
					_, err := s.Open(ctx, n)
					require.NoError(t, err)
				}
				// 既存ストアを開き直しても順序は変わらない
				_, err := s.Open(ctx, "fog-golf-v8")
				require.NoError(t, err)

				keys, err := s.Keys(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"fog-golf-v8", "fog-golf-v9", "fog-golf-v10"}, keys)

				deleted, err := s.Delete(ctx, "fog-golf-v9")
				require.NoError(t, err)
				assert.True(t, deleted)

				deleted, err = s.Delete(ctx, "fog-golf-v9")
				require.NoError(t, err)
				assert.False(t, deleted)

				keys, err = s.Keys(ctx)
				require.NoError(t, err)
				assert.Equal(t, []string{"fog-golf-v8", "fog-golf-v10"}, keys)
			})

			t.Run("削除したストアのエントリは残らないこと", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				s := newStorage(t)
				req := newRequest(t, http.MethodGet, testOrigin+"/", nil)

				old, err := s.Open(ctx, "old")
				require.NoError(t, err)
				require.NoError(t, old.Put(ctx, req, &CachedResponse{StatusCode: 200, Body: []byte("x")}))
				_, err = s.Delete(ctx, "old")
				require.NoError(t, err)

				reopened, err := s.Open(ctx, "old")
				require.NoError(t, err)
				_, ok, err := reopened.Match(ctx, req)
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("MatchAnyは全ストアを作成順に検索すること", func(t *testing.T) {
				t.Parallel()
				ctx := context.Background()
				s := newStorage(t)
				req := newRequest(t, http.MethodGet, testOrigin+"/index.html", nil)

				_, ok, err := s.MatchAny(ctx, req)
				require.NoError(t, err)
				assert.False(t, ok)

				first, err := s.Open(ctx, "first")
				require.NoError(t, err)
				second, err := s.Open(ctx, "second")
				require.NoError(t, err)
				require.NoError(t, second.Put(ctx, req, &CachedResponse{StatusCode: 200, Body: []byte("second")}))

				got, ok, err := s.MatchAny(ctx, req)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "second", string(got.Body))

				require.NoError(t, first.Put(ctx, req, &CachedResponse{StatusCode: 200, Body: []byte("first")}))
				got, ok, err = s.MatchAny(ctx, req)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, "first", string(got.Body))
			})
		})
	}
}

// TestCachedResponse_Response は取り出したレスポンスが毎回独立したボディを持つことを検証する。
func TestCachedResponse_Response(t *testing.T) {
	t.Parallel()

	c := &CachedResponse{StatusCode: http.StatusOK, Header: http.Header{"Content-Type": {"text/html"}}, Body: []byte("<html>")}
	req := newRequest(t, http.MethodGet, testOrigin+"/", nil)

	r1 := c.Response(req)
	r2 := c.Response(req)
	assert.Equal(t, "<html>", readBody(t, r1))
	assert.Equal(t, "<html>", readBody(t, r2))
	assert.Equal(t, "200 OK", r1.Status)
	assert.EqualValues(t, 6, r1.ContentLength)

	r1.Header.Set("X-Mutated", "1")
	assert.Empty(t, c.Header.Get("X-Mutated"))
}

// TestSQLiteStorage_HashCollision はハッシュが衝突した別リクエストのエントリを上書きしないことを検証する。
func TestSQLiteStorage_HashCollision(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s, err := OpenSQLiteStorage(ctx, ":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	cache, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	storeID := cache.(*sqliteCache).storeID

	req := newRequest(t, http.MethodGet, testOrigin+"/", nil)
	key := requestKey(req)
	// 同じハッシュを持つ別のリクエストのエントリを直接用意する
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (store_id, key_hash, request_key, status, header, body)
		VALUES (?, ?, ?, 200, '{}', ?)`, storeID, hashKey(key), "GET "+testOrigin+"/other", []byte("other"))
	require.NoError(t, err)

	require.NoError(t, cache.Put(ctx, req, &CachedResponse{StatusCode: http.StatusOK, Header: http.Header{}, Body: []byte("root")}))

	got, ok, err := cache.Match(ctx, req)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "root", string(got.Body))

	var n int
	require.NoError(t, s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM cache_entries WHERE key_hash = ?", hashKey(key)).Scan(&n))
	assert.Equal(t, 2, n, "衝突したエントリも残ること")
}
