package agent

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// CachedResponse はキャッシュに保存されたレスポンス。
type CachedResponse struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Header はレスポンスヘッダー。
	Header http.Header
	// Body はレスポンスボディ。
	Body []byte
}

// newCachedResponse はレスポンスのボディを読み切ってCachedResponseを生成し、
// 呼び出し元がそのまま返せるようにresp.Bodyを読み直し可能なものに差し替える。
func newCachedResponse(resp *http.Response) (*CachedResponse, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return &CachedResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

// Response はキャッシュ内容から新しいhttp.Responseを生成する。呼び出すたびに独立したボディを持つ。
func (c *CachedResponse) Response(req *http.Request) *http.Response {
	header := c.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		Status:        strconv.Itoa(c.StatusCode) + " " + http.StatusText(c.StatusCode),
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(c.Body)),
		ContentLength: int64(len(c.Body)),
		Request:       req,
	}
}

// Cache は名前付きストア1つ分のキャッシュ。キーはリクエストのメソッドとURL。
type Cache interface {
	// Put はリクエストに対するレスポンスを保存する。既存のエントリは上書きする。
	Put(ctx context.Context, req *http.Request, resp *CachedResponse) error
	// Match はリクエストに一致するレスポンスを返す。見つからない場合はfalseを返す。
	Match(ctx context.Context, req *http.Request) (*CachedResponse, bool, error)
}

// CacheStorage は名前付きストアの集合。
type CacheStorage interface {
	// Open は名前のストアを返す。存在しなければ作成する。
	Open(ctx context.Context, name string) (Cache, error)
	// Keys は存在するストア名を作成順に返す。
	Keys(ctx context.Context) ([]string, error)
	// Delete はストアを削除する。存在した場合はtrueを返す。
	Delete(ctx context.Context, name string) (bool, error)
	// MatchAny は全ストアを作成順に検索し、最初に一致したレスポンスを返す。
	MatchAny(ctx context.Context, req *http.Request) (*CachedResponse, bool, error)
}

// requestKey はリクエストの識別子を返す。
func requestKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

// MemoryStorage はプロセス内に保持するCacheStorage。
type MemoryStorage struct {
	mu     sync.RWMutex
	order  []string
	stores map[string]*memoryCache
}

// NewMemoryStorage は空のMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{stores: make(map[string]*memoryCache)}
}

// Open は名前のストアを返す。
func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.stores[name]
	if !ok {
		c = &memoryCache{entries: make(map[string]*CachedResponse)}
		s.stores[name] = c
		s.order = append(s.order, name)
	}
	return c, nil
}

// Keys はストア名を作成順に返す。
func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...), nil
}

// Delete はストアを削除する。
func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.stores[name]; !ok {
		return false, nil
	}
	delete(s.stores, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// MatchAny は全ストアを作成順に検索する。
func (s *MemoryStorage) MatchAny(ctx context.Context, req *http.Request) (*CachedResponse, bool, error) {
	s.mu.RLock()
	caches := make([]*memoryCache, 0, len(s.order))
	for _, n := range s.order {
		caches = append(caches, s.stores[n])
	}
	s.mu.RUnlock()

	for _, c := range caches {
		if resp, ok, _ := c.Match(ctx, req); ok {
			return resp, true, nil
		}
	}
	return nil, false, nil
}

type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*CachedResponse
}

func (c *memoryCache) Put(_ context.Context, req *http.Request, resp *CachedResponse) error {
	cp := *resp
	cp.Header = resp.Header.Clone()
	cp.Body = append([]byte(nil), resp.Body...)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[requestKey(req)] = &cp
	return nil
}

func (c *memoryCache) Match(_ context.Context, req *http.Request) (*CachedResponse, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	resp, ok := c.entries[requestKey(req)]
	return resp, ok, nil
}
