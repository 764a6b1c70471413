package agent

import (
	"context"
	"errors"
	"sync"
)

// ErrNotificationNotFound は指定したタグの通知が表示されていないことを表す。
var ErrNotificationNotFound = errors.New("通知が見つかりません")

// Notifier は通知の表示先。
type Notifier interface {
	// Show は通知を表示する。
	Show(ctx context.Context, n Notification) error
	// Get は表示中の通知を返す。
	Get(ctx context.Context, tag string) (Notification, error)
	// Close は通知を閉じる。
	Close(ctx context.Context, tag string) error
}

// NotificationCenter は表示中の通知をメモリ上に保持するNotifier。
type NotificationCenter struct {
	mu    sync.Mutex
	order []string
	shown map[string]Notification
}

// NewNotificationCenter は空のNotificationCenterを生成する。
func NewNotificationCenter() *NotificationCenter {
	return &NotificationCenter{shown: make(map[string]Notification)}
}

// Show は通知を表示中に加える。同じタグの通知は置き換える。
func (c *NotificationCenter) Show(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shown[n.Tag]; !ok {
		c.order = append(c.order, n.Tag)
	}
	c.shown[n.Tag] = n
	return nil
}

// Get は表示中の通知を返す。
func (c *NotificationCenter) Get(_ context.Context, tag string) (Notification, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.shown[tag]
	if !ok {
		return Notification{}, ErrNotificationNotFound
	}
	return n, nil
}

// Close は通知を閉じる。
func (c *NotificationCenter) Close(_ context.Context, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shown[tag]; !ok {
		return ErrNotificationNotFound
	}
	delete(c.shown, tag)
	for i, t := range c.order {
		if t == tag {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// List は表示中の通知を表示順に返す。
func (c *NotificationCenter) List() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.order))
	for _, t := range c.order {
		out = append(out, c.shown[t])
	}
	return out
}
