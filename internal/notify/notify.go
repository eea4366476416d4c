// Package notify 实现通知权限约定：granted 直接展示；default 先请求权限，
// 只有授权后才展示；denied 静默忽略。
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/meteo-pwa/meteo-hub/internal/logging"
)

// Permission 是通知权限状态。
type Permission string

const (
	PermissionGranted Permission = "granted"
	PermissionDefault Permission = "default"
	PermissionDenied  Permission = "denied"
)

// ParsePermission 解析配置中的权限值。
func ParsePermission(raw string) (Permission, error) {
	switch p := Permission(raw); p {
	case PermissionGranted, PermissionDefault, PermissionDenied:
		return p, nil
	}
	return "", fmt.Errorf("unknown notification permission %q", raw)
}

// Notification 是一条待展示的通知。
type Notification struct {
	Title string
	Body  string
	Icon  string
}

// Requester 询问用户是否授权，返回新的权限状态。
type Requester interface {
	RequestPermission(ctx context.Context) (Permission, error)
}

// RequesterFunc 适配普通函数。
type RequesterFunc func(ctx context.Context) (Permission, error)

func (f RequesterFunc) RequestPermission(ctx context.Context) (Permission, error) { return f(ctx) }

// StaticRequester 总是返回固定结果，对应配置中的 AutoGrant。
func StaticRequester(grant bool) Requester {
	return RequesterFunc(func(context.Context) (Permission, error) {
		if grant {
			return PermissionGranted, nil
		}
		return PermissionDenied, nil
	})
}

// Sink 负责真正展示通知。
type Sink interface {
	Show(ctx context.Context, n Notification) error
}

// DefaultIcon 与应用图标保持一致。
const DefaultIcon = "/src/assets/icon-192.png"

// Center 持有权限状态并按约定分发通知。
type Center struct {
	requester Requester
	sink      Sink

	mu         sync.Mutex
	permission Permission
}

func NewCenter(permission Permission, requester Requester, sink Sink) *Center {
	if requester == nil {
		requester = StaticRequester(false)
	}
	return &Center{permission: permission, requester: requester, sink: sink}
}

func (c *Center) Permission() Permission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission
}

// Send 返回通知是否已展示。
func (c *Center) Send(ctx context.Context, title, body string) (bool, error) {
	permission := c.Permission()
	switch permission {
	case PermissionGranted:
	case PermissionDenied:
		return false, nil
	default:
		granted, err := c.requester.RequestPermission(ctx)
		if err != nil {
			return false, fmt.Errorf("request permission: %w", err)
		}
		c.mu.Lock()
		// 用户已经作出选择，之后不再询问。
		if granted == PermissionGranted || granted == PermissionDenied {
			c.permission = granted
		}
		c.mu.Unlock()
		if granted != PermissionGranted {
			return false, nil
		}
	}

	if c.sink == nil {
		return false, nil
	}
	if err := c.sink.Show(ctx, Notification{Title: title, Body: body, Icon: DefaultIcon}); err != nil {
		return false, err
	}
	return true, nil
}

// LogSink 把通知写入结构化日志，服务端没有桌面通知时使用。
type LogSink struct {
	logger *logrus.Entry
}

func NewLogSink(logger *logrus.Logger) *LogSink {
	return &LogSink{logger: logging.Component(logger, "notify")}
}

func (s *LogSink) Show(_ context.Context, n Notification) error {
	s.logger.WithFields(logrus.Fields{
		"action": "notification",
		"title":  n.Title,
		"body":   n.Body,
		"icon":   n.Icon,
	}).Info("notification")
	return nil
}
