// Package errs 定义服务端与客户端共用的错误分类。
// 调用方用 fmt.Errorf("...: %w", errs.ErrXxx) 包装，用 errors.Is 判断类别。
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication 缺少或无效的访问令牌，不重试
	ErrAuthentication = errors.New("认证失败")
	// ErrNotFound 引用的用户、群或会话不存在
	ErrNotFound = errors.New("资源不存在")
	// ErrTransientTransport 网络或连接故障，客户端有限次重试
	ErrTransientTransport = errors.New("传输暂时失败")
	// ErrConflictInvariant 违反数据约束的请求，记录警告后丢弃
	ErrConflictInvariant = errors.New("违反数据约束")
)

// Authentication 包装认证错误
func Authentication(format string, args ...interface{}) error {
	return wrap(ErrAuthentication, format, args...)
}

// NotFound 包装不存在错误
func NotFound(format string, args ...interface{}) error {
	return wrap(ErrNotFound, format, args...)
}

// Transient 包装传输错误，保留底层原因
func Transient(cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		return fmt.Errorf("%s: %w", msg, ErrTransientTransport)
	}
	return fmt.Errorf("%s: %w: %w", msg, ErrTransientTransport, cause)
}

// Conflict 包装约束错误
func Conflict(format string, args ...interface{}) error {
	return wrap(ErrConflictInvariant, format, args...)
}

func wrap(kind error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), kind)
}

// Retryable 只有传输错误值得重试
func Retryable(err error) bool {
	return errors.Is(err, ErrTransientTransport)
}
