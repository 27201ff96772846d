package apperr

import (
	"errors"
	"fmt"
)

// Kind 区分业务错误的大类，处理层据此决定 HTTP 状态与日志级别。
type Kind int

const (
	// KindNotFound 资源不存在。
	KindNotFound Kind = iota + 1
	// KindConflict 当前状态下操作不合法（会话已结束、计划为空等）。
	KindConflict
	// KindValidation 入参非法（角色串、空白必填字段等）。
	KindValidation
	// KindUpstream 大模型不可用或调用失败。
	KindUpstream
	// KindUpstreamEmpty 大模型返回了空白文本。
	KindUpstreamEmpty
)

// Error 携带错误大类与面向用户的消息。
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// New 构造指定大类的业务错误。
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap 在保留原因链的同时附加业务语义。
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// KindOf 返回 err 链上的业务大类；非业务错误返回 0。
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return 0
}

// IsKind 判断 err 链上是否存在指定大类的业务错误。
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
