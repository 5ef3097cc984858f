package apierrors

import (
	"context"
	"errors"
)

// Code 表示统一错误分类，调用方只会看到这组封闭的错误类型。
type Code string

const (
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
	CodeDirectoryNotFound       Code = "DIRECTORY_NOT_FOUND"
	CodeSpawnFailed             Code = "SPAWN_FAILED"
	CodeCancelled               Code = "CANCELLED"
	CodeAuthenticationDismissed Code = "AUTHENTICATION_DISMISSED"
	CodeToolFailure             Code = "TOOL_FAILURE"
	CodeUnexpectedOutput        Code = "UNEXPECTED_OUTPUT"
	CodeSecureBootInactive      Code = "SECURE_BOOT_INACTIVE"
)

var httpStatusMap = map[Code]int{
	CodeInvalidArgument:         400,
	CodeDirectoryNotFound:       404,
	CodeSpawnFailed:             500,
	CodeCancelled:               499,
	CodeAuthenticationDismissed: 401,
	CodeToolFailure:             502,
	CodeUnexpectedOutput:        502,
	CodeSecureBootInactive:      409,
}

// Error 表示带统一错误码的错误，Message 保存面向用户的诊断文本。
type Error struct {
	Code    Code
	Message string
	// ExitCode 为外部进程退出码，-1 表示不可用。
	ExitCode int
	cause    error
}

// New 创建一个新的错误。
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, ExitCode: -1}
}

// Wrap 创建一个携带底层原因的错误。
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, ExitCode: -1, cause: cause}
}

// WithExitCode 记录外部进程退出码，返回自身方便链式调用。
func (e *Error) WithExitCode(code int) *Error {
	e.ExitCode = code
	return e
}

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.cause != nil {
		return e.cause.Error()
	}
	return string(e.Code)
}

// Unwrap 暴露底层原因。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// FromError 尝试从通用 error 中解析错误。
func FromError(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// CodeOf 返回 err 的错误码，未分类的 context 取消视为 CodeCancelled。
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if apiErr, ok := FromError(err); ok {
		return apiErr.Code
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancelled
	}
	return CodeToolFailure
}

// Is 判断 err 是否属于 code。
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// Suppressed 标记无需向用户弹出错误的情况：主动取消或关闭提权对话框。
func Suppressed(err error) bool {
	switch CodeOf(err) {
	case CodeCancelled, CodeAuthenticationDismissed:
		return true
	default:
		return false
	}
}

// HTTPStatus 返回对应的 HTTP 状态码，未知错误默认 500。
func HTTPStatus(code Code) int {
	if status, ok := httpStatusMap[code]; ok {
		return status
	}
	return 500
}
