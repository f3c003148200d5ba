package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// 错误分类（决定重试策略）：
//   - AuthError: 登录被拒，当前操作终止，不做内联重试
//   - TransientError: 超时/5xx/限流，交给队列退避重试
//   - ValidationError: 输入非法，立即拒绝，永不重试
//   - NotFoundError: 云端 404，本地影子标记离线而不是删除
//   - ConflictError: 唯一键冲突等领域冲突，不重试

// AuthError 认证失败
type AuthError struct {
	Msg string
}

func (e *AuthError) Error() string { return fmt.Sprintf("authentication failed: %s", e.Msg) }

// TransientError 瞬时失败（可重试）
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient failure in %s: %v", e.Op, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError 输入校验失败（不可重试）
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string { return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg) }

// NotFoundError 云端资源不存在
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s not found: %s", e.Resource, e.ID) }

// ConflictError 领域冲突（如网关 MAC 已注册）
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return fmt.Sprintf("conflict: %s", e.Msg) }

func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *TransientError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

// classifyHTTP 按 HTTP 状态码归类厂家 API 错误
// 429 和 5xx 走队列退避重试，其余 4xx 视为永久失败
func classifyHTTP(op string, statusCode int, msg string) error {
	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &AuthError{Msg: msg}
	case statusCode == http.StatusNotFound:
		return &NotFoundError{Resource: op, ID: msg}
	case statusCode == http.StatusConflict:
		return &ConflictError{Msg: msg}
	case statusCode == http.StatusTooManyRequests || statusCode >= 500:
		return &TransientError{Op: op, Err: fmt.Errorf("cloud returned %d: %s", statusCode, msg)}
	default:
		return &ValidationError{Field: op, Msg: msg}
	}
}
