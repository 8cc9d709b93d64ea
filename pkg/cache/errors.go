package cache

import (
	"ratecache/pkg/error"
)

// CacheError 缓存模块的结构化错误。
type CacheError struct {
	error.BaseError
}

const (
	// ErrInvalidConfig 表示构造参数越界；构造直接失败，缓存自身不可恢复。
	ErrInvalidConfig error.ErrorCode = "INVALID_CONFIG"
)

var (
	// ErrInvalidConfiguration 构造期校验失败的哨兵，errors.Is 按代码匹配。
	ErrInvalidConfiguration = NewCacheError(ErrInvalidConfig, "invalid cache configuration")
)

// NewCacheError 创建缓存错误。
func NewCacheError(code error.ErrorCode, message string) *CacheError {
	return &CacheError{
		BaseError: *error.NewError(code, message),
	}
}

// WithContext 附加上下文并保持具体错误类型，便于链式构造。
func (e *CacheError) WithContext(key string, value interface{}) *CacheError {
	e.BaseError.WithContext(key, value)
	return e
}
