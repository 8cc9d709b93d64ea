package rating

import (
	"ratecache/pkg/error"
)

const (
	// ErrBackendFetch 表示从后端拉取评分失败。
	ErrBackendFetch error.ErrorCode = "BACKEND_FETCH"
	// ErrBackendUnavailable 表示熔断器处于打开状态，后端暂不可用。
	ErrBackendUnavailable error.ErrorCode = "BACKEND_UNAVAILABLE"
	// ErrBackendClosed 表示后端已关闭。
	ErrBackendClosed error.ErrorCode = "BACKEND_CLOSED"
	// ErrBackendConnect 表示无法连接到后端。
	ErrBackendConnect error.ErrorCode = "BACKEND_CONNECT"
)

var (
	// ErrBackendOpen 熔断器打开时 Resolve 返回的错误。
	ErrBackendOpen = NewRatingError(ErrBackendUnavailable, "rating backend circuit open")
	// ErrClosed 对已关闭后端的调用返回的错误。
	ErrClosed = NewRatingError(ErrBackendClosed, "rating backend closed")
)

type RatingError struct {
	error.BaseError
}

func NewRatingError(code error.ErrorCode, message string) *RatingError {
	return &RatingError{
		BaseError: *error.NewError(code, message),
	}
}
