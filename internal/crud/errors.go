package crud

import (
	"errors"
	"net/http"

	"hdbauth/internal/store"
)

var (
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")
	ErrUnknownOperation = errors.New("unknown operation")
)

// HTTPStatus 将执行错误映射为状态码；未识别的错误按存储故障处理。
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrUnknownOperation),
		errors.Is(err, store.ErrInvalidDocument), errors.Is(err, store.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrSchemaNotFound), errors.Is(err, store.ErrTableNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrRecordExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 只对 4xx 返回细节；5xx 使用固定文案。
func PublicMessage(err error) string {
	status := HTTPStatus(err)
	switch {
	case status == http.StatusForbidden:
		return "Forbidden"
	case status < http.StatusInternalServerError && err != nil:
		return err.Error()
	case status >= http.StatusInternalServerError:
		return "Internal Error"
	default:
		return ""
	}
}
