package router

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"hdbauth/internal/auth"
	"hdbauth/internal/crud"
	"hdbauth/internal/middleware"
)

func setCRUDRoutes(r gin.IRoutes, opts Options) {
	if opts.CRUD == nil || opts.Validator == nil {
		return
	}
	protected := func(h http.HandlerFunc) gin.HandlerFunc {
		return wrapHTTP(baseChain(opts, h, middleware.Gatekeeper(opts.Validator)))
	}

	r.GET("/:schema/:table", protected(crudHandler(opts, func(r *http.Request, _ []byte) (crud.Operation, error) {
		return crud.SearchAll(r.PathValue("schema"), r.PathValue("table")), nil
	})))
	r.GET("/:schema/:table/:id", protected(crudHandler(opts, func(r *http.Request, _ []byte) (crud.Operation, error) {
		return crud.SearchByHash(r.PathValue("schema"), r.PathValue("table"), r.PathValue("id")), nil
	})))
	r.POST("/:schema/:table", protected(crudHandler(opts, func(r *http.Request, body []byte) (crud.Operation, error) {
		return crud.Insert(r.PathValue("schema"), r.PathValue("table"), body)
	})))
	r.PUT("/:schema/:table/:id", protected(crudHandler(opts, func(r *http.Request, body []byte) (crud.Operation, error) {
		return crud.Upsert(r.PathValue("schema"), r.PathValue("table"), r.PathValue("id"), body)
	})))
	r.PATCH("/:schema/:table/:id", protected(crudHandler(opts, func(r *http.Request, body []byte) (crud.Operation, error) {
		return crud.Update(r.PathValue("schema"), r.PathValue("table"), r.PathValue("id"), body)
	})))
	r.DELETE("/:schema/:table/:id", protected(crudHandler(opts, func(r *http.Request, _ []byte) (crud.Operation, error) {
		return crud.Delete(r.PathValue("schema"), r.PathValue("table"), r.PathValue("id")), nil
	})))
}

type buildOp func(r *http.Request, body []byte) (crud.Operation, error)

func crudHandler(opts Options, build buildOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil && r.Method != http.MethodGet && r.Method != http.MethodDelete {
			b, err := io.ReadAll(r.Body)
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					writeJSON(w, http.StatusRequestEntityTooLarge, gin.H{"error": http.StatusText(http.StatusRequestEntityTooLarge)})
					return
				}
				writeJSON(w, http.StatusBadRequest, gin.H{"error": "读取请求体失败"})
				return
			}
			body = b
		}

		op, err := build(r, body)
		if err != nil {
			writeJSON(w, crud.HTTPStatus(err), gin.H{"error": crud.PublicMessage(err)})
			return
		}
		// 未经过网关的请求拿到零值 Grant，全部拒绝。
		grant, _ := auth.GrantFromContext(r.Context())
		res, err := opts.CRUD.Execute(r.Context(), grant, op)
		if err != nil {
			status := crud.HTTPStatus(err)
			if status >= http.StatusInternalServerError {
				slog.ErrorContext(r.Context(), "CRUD 执行失败", "request_id", middleware.GetRequestID(r.Context()), "operation", op.Operation, "err", err)
			}
			writeJSON(w, status, gin.H{"error": crud.PublicMessage(err)})
			return
		}
		writeJSON(w, http.StatusOK, res.Body(op.Operation))
	}
}
