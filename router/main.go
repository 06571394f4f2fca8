package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

func SetRouter(r *gin.Engine, opts Options) {
	setSystemRoutes(r, opts)
	setAuthRoutes(r, opts)

	// 路由组只挂压缩；鉴权在每条路由的 chain 里。
	data := r.Group("/")
	data.Use(gzip.Gzip(gzip.DefaultCompression))
	setCRUDRoutes(data, opts)
}
