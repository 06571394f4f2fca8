package router

import (
	"expvar"

	"github.com/gin-gonic/gin"

	"hdbauth/internal/middleware"
)

func setSystemRoutes(r *gin.Engine, opts Options) {
	r.GET("/healthz", wrapHTTPFunc(opts.Healthz))

	if opts.DebugVars && opts.Validator != nil {
		r.GET("/debug/vars", wrapHTTP(baseChain(opts, expvar.Handler(),
			middleware.Gatekeeper(opts.Validator),
			middleware.RequireSuperUser,
		)))
	}
}
