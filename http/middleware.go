package http

import "fmt"

type Middleware func(next Handler) Handler

// RecoverMiddleware turns a handler panic into a 500 with an empty body.
func RecoverMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestCtx) {
			defer func() {
				if recovered := recover(); recovered != nil {
					ctx.Logger.Error("handler panicked",
						"method", ctx.Request.Method,
						"path", ctx.Request.Path,
						"panic", fmt.Sprint(recovered),
					)

					ctx.Response.Reset()
					ctx.Response.WithStatus(StatusInternalServerError)
				}
			}()

			next(ctx)
		}
	}
}
