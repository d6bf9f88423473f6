package http

import (
	"context"
	"log/slog"
)

type RequestCtx struct {
	Ctx    context.Context
	ConnID string
	Logger *slog.Logger

	Request  *Request
	Response Response

	// Route is the pattern of the matched route, empty when nothing matched.
	Route string
	// Param is the path remainder after a prefix route.
	Param string
}

func newRequestCtx(ctx context.Context, connID string, logger *slog.Logger) *RequestCtx {
	return &RequestCtx{
		Ctx:      ctx,
		ConnID:   connID,
		Logger:   logger,
		Response: Response{Status: StatusOK},
	}
}

func (reqCtx *RequestCtx) Context() context.Context {
	if reqCtx.Ctx == nil {
		return context.Background()
	}
	return reqCtx.Ctx
}
