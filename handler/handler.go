// Package handler holds the file server's endpoints.
package handler

import (
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/freekieb7/gravel-fileserver/filesystem"
	"github.com/freekieb7/gravel-fileserver/http"
)

const instrumentationName = "github.com/freekieb7/gravel-fileserver/handler"

// Register adds the endpoints to router in dispatch order. A nil
// meterProvider falls back to the global one.
func Register(router *http.Router, files filesystem.Filesystem, meterProvider metric.MeterProvider) {
	if meterProvider == nil {
		meterProvider = otel.GetMeterProvider()
	}

	router.Prefix([]string{http.MethodGet, http.MethodPost}, "/files/", Files(files, meterProvider.Meter(instrumentationName)))
	router.Prefix(nil, "/echo/", Echo)
	router.Any(nil, "/user-agent", UserAgent)
	router.Any(nil, "/", Root)
}

func Root(ctx *http.RequestCtx) {
	ctx.Response.WithStatus(http.StatusOK)
}

// Echo answers with the path remainder after /echo/, undecoded.
func Echo(ctx *http.RequestCtx) {
	ctx.Response.WithText(ctx.Param)
}

func UserAgent(ctx *http.RequestCtx) {
	userAgent, ok := ctx.Request.Headers.Get("User-Agent")
	if !ok {
		ctx.Response.WithStatus(http.StatusBadRequest)
		return
	}

	ctx.Response.WithText(userAgent)
}

// Files serves GET and POST under /files/<name>.
func Files(files filesystem.Filesystem, meter metric.Meter) http.Handler {
	transferred, err := meter.Int64Counter("gravel.files.bytes",
		metric.WithDescription("Bytes read from or written to the base directory"),
		metric.WithUnit("By"),
	)
	if err != nil {
		otel.Handle(err)
	}

	record := func(ctx *http.RequestCtx, direction string, n int) {
		if transferred != nil {
			transferred.Add(ctx.Context(), int64(n), metric.WithAttributes(attribute.String("direction", direction)))
		}
	}

	return func(ctx *http.RequestCtx) {
		name := ctx.Param

		switch ctx.Request.Method {
		case http.MethodPost:
			if err := files.WriteFile(ctx.Context(), name, ctx.Request.Body); err != nil {
				status := statusForPathError(err, http.StatusInternalServerError)
				if status == http.StatusInternalServerError {
					logError(ctx, "writing file error", name, err)
				}
				ctx.Response.WithStatus(status)
				return
			}

			record(ctx, "write", len(ctx.Request.Body))
			ctx.Response.WithStatus(http.StatusCreated)
		default:
			content, err := files.ReadFile(ctx.Context(), name)
			if err != nil {
				if errors.Is(err, filesystem.ErrStorageFailure) {
					logError(ctx, "reading file error", name, err)
				}
				ctx.Response.WithStatus(statusForPathError(err, http.StatusNotFound))
				return
			}

			record(ctx, "read", len(content))
			ctx.Response.WithBytes("application/octet-stream", content)
		}
	}
}

// statusForPathError maps name rejections to 403/400 and everything else to
// fallback.
func statusForPathError(err error, fallback uint16) uint16 {
	switch {
	case errors.Is(err, filesystem.ErrPathEscape):
		return http.StatusForbidden
	case errors.Is(err, filesystem.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return fallback
	}
}

func logError(ctx *http.RequestCtx, msg, name string, err error) {
	if ctx.Logger == nil {
		return
	}
	ctx.Logger.ErrorContext(ctx.Context(), msg, "file", name, "error", err)
}
