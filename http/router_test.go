package http

import (
	"context"
	"log/slog"
	"testing"

	"github.com/freekieb7/gravel-fileserver/test"
)

func newTestRouter(calls *[]string) Router {
	router := NewRouter()

	record := func(name string) Handler {
		return func(ctx *RequestCtx) {
			*calls = append(*calls, name+":"+ctx.Param)
		}
	}

	router.Prefix([]string{MethodGet, MethodPost}, "/files/", record("files"))
	router.Prefix(nil, "/echo/", record("echo"))
	router.Any(nil, "/user-agent", record("user-agent"))
	router.Any(nil, "/", record("root"))

	return router
}

func dispatch(router *Router, method, path string) *RequestCtx {
	ctx := newRequestCtx(context.Background(), "test", slog.Default())
	ctx.Request = &Request{Method: method, Path: path, Version: "HTTP/1.1"}
	router.Handler()(ctx)
	return ctx
}

func TestRouterFirstMatchWins(t *testing.T) {
	tests := []struct {
		method string
		path   string
		calls  string
		route  string
	}{
		{MethodGet, "/files/a.txt", "files:a.txt", "/files/"},
		{MethodPost, "/files/dir/a", "files:dir/a", "/files/"},
		{MethodGet, "/echo/abc", "echo:abc", "/echo/"},
		{MethodGet, "/echo/a/b/c", "echo:a/b/c", "/echo/"},
		{MethodPost, "/echo/", "echo:", "/echo/"},
		{MethodGet, "/user-agent", "user-agent:", "/user-agent"},
		{MethodGet, "/", "root:", "/"},
		{MethodGet, "/files/user-agent", "files:user-agent", "/files/"},
		{MethodGet, "/echo/files/x", "echo:files/x", "/echo/"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var calls []string
			router := newTestRouter(&calls)

			ctx := dispatch(&router, tt.method, tt.path)

			test.AssertEqual(t, 1, len(calls))
			if len(calls) == 1 {
				test.AssertEqual(t, tt.calls, calls[0])
			}
			test.AssertEqual(t, tt.route, ctx.Route)
		})
	}
}

func TestRouterNotFound(t *testing.T) {
	for _, path := range []string{"/echo", "/files", "/user-agent/", "/index.html", "//", "/Echo/abc"} {
		var calls []string
		router := newTestRouter(&calls)

		ctx := dispatch(&router, MethodGet, path)

		test.AssertEqual(t, 0, len(calls))
		test.AssertEqual(t, StatusNotFound, ctx.Response.Status)
		test.AssertEqual(t, 0, len(ctx.Response.Body))
	}
}

func TestRouterMethodNotAllowed(t *testing.T) {
	var calls []string
	router := newTestRouter(&calls)

	ctx := dispatch(&router, "PUT", "/files/a.txt")

	test.AssertEqual(t, 0, len(calls))
	test.AssertEqual(t, StatusMethodNotAllowed, ctx.Response.Status)

	allow, _ := ctx.Response.Headers.Get("Allow")
	test.AssertEqual(t, "GET, POST", allow)
}

func TestRouterMiddlewareOrder(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx *RequestCtx) {
				order = append(order, name)
				next(ctx)
			}
		}
	}

	router := NewRouter()
	router.Middleware = append(router.Middleware, trace("global"))
	router.GET("/", func(ctx *RequestCtx) {
		order = append(order, "handler")
	}, trace("route"))

	dispatch(&router, MethodGet, "/")

	test.AssertEqual(t, 3, len(order))
	if len(order) == 3 {
		test.AssertEqual(t, "global", order[0])
		test.AssertEqual(t, "route", order[1])
		test.AssertEqual(t, "handler", order[2])
	}
}

func TestRecoverMiddleware(t *testing.T) {
	router := NewRouter()
	router.Middleware = append(router.Middleware, RecoverMiddleware())
	router.GET("/", func(ctx *RequestCtx) {
		ctx.Response.WithText("half written")
		panic("boom")
	})

	ctx := dispatch(&router, MethodGet, "/")

	test.AssertEqual(t, StatusInternalServerError, ctx.Response.Status)
	test.AssertEqual(t, 0, len(ctx.Response.Body))
	test.AssertEqual(t, 0, len(ctx.Response.Headers))
}
