package http

import (
	"slices"
	"strings"
)

type MatchKind uint8

const (
	MatchExact MatchKind = iota
	MatchPrefix
)

type Route struct {
	Kind    MatchKind
	Path    string
	Methods []string // nil accepts every method
	Handler Handler
}

// match reports whether path selects this route. For prefix routes param is
// the remainder of the path after the prefix.
func (route *Route) match(path string) (param string, ok bool) {
	switch route.Kind {
	case MatchPrefix:
		return strings.CutPrefix(path, route.Path)
	default:
		return "", path == route.Path
	}
}

func (route *Route) allows(method string) bool {
	return route.Methods == nil || slices.Contains(route.Methods, method)
}

var NotFoundHandler Handler = func(ctx *RequestCtx) {
	ctx.Response.WithStatus(StatusNotFound)
}

func methodNotAllowedHandler(methods []string) Handler {
	allow := strings.Join(methods, ", ")
	return func(ctx *RequestCtx) {
		ctx.Response.WithStatus(StatusMethodNotAllowed)
		ctx.Response.SetHeader("Allow", allow)
	}
}
