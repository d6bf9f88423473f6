package http

type Handler func(ctx *RequestCtx)

// Router dispatches on routes in registration order. The first route whose
// path matches wins, so exactly one handler runs per request.
type Router struct {
	Routes     []Route
	Middleware []Middleware
	NotFound   Handler
}

type RouteMatch struct {
	Pattern string
	Param   string
	Handler Handler
}

func NewRouter() Router {
	return Router{
		Routes:   make([]Route, 0),
		NotFound: NotFoundHandler,
	}
}

func (router *Router) GET(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{MethodGet}, path, handler, middleware...)
}

func (router *Router) POST(path string, handler Handler, middleware ...Middleware) {
	router.Any([]string{MethodPost}, path, handler, middleware...)
}

// Any registers an exact-path route. A nil methods slice accepts every method.
func (router *Router) Any(methods []string, path string, handler Handler, middleware ...Middleware) {
	router.add(MatchExact, methods, path, handler, middleware)
}

// Prefix registers a route matching every path that starts with prefix. The
// remainder of the path is passed to the handler as RequestCtx.Param.
func (router *Router) Prefix(methods []string, prefix string, handler Handler, middleware ...Middleware) {
	router.add(MatchPrefix, methods, prefix, handler, middleware)
}

func (router *Router) add(kind MatchKind, methods []string, path string, handler Handler, middleware []Middleware) {
	for _, middleware := range middleware {
		handler = middleware(handler)
	}

	router.Routes = append(router.Routes, Route{
		Kind:    kind,
		Path:    path,
		Methods: methods,
		Handler: handler,
	})
}

// Match selects the single handler for (method, path). A route whose path
// matches but whose methods do not answers 405; the search does not continue.
func (router *Router) Match(method, path string) RouteMatch {
	for i := range router.Routes {
		route := &router.Routes[i]

		param, ok := route.match(path)
		if !ok {
			continue
		}

		if !route.allows(method) {
			return RouteMatch{Pattern: route.Path, Param: param, Handler: methodNotAllowedHandler(route.Methods)}
		}

		return RouteMatch{Pattern: route.Path, Param: param, Handler: route.Handler}
	}

	notFound := router.NotFound
	if notFound == nil {
		notFound = NotFoundHandler
	}
	return RouteMatch{Handler: notFound}
}

// Handler returns the dispatching handler wrapped in the router-wide middleware.
func (router *Router) Handler() Handler {
	var handler Handler = func(ctx *RequestCtx) {
		match := router.Match(ctx.Request.Method, ctx.Request.Path)
		ctx.Route = match.Pattern
		ctx.Param = match.Param

		match.Handler(ctx)
	}

	for _, middleware := range router.Middleware {
		handler = middleware(handler)
	}

	return handler
}
