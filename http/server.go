package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	MaxRequestSize         = 2 * 1024 * 1024 // 2MB
	DefaultReadBufferSize  = 4096            // 4kB
	DefaultWriteBufferSize = 4096            // 4kB
	DefaultReadTimeout     = 10 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultHandlerTimeout  = 10 * time.Second
	DefaultAddr            = "127.0.0.1:4221"
)

// Server answers exactly one request per TCP connection and then closes it.
// Fields must be set, and routes registered, before the first call to Serve
// or ServeConn.
type Server struct {
	Name           string
	Router         Router
	Methods        []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	HandlerTimeout time.Duration // bounds the handler's context and the file I/O it waits on
	MaxRequestSize int
	Logger         *slog.Logger
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	Propagator     propagation.TextMapPropagator
	ShutdownFunc   func(context.Context) error

	initOnce    sync.Once
	handler     Handler
	tracer      trace.Tracer
	instruments serverInstruments

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	conns     sync.WaitGroup
	closed    atomic.Bool
}

func NewServer(name string) *Server {
	return &Server{
		Name:           name,
		Router:         NewRouter(),
		Methods:        DefaultMethods,
		ReadTimeout:    DefaultReadTimeout,
		WriteTimeout:   DefaultWriteTimeout,
		HandlerTimeout: DefaultHandlerTimeout,
		MaxRequestSize: MaxRequestSize,
		Logger:         slog.Default(),
		ShutdownFunc:   func(ctx context.Context) error { return nil },
	}
}

func (s *Server) init() {
	s.initOnce.Do(func() {
		if s.Logger == nil {
			s.Logger = slog.Default()
		}
		if s.MeterProvider == nil {
			s.MeterProvider = otel.GetMeterProvider()
		}
		if s.TracerProvider == nil {
			s.TracerProvider = otel.GetTracerProvider()
		}
		if s.Propagator == nil {
			s.Propagator = otel.GetTextMapPropagator()
		}
		if len(s.Methods) == 0 {
			s.Methods = DefaultMethods
		}
		if s.MaxRequestSize <= 0 {
			s.MaxRequestSize = MaxRequestSize
		}

		s.handler = s.Router.Handler()
		s.tracer = s.TracerProvider.Tracer(instrumentationName)
		s.instruments = newServerInstruments(s.MeterProvider.Meter(instrumentationName), s.Logger)
	})
}

// ListenAndServe binds addr and serves until ctx is done or Shutdown is called.
// A bind failure is returned immediately.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: listen on %s: %w", ErrSocketFailure, addr, err)
	}

	s.init()
	s.Logger.Info("listening", "server", s.Name, "addr", listener.Addr().String())

	return s.Serve(ctx, listener)
}

// Serve accepts connections and serves each on its own goroutine. Accept
// errors are retried with exponential backoff; only closing the listener ends
// the loop. It returns ErrServerClosed after Shutdown or when ctx is done.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.init()

	if !s.trackListener(listener, true) {
		listener.Close()
		return ErrServerClosed
	}
	defer s.trackListener(listener, false)

	stop := context.AfterFunc(ctx, func() {
		listener.Close()
	})
	defer stop()

	// In-flight connections finish even after ctx is cancelled; Shutdown bounds them.
	connCtx := context.WithoutCancel(ctx)

	retry := newAcceptBackOff()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.closed.Load() || ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%w: accept: %w", ErrSocketFailure, err)
			}

			delay := retry.NextBackOff()
			s.Logger.Warn("accept failed, retrying", "error", err, "delay", delay)
			time.Sleep(delay)
			continue
		}
		retry.Reset()

		if !s.startConn() {
			conn.Close()
			return ErrServerClosed
		}

		go func() {
			defer s.conns.Done()
			s.ServeConn(connCtx, conn)
		}()
	}
}

// ServeConn runs read, parse, dispatch and write once on conn, then closes it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn) {
	s.init()

	start := time.Now()
	connID := uuid.NewString()
	logger := s.Logger.With("conn_id", connID, "remote", remoteAddr(conn))

	s.instruments.connections.Add(ctx, 1)
	defer s.instruments.connections.Add(ctx, -1)

	defer func() {
		if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("closing connection failed", "error", err)
		}
	}()

	reqCtx := newRequestCtx(ctx, connID, logger)

	if s.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(start.Add(s.ReadTimeout)); err != nil {
			logger.Warn("setting read deadline failed", "error", err)
			return
		}
	}

	raw, err := ReadRequest(conn, s.MaxRequestSize)
	if err == nil {
		reqCtx.Request, err = ParseRequest(raw, s.Methods)
	}
	if err != nil {
		s.reject(reqCtx, conn, err, start)
		return
	}

	req := reqCtx.Request
	spanCtx := s.Propagator.Extract(ctx, HeaderCarrier{Headers: &req.Headers})
	spanCtx, span := s.tracer.Start(spanCtx, req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path),
			attribute.String("network.peer.address", remoteAddr(conn)),
		),
	)
	defer span.End()

	handlerCtx := spanCtx
	if s.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		handlerCtx, cancel = context.WithTimeout(spanCtx, s.HandlerTimeout)
		defer cancel()
	}
	reqCtx.Ctx = handlerCtx

	s.handler(reqCtx)

	status := reqCtx.Response.Status
	if reqCtx.Route != "" {
		span.SetName(req.Method + " " + reqCtx.Route)
	}
	span.SetAttributes(
		attribute.String("http.route", reqCtx.Route),
		attribute.Int("http.response.status_code", int(status)),
	)
	if status >= StatusInternalServerError {
		span.SetStatus(codes.Error, StatusText(status))
	}

	if err := s.writeResponse(conn, &reqCtx.Response); err != nil {
		span.RecordError(err)
		logger.Warn("writing response failed", "error", err)
	}

	elapsed := time.Since(start)
	s.instruments.record(spanCtx, req.Method, reqCtx.Route, status, elapsed)
	logger.Info("request served",
		"method", req.Method,
		"path", req.Path,
		"route", reqCtx.Route,
		"status", status,
		"bytes", len(reqCtx.Response.Body),
		"duration", elapsed,
	)
}

// reject answers a request that could not be read or parsed. Socket failures
// get no response; the connection is just closed.
func (s *Server) reject(reqCtx *RequestCtx, conn net.Conn, err error, start time.Time) {
	if errors.Is(err, io.EOF) {
		reqCtx.Logger.Debug("connection closed before a request arrived")
		return
	}

	status, ok := statusForError(err)
	if !ok {
		reqCtx.Logger.Warn("reading request failed", "error", err)
		return
	}

	reqCtx.Logger.Info("rejecting request", "status", status, "error", err)
	reqCtx.Response.WithStatus(status)
	if err := s.writeResponse(conn, &reqCtx.Response); err != nil {
		reqCtx.Logger.Warn("writing response failed", "error", err)
	}

	s.instruments.record(reqCtx.Context(), "_OTHER", "", status, time.Since(start))
}

func (s *Server) writeResponse(conn net.Conn, res *Response) error {
	if s.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(s.WriteTimeout)); err != nil {
			return fmt.Errorf("%w: set write deadline: %w", ErrSocketFailure, err)
		}
	}

	return res.Write(bufio.NewWriterSize(conn, DefaultWriteBufferSize))
}

// Shutdown stops accepting, waits for in-flight connections until ctx is done
// and then runs ShutdownFunc.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error

	s.mu.Lock()
	s.closed.Store(true)
	for listener := range s.listeners {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}

	if s.ShutdownFunc != nil {
		errs = append(errs, s.ShutdownFunc(ctx))
	}

	return errors.Join(errs...)
}

func (s *Server) trackListener(listener net.Listener, add bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !add {
		delete(s.listeners, listener)
		return true
	}

	if s.closed.Load() {
		return false
	}
	if s.listeners == nil {
		s.listeners = make(map[net.Listener]struct{})
	}
	s.listeners[listener] = struct{}{}
	return true
}

func (s *Server) startConn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return false
	}
	s.conns.Add(1)
	return true
}

func newAcceptBackOff() *backoff.ExponentialBackOff {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 5 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0
	retry.Reset()
	return retry
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
