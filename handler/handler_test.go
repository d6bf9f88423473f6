package handler

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/freekieb7/gravel-fileserver/filesystem"
	"github.com/freekieb7/gravel-fileserver/http"
	"github.com/freekieb7/gravel-fileserver/test"
)

type fileServer struct {
	srv    *http.Server
	dir    string
	reader *sdkmetric.ManualReader
}

func newFileServer(t *testing.T) *fileServer {
	t.Helper()

	dir := t.TempDir()
	files, err := filesystem.NewLocalFileSystem(dir, 2)
	test.AssertNoError(t, err)
	t.Cleanup(func() { files.Close() })

	fs := newFileServerWith(files)
	fs.dir = dir
	return fs
}

func newFileServerWith(files filesystem.Filesystem) *fileServer {
	reader := sdkmetric.NewManualReader()
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	srv := http.NewServer("test")
	srv.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	srv.MeterProvider = meterProvider
	srv.Methods = []string{http.MethodGet, http.MethodPost, "PUT"}
	Register(&srv.Router, files, meterProvider)

	return &fileServer{srv: srv, reader: reader}
}

func (fs *fileServer) do(t *testing.T, request string) string {
	t.Helper()

	resp, err := exchange(fs.srv, request)
	test.AssertNoError(t, err)
	return resp
}

// exchange serves one connection over net.Pipe and returns everything the
// server wrote before closing it.
func exchange(srv *http.Server, request string) (string, error) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	done := make(chan struct{})
	go func() {
		srv.ServeConn(context.Background(), serverConn)
		close(done)
	}()
	go clientConn.Write([]byte(request))

	resp, err := io.ReadAll(clientConn)
	<-done

	return string(resp), err
}

func TestEndpoints(t *testing.T) {
	tests := []struct {
		name     string
		request  string
		response string
	}{
		{
			"root",
			"GET / HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			"HTTP/1.1 200 OK\r\n\r\n",
		},
		{
			"root post",
			"POST / HTTP/1.1\r\n\r\n",
			"HTTP/1.1 200 OK\r\n\r\n",
		},
		{
			"not found",
			"GET /index.html HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			"HTTP/1.1 404 Not Found\r\n\r\n",
		},
		{
			"echo",
			"GET /echo/abc HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 3\r\n\r\nabc",
		},
		{
			"echo empty",
			"GET /echo/ HTTP/1.1\r\n\r\n",
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 0\r\n\r\n",
		},
		{
			"echo multibyte",
			"GET /echo/héllo HTTP/1.1\r\n\r\n",
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 6\r\n\r\nhéllo",
		},
		{
			"echo keeps percent escapes",
			"GET /echo/a%20b HTTP/1.1\r\n\r\n",
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\na%20b",
		},
		{
			"user agent",
			"GET /user-agent HTTP/1.1\r\nHost: localhost:4221\r\nUser-Agent: foobar/1.2.3\r\n\r\n",
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 12\r\n\r\nfoobar/1.2.3",
		},
		{
			"user agent first occurrence",
			"GET /user-agent HTTP/1.1\r\nUser-Agent: first\r\nUser-Agent: second\r\n\r\n",
			"HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 5\r\n\r\nfirst",
		},
		{
			"user agent missing",
			"GET /user-agent HTTP/1.1\r\nHost: localhost:4221\r\n\r\n",
			"HTTP/1.1 400 Bad Request\r\n\r\n",
		},
		{
			"user agent name is case sensitive",
			"GET /user-agent HTTP/1.1\r\nuser-agent: curl\r\n\r\n",
			"HTTP/1.1 400 Bad Request\r\n\r\n",
		},
		{
			"file missing",
			"GET /files/non_existent HTTP/1.1\r\n\r\n",
			"HTTP/1.1 404 Not Found\r\n\r\n",
		},
		{
			"file name empty",
			"GET /files/ HTTP/1.1\r\n\r\n",
			"HTTP/1.1 400 Bad Request\r\n\r\n",
		},
		{
			"file traversal",
			"GET /files/../secret HTTP/1.1\r\n\r\n",
			"HTTP/1.1 403 Forbidden\r\n\r\n",
		},
		{
			"file absolute",
			"GET /files//etc/passwd HTTP/1.1\r\n\r\n",
			"HTTP/1.1 403 Forbidden\r\n\r\n",
		},
		{
			"file method not allowed",
			"PUT /files/a.txt HTTP/1.1\r\n\r\n",
			"HTTP/1.1 405 Method Not Allowed\r\nAllow: GET, POST\r\n\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			test.AssertEqual(t, tt.response, newFileServer(t).do(t, tt.request))
		})
	}
}

func TestFilesRoundTrip(t *testing.T) {
	fs := newFileServer(t)

	resp := fs.do(t, "POST /files/file_123 HTTP/1.1\r\nContent-Type: application/octet-stream\r\nContent-Length: 5\r\n\r\n12345")
	test.AssertEqual(t, "HTTP/1.1 201 Created\r\n\r\n", resp)

	content, err := os.ReadFile(filepath.Join(fs.dir, "file_123"))
	test.AssertNoError(t, err)
	test.AssertEqual(t, "12345", string(content))

	resp = fs.do(t, "GET /files/file_123 HTTP/1.1\r\n\r\n")
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\nContent-Type: application/octet-stream\r\nContent-Length: 5\r\n\r\n12345", resp)

	// A second POST truncates.
	resp = fs.do(t, "POST /files/file_123 HTTP/1.1\r\nContent-Length: 2\r\n\r\nab")
	test.AssertEqual(t, "HTTP/1.1 201 Created\r\n\r\n", resp)

	resp = fs.do(t, "GET /files/file_123 HTTP/1.1\r\n\r\n")
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\nContent-Type: application/octet-stream\r\nContent-Length: 2\r\n\r\nab", resp)

	var rm metricdata.ResourceMetrics
	test.AssertNoError(t, fs.reader.Collect(context.Background(), &rm))

	bytes := make(map[string]int64)
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "gravel.files.bytes" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				direction, _ := dp.Attributes.Value("direction")
				bytes[direction.AsString()] += dp.Value
			}
		}
	}
	test.AssertEqual(t, int64(7), bytes["write"])
	test.AssertEqual(t, int64(7), bytes["read"])
}

func TestFilesBinaryBody(t *testing.T) {
	fs := newFileServer(t)
	body := "\x00\xff\xfe binary"

	resp := fs.do(t, "POST /files/blob HTTP/1.1\r\nContent-Length: 10\r\n\r\n"+body)
	test.AssertEqual(t, "HTTP/1.1 201 Created\r\n\r\n", resp)

	resp = fs.do(t, "GET /files/blob HTTP/1.1\r\n\r\n")
	test.AssertEqual(t, true, strings.HasSuffix(resp, "\r\n\r\n"+body))
}

func TestFilesWriteFailure(t *testing.T) {
	fs := newFileServer(t)

	resp := fs.do(t, "POST /files/missing/dir.txt HTTP/1.1\r\nContent-Length: 1\r\n\r\nx")
	test.AssertEqual(t, "HTTP/1.1 500 Internal Server Error\r\n\r\n", resp)
}

func TestFilesTraversalWriteStaysInside(t *testing.T) {
	fs := newFileServer(t)

	resp := fs.do(t, "POST /files/../escaped HTTP/1.1\r\nContent-Length: 1\r\n\r\nx")
	test.AssertEqual(t, "HTTP/1.1 403 Forbidden\r\n\r\n", resp)

	if _, err := os.Stat(filepath.Join(filepath.Dir(fs.dir), "escaped")); !os.IsNotExist(err) {
		t.Error("File outside the base directory should not exist")
	}
}

func TestFilesDirectoryIsNotFound(t *testing.T) {
	fs := newFileServer(t)
	test.AssertNoError(t, os.Mkdir(filepath.Join(fs.dir, "sub"), 0755))

	test.AssertEqual(t, "HTTP/1.1 404 Not Found\r\n\r\n", fs.do(t, "GET /files/sub HTTP/1.1\r\n\r\n"))
}

// stalledFilesystem runs every operation on a shared executor and blocks
// inside it until release is closed.
type stalledFilesystem struct {
	filesystem.Filesystem
	executor *filesystem.Executor
	release  chan struct{}
}

func (fs *stalledFilesystem) stall(ctx context.Context) error {
	return fs.executor.Do(ctx, func() error {
		<-fs.release
		return nil
	})
}

func (fs *stalledFilesystem) ReadFile(ctx context.Context, name string) ([]byte, error) {
	return nil, fs.stall(ctx)
}

func (fs *stalledFilesystem) WriteFile(ctx context.Context, name string, content []byte) error {
	return fs.stall(ctx)
}

func TestFilesStalledStorageTimesOut(t *testing.T) {
	files := &stalledFilesystem{executor: filesystem.NewExecutor(1), release: make(chan struct{})}
	t.Cleanup(func() {
		close(files.release)
		files.executor.Close()
	})

	fs := newFileServerWith(files)
	fs.srv.ReadTimeout = 100 * time.Millisecond
	fs.srv.WriteTimeout = 100 * time.Millisecond
	fs.srv.HandlerTimeout = 100 * time.Millisecond

	requests := map[string]string{
		"GET /files/a HTTP/1.1\r\n\r\n":                        "HTTP/1.1 404 Not Found\r\n\r\n",
		"GET /files/b HTTP/1.1\r\n\r\n":                        "HTTP/1.1 404 Not Found\r\n\r\n",
		"POST /files/c HTTP/1.1\r\nContent-Length: 1\r\n\r\nx": "HTTP/1.1 500 Internal Server Error\r\n\r\n",
	}

	type result struct {
		request, response string
		err               error
	}
	results := make(chan result, len(requests))
	for request := range requests {
		go func() {
			response, err := exchange(fs.srv, request)
			results <- result{request, response, err}
		}()
	}

	timeout := time.After(2 * time.Second)
	for range requests {
		select {
		case r := <-results:
			test.AssertNoError(t, r.err)
			test.AssertEqual(t, requests[r.request], r.response)
		case <-timeout:
			t.Fatal("file requests did not finish while storage was stalled")
		}
	}

	// Unrelated routes are unaffected.
	test.AssertEqual(t, "HTTP/1.1 200 OK\r\n\r\n", fs.do(t, "GET / HTTP/1.1\r\n\r\n"))
}
