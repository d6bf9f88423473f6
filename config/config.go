package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/freekieb7/gravel-fileserver/http"
)

const (
	DefaultIOWorkers   = 16
	DefaultServiceName = "gravel"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config is read once at startup and never modified afterwards.
type Config struct {
	Directory      string
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	HandlerTimeout time.Duration
	MaxRequestSize int
	IOWorkers      int
	LogLevel       slog.Level
	OTLPEndpoint   string // empty disables telemetry export
	ServiceName    string
}

func Default() Config {
	return Config{
		Addr:           http.DefaultAddr,
		ReadTimeout:    http.DefaultReadTimeout,
		WriteTimeout:   http.DefaultWriteTimeout,
		HandlerTimeout: http.DefaultHandlerTimeout,
		MaxRequestSize: http.MaxRequestSize,
		IOWorkers:      DefaultIOWorkers,
		LogLevel:       slog.LevelInfo,
		ServiceName:    DefaultServiceName,
	}
}

// Parse reads the command line flags in args (without the program name).
// Usage output goes to output; -h returns flag.ErrHelp.
func Parse(args []string, output io.Writer) (Config, error) {
	cfg := Default()

	flags := flag.NewFlagSet("gravel", flag.ContinueOnError)
	flags.SetOutput(output)

	flags.StringVar(&cfg.Directory, "directory", "", "directory to serve files from (default: working directory)")
	flags.StringVar(&cfg.Addr, "addr", cfg.Addr, "TCP address to listen on")
	flags.DurationVar(&cfg.ReadTimeout, "read-timeout", cfg.ReadTimeout, "time allowed to receive a full request")
	flags.DurationVar(&cfg.WriteTimeout, "write-timeout", cfg.WriteTimeout, "time allowed to write the response")
	flags.DurationVar(&cfg.HandlerTimeout, "handler-timeout", cfg.HandlerTimeout, "time allowed for a handler, including queued file operations")
	flags.IntVar(&cfg.MaxRequestSize, "max-request-size", cfg.MaxRequestSize, "maximum request size in bytes, head and body")
	flags.IntVar(&cfg.IOWorkers, "io-workers", cfg.IOWorkers, "maximum number of concurrent file operations")
	flags.TextVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint for traces, metrics and logs")
	flags.StringVar(&cfg.ServiceName, "service-name", cfg.ServiceName, "service name reported to telemetry")

	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}
	if flags.NArg() > 0 {
		return Config{}, fmt.Errorf("%w: unexpected arguments %v", ErrInvalidConfig, flags.Args())
	}

	if cfg.Directory == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("%w: working directory: %w", ErrInvalidConfig, err)
		}
		cfg.Directory = wd
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (cfg Config) Validate() error {
	var errs []error

	info, err := os.Stat(cfg.Directory)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("directory: %w", err))
	case !info.IsDir():
		errs = append(errs, fmt.Errorf("directory: %s is not a directory", cfg.Directory))
	}

	if cfg.Addr == "" {
		errs = append(errs, errors.New("addr: must not be empty"))
	}
	if cfg.ReadTimeout <= 0 {
		errs = append(errs, fmt.Errorf("read-timeout: must be positive, got %s", cfg.ReadTimeout))
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write-timeout: must be positive, got %s", cfg.WriteTimeout))
	}
	if cfg.HandlerTimeout <= 0 {
		errs = append(errs, fmt.Errorf("handler-timeout: must be positive, got %s", cfg.HandlerTimeout))
	}
	if cfg.MaxRequestSize <= 0 {
		errs = append(errs, fmt.Errorf("max-request-size: must be positive, got %d", cfg.MaxRequestSize))
	}
	if cfg.IOWorkers <= 0 {
		errs = append(errs, fmt.Errorf("io-workers: must be positive, got %d", cfg.IOWorkers))
	}
	if cfg.ServiceName == "" {
		errs = append(errs, errors.New("service-name: must not be empty"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
