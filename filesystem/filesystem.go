package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Error constants for better error handling
var (
	ErrFileNotFound   = errors.New("filesystem: file not found")
	ErrInvalidPath    = errors.New("filesystem: invalid path")
	ErrPathEscape     = errors.New("filesystem: path escapes base directory")
	ErrStorageFailure = errors.New("filesystem: storage failure")
)

// Filesystem reads and writes files by name relative to a base directory.
// Names are resolved with Resolve; nothing outside the base directory is
// ever touched.
type Filesystem interface {
	ReadFile(ctx context.Context, name string) ([]byte, error)
	WriteFile(ctx context.Context, name string, content []byte) error

	Resolve(name string) (string, error)
	BaseDirectory() string
	Close() error
}

type localFileSystem struct {
	baseDirectory string
	executor      *Executor
}

// NewLocalFileSystem serves files from baseDirectory, which must exist. At
// most workers file operations run at the same time.
func NewLocalFileSystem(baseDirectory string, workers int) (Filesystem, error) {
	absolute, err := filepath.Abs(baseDirectory)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}

	info, err := os.Stat(absolute)
	if err != nil {
		return nil, fmt.Errorf("%w: base directory: %w", ErrInvalidPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: base directory %s is not a directory", ErrInvalidPath, absolute)
	}

	return &localFileSystem{
		baseDirectory: absolute,
		executor:      NewExecutor(workers),
	}, nil
}

func (filesystem *localFileSystem) BaseDirectory() string {
	return filesystem.baseDirectory
}

// Resolve maps name to a path inside the base directory. Names with a ".."
// segment or an absolute prefix fail with ErrPathEscape; empty names, names
// naming the base directory itself and names with NUL bytes fail with
// ErrInvalidPath.
func (filesystem *localFileSystem) Resolve(name string) (string, error) {
	if name == "" || strings.ContainsRune(name, 0) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}

	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) ||
		filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q is absolute", ErrPathEscape, name)
	}

	for _, segment := range strings.FieldsFunc(name, isSeparator) {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
		}
	}

	path := filepath.Join(filesystem.baseDirectory, filepath.FromSlash(name))

	rel, err := filepath.Rel(filesystem.baseDirectory, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	if rel == "." {
		return "", fmt.Errorf("%w: %q names the base directory", ErrInvalidPath, name)
	}

	return path, nil
}

func isSeparator(r rune) bool {
	return r == '/' || r == '\\'
}

func (filesystem *localFileSystem) ReadFile(ctx context.Context, name string) ([]byte, error) {
	path, err := filesystem.Resolve(name)
	if err != nil {
		return nil, err
	}

	var content []byte
	err = filesystem.executor.Do(ctx, func() error {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", ErrFileNotFound, name)
			}
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s is a directory", ErrFileNotFound, name)
		}

		content, err = os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrFileNotFound) || errors.Is(err, ErrStorageFailure) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return content, nil
}

// WriteFile creates or truncates name with content. The content is written to
// a temporary file in the same directory and renamed into place, so readers
// see either the old or the new file. Concurrent writers: last rename wins.
// Missing parent directories are not created.
func (filesystem *localFileSystem) WriteFile(ctx context.Context, name string, content []byte) error {
	path, err := filesystem.Resolve(name)
	if err != nil {
		return err
	}

	err = filesystem.executor.Do(ctx, func() error {
		return writeFileAtomic(path, content)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}

	return nil
}

func writeFileAtomic(path string, content []byte) (err error) {
	file, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	tempPath := file.Name()

	defer func() {
		if err != nil {
			if removeErr := os.Remove(tempPath); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
				slog.Error("removing temporary file error", "path", tempPath, "error", removeErr)
			}
		}
	}()

	if _, err = file.Write(content); err != nil {
		file.Close()
		return err
	}
	if err = file.Chmod(0644); err != nil {
		file.Close()
		return err
	}
	if err = file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err = file.Close(); err != nil {
		return err
	}

	return os.Rename(tempPath, path)
}

func (filesystem *localFileSystem) Close() error {
	filesystem.executor.Close()
	return nil
}
