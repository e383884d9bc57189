// Package install unpacks downloaded game archives into their install
// directory.
package install

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// EntryFunc is called after each archive entry is written.
type EntryFunc func(done, total int)

// Install extracts the zip archive read from r, which holds size bytes, into
// dest and returns the number of entries written.
func Install(ctx context.Context, r io.ReaderAt, size int64, dest string, onEntry EntryFunc) (int, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}

	return extract(ctx, zr, dest, onEntry)
}

// InstallFile extracts the zip archive at path into dest.
func InstallFile(ctx context.Context, path, dest string, onEntry EntryFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, &FilesystemError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, &FilesystemError{Op: "stat", Path: path, Err: err}
	}

	return Install(ctx, f, info.Size(), dest, onEntry)
}

func extract(ctx context.Context, zr *zip.Reader, dest string, onEntry EntryFunc) (int, error) {
	// Every entry is checked before anything is written.
	targets := make([]string, len(zr.File))

	for i, f := range zr.File {
		target, err := entryPath(dest, f)
		if err != nil {
			return 0, err
		}

		targets[i] = target
	}

	if err := os.MkdirAll(dest, 0o755); err != nil {
		return 0, &FilesystemError{Op: "mkdir", Path: dest, Err: err}
	}

	total := len(zr.File)

	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return i, err
		}

		if err := writeEntry(f, targets[i]); err != nil {
			return i, err
		}

		if onEntry != nil {
			onEntry(i+1, total)
		}
	}

	return total, nil
}

func entryPath(dest string, f *zip.File) (string, error) {
	if f.Mode()&fs.ModeSymlink != 0 {
		return "", fmt.Errorf("%w: %q is a symbolic link", ErrUnsafePath, f.Name)
	}

	name := strings.TrimSuffix(f.Name, "/")
	if name == "" || strings.Contains(name, `\`) || !filepath.IsLocal(filepath.FromSlash(name)) {
		return "", fmt.Errorf("%w: %q escapes the destination", ErrUnsafePath, f.Name)
	}

	return filepath.Join(dest, filepath.FromSlash(name)), nil
}

func writeEntry(f *zip.File, target string) error {
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return &FilesystemError{Op: "mkdir", Path: target, Err: err}
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return &FilesystemError{Op: "mkdir", Path: filepath.Dir(target), Err: err}
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: failed to open entry %q: %v", ErrInvalidArchive, f.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return &FilesystemError{Op: "create", Path: target, Err: err}
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()

		var fsErr *fs.PathError
		if errors.As(err, &fsErr) {
			return &FilesystemError{Op: "write", Path: target, Err: err}
		}

		return fmt.Errorf("%w: failed to read entry %q: %v", ErrInvalidArchive, f.Name, err)
	}

	if err := dst.Close(); err != nil {
		return &FilesystemError{Op: "write", Path: target, Err: err}
	}

	if runtime.GOOS != "windows" {
		if perm := f.Mode().Perm(); perm != 0 {
			if err := os.Chmod(target, perm); err != nil {
				return &FilesystemError{Op: "chmod", Path: target, Err: err}
			}
		}
	}

	return nil
}
