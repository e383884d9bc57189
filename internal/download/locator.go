package download

import (
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Locator finds the file to launch inside an install directory.
type Locator interface {
	Locate(dir string) (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(dir string) (string, error)

func (f LocatorFunc) Locate(dir string) (string, error) {
	return f(dir)
}

// ExecutableLocator looks for a .exe file, top level first and then up to
// MaxDepth directories down. Outside Windows a regular file with an execute
// bit is accepted when no .exe exists.
type ExecutableLocator struct {
	MaxDepth int
}

func DefaultLocator() ExecutableLocator {
	return ExecutableLocator{MaxDepth: 2}
}

func (l ExecutableLocator) Locate(dir string) (string, error) {
	matchers := []func(fs.DirEntry) bool{isWindowsExecutable}
	if runtime.GOOS != "windows" {
		matchers = append(matchers, hasExecBit)
	}

	for _, match := range matchers {
		if path, ok := l.find(dir, 0, match); ok {
			return path, nil
		}
	}

	return "", ErrNoExecutable
}

func (l ExecutableLocator) find(dir string, depth int, match func(fs.DirEntry) bool) (string, bool) {
	if depth > l.MaxDepth {
		return "", false
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}

	for _, e := range entries {
		if e.Type().IsRegular() && match(e) {
			return filepath.Join(dir, e.Name()), true
		}
	}

	for _, e := range entries {
		if e.IsDir() {
			if path, ok := l.find(filepath.Join(dir, e.Name()), depth+1, match); ok {
				return path, true
			}
		}
	}

	return "", false
}

func isWindowsExecutable(e fs.DirEntry) bool {
	return strings.EqualFold(filepath.Ext(e.Name()), ".exe")
}

func hasExecBit(e fs.DirEntry) bool {
	if strings.HasSuffix(e.Name(), PartialSuffix) {
		return false
	}

	info, err := e.Info()
	if err != nil {
		return false
	}

	return info.Mode().Perm()&0o111 != 0
}
