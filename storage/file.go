// Package storage provides the read side of the transfer engine: positioned
// file reads with optional O_DIRECT, a kernel-bypass path that lands bytes
// straight in device memory, zero-copy buffer registration, and the file-size
// probe used before planning.
package storage

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// BlockSize is the storage block alignment O_DIRECT reads must honor.
const BlockSize = 4096

// AlignDown rounds n down to a multiple of align.
func AlignDown(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return (n / align) * align
}

// AlignUp rounds n up to a multiple of align.
func AlignUp(n, align int64) int64 {
	if align <= 1 {
		return n
	}
	return ((n + align - 1) / align) * align
}

// File is a read-only source file, possibly opened with O_DIRECT.
type File struct {
	f         *os.File
	path      string
	direct    bool
	closeOnce sync.Once
	closed    bool
}

// Open opens path read-only. With directIO set the file bypasses the page
// cache; offsets, lengths and buffers must then be BlockSize-aligned.
func Open(path string, directIO bool) (*File, error) {
	flags := os.O_RDONLY
	if directIO {
		flags |= unix.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s (direct=%v)", path, directIO)
	}
	return &File{f: f, path: path, direct: directIO}, nil
}

// Path returns the path the file was opened with.
func (f *File) Path() string { return f.path }

// DirectIO reports whether the file was opened with O_DIRECT.
func (f *File) DirectIO() bool { return f.direct }

// ReadAt fills p from the file at off. A short read is a failure: the
// engine's accounting needs exact byte counts, never partial chunks.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, errors.Errorf("read on closed file %s", f.path)
	}
	n, err := f.f.ReadAt(p, off)
	if err != nil {
		return n, errors.Wrapf(err, "read %d bytes at %d from %s", len(p), off, f.path)
	}
	if n != len(p) {
		return n, errors.Errorf("short read from %s: want %d at %d, got %d", f.path, len(p), off, n)
	}
	return n, nil
}

// Size returns the file's size in bytes.
func (f *File) Size() (int64, error) {
	fi, err := f.f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", f.path)
	}
	return fi.Size(), nil
}

// Close closes the file. Safe to call more than once.
func (f *File) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.closed = true
		err = f.f.Close()
	})
	return errors.Wrapf(err, "close %s", f.path)
}

// Stat returns the size of the file at path.
func Stat(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, errors.Wrapf(err, "stat %s", path)
	}
	return fi.Size(), nil
}

// DropCaches asks the kernel to drop the page cache so buffered reads hit
// the device. Needs root; callers treat failure as a warning.
func DropCaches() error {
	unix.Sync()
	err := os.WriteFile("/proc/sys/vm/drop_caches", []byte("3\n"), 0o644)
	return errors.Wrap(err, "drop caches")
}
