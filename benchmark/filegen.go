package benchmark

import (
	"crypto/rand"
	"os"

	"github.com/CJJ1008/speed/storage"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// GenerateTestFile creates a test file of the given size quickly:
// preallocate, touch the first and last blocks with random data so the file
// is not one big hole, then fsync.
func GenerateTestFile(path string, size int64) error {
	if size < storage.BlockSize {
		return errors.Errorf("test file size %d below block size %d", size, storage.BlockSize)
	}
	_ = os.Remove(path)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err != nil {
		// Some filesystems lack fallocate; a plain truncate still works.
		if err := f.Truncate(size); err != nil {
			return errors.Wrapf(err, "truncate %s to %d", path, size)
		}
	}

	block := make([]byte, storage.BlockSize)
	if _, err := rand.Read(block); err != nil {
		return errors.Wrap(err, "random block")
	}
	if _, err := f.WriteAt(block, 0); err != nil {
		return errors.Wrapf(err, "write head of %s", path)
	}
	if size >= 2*storage.BlockSize {
		if _, err := f.WriteAt(block, size-storage.BlockSize); err != nil {
			return errors.Wrapf(err, "write tail of %s", path)
		}
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "fsync %s", path)
	}
	return nil
}

// WriteFullFile writes size bytes of real random data in chunkSize pieces
// and fsyncs, so every block is physically on the device. Needed when the
// read side uses O_DIRECT on filesystems that short-circuit holes.
func WriteFullFile(path string, size, chunkSize int64, directIO bool) error {
	if chunkSize <= 0 {
		return errors.Errorf("chunk size must be > 0, got %d", chunkSize)
	}
	_ = os.Remove(path)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if directIO {
		flags |= unix.O_DIRECT
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return errors.Wrapf(err, "create %s (direct=%v)", path, directIO)
	}
	defer f.Close()

	pool := NewAlignedPool(chunkSize)
	defer pool.Release()
	buf, err := pool.Get()
	if err != nil {
		return err
	}
	defer pool.Put(buf)
	if _, err := rand.Read(buf); err != nil {
		return errors.Wrap(err, "random chunk")
	}

	for written := int64(0); written < size; {
		n := min64(chunkSize, size-written)
		if directIO {
			n = storage.AlignDown(n, storage.BlockSize)
			if n == 0 {
				break
			}
		}
		if _, err := f.WriteAt(buf[:n], written); err != nil {
			return errors.Wrapf(err, "write %s at %d", path, written)
		}
		written += n
	}
	if err := f.Sync(); err != nil {
		return errors.Wrapf(err, "fsync %s", path)
	}
	return nil
}
