package storage

import (
	"sync"

	"github.com/CJJ1008/speed/device"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// stagedReadChunk bounds the intermediate copy used for bypass reads into
// unregistered device buffers.
const stagedReadChunk = 256 * 1024

// Buffer registration bookkeeping is driver-global, like the storage
// subsystem it stands in for.
var (
	regMu      sync.Mutex
	registered = map[*device.Buffer]struct{}{}
)

// RegisterBuffer registers a device buffer with the storage subsystem so
// bypass reads into it skip the intermediate staging copy.
func RegisterBuffer(b *device.Buffer) error {
	if b == nil {
		return errors.New("register nil buffer")
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := registered[b]; ok {
		return errors.New("buffer already registered")
	}
	registered[b] = struct{}{}
	return nil
}

// DeregisterBuffer removes a buffer's registration. Deregistering a buffer
// that is not registered is a no-op, so teardown paths can run it twice.
func DeregisterBuffer(b *device.Buffer) {
	regMu.Lock()
	defer regMu.Unlock()
	delete(registered, b)
}

func bufferRegistered(b *device.Buffer) bool {
	regMu.Lock()
	defer regMu.Unlock()
	_, ok := registered[b]
	return ok
}

// TransferHandle is an open file registered with the kernel-bypass storage
// path. Reads through it land directly in device memory.
type TransferHandle struct {
	f         *File
	deregOnce sync.Once
	dereg     bool
}

// RegisterHandle registers f with the bypass storage subsystem.
func RegisterHandle(f *File) (*TransferHandle, error) {
	if f == nil || f.closed {
		return nil, errors.New("register handle on closed file")
	}
	return &TransferHandle{f: f}, nil
}

// ReadIntoDevice reads n bytes from the file at fileOff into buf at bufOff.
// Registered buffers take the zero-copy path; unregistered buffers pay one
// extra staging copy. A short read is a failure.
func (h *TransferHandle) ReadIntoDevice(buf *device.Buffer, bufOff, fileOff, n int64) (int64, error) {
	if h.dereg {
		return 0, errors.New("read through deregistered transfer handle")
	}
	if bufOff < 0 || bufOff+n > buf.Len() {
		return 0, errors.Errorf("bypass read [%d,%d) out of buffer bounds [0,%d)", bufOff, bufOff+n, buf.Len())
	}
	if bufferRegistered(buf) {
		_, err := h.f.ReadAt(buf.Bytes()[bufOff:bufOff+n], fileOff)
		if err != nil {
			return 0, err
		}
		return n, nil
	}
	stage, release, err := stagingBuffer(min64(n, stagedReadChunk), h.f.direct)
	if err != nil {
		return 0, err
	}
	defer release()
	for moved := int64(0); moved < n; {
		step := min64(int64(len(stage)), n-moved)
		if _, err := h.f.ReadAt(stage[:step], fileOff+moved); err != nil {
			return moved, err
		}
		if err := buf.CopyFromHost(bufOff+moved, stage[:step]); err != nil {
			return moved, err
		}
		moved += step
	}
	return n, nil
}

// Deregister releases the bypass registration. Safe to call more than once;
// the underlying file stays open.
func (h *TransferHandle) Deregister() {
	h.deregOnce.Do(func() {
		h.dereg = true
	})
}

// stagingBuffer returns a scratch read buffer. O_DIRECT files need the
// buffer page-aligned, which plain make cannot guarantee.
func stagingBuffer(n int64, aligned bool) ([]byte, func(), error) {
	if !aligned {
		return make([]byte, n), func() {}, nil
	}
	mem, err := unix.Mmap(-1, 0, int(AlignUp(n, BlockSize)),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, nil, errors.Wrap(err, "alloc aligned staging buffer")
	}
	return mem[:n], func() { _ = unix.Munmap(mem) }, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
