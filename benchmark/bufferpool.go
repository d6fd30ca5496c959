package benchmark

import (
	"sync"

	"github.com/CJJ1008/speed/storage"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// AlignedPool hands out page-aligned host staging buffers of one fixed
// size. Alignment comes from anonymous mmap, which O_DIRECT reads require;
// buffers are reused across workers and iterations to avoid reallocating.
type AlignedPool struct {
	size int64

	mu   sync.Mutex
	free [][]byte
}

// NewAlignedPool creates a pool of size-byte aligned buffers.
func NewAlignedPool(size int64) *AlignedPool {
	return &AlignedPool{size: size}
}

// Get returns an aligned buffer of the pool's size.
func (p *AlignedPool) Get() ([]byte, error) {
	p.mu.Lock()
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free = p.free[:n-1]
		p.mu.Unlock()
		return buf, nil
	}
	p.mu.Unlock()

	mem, err := unix.Mmap(-1, 0, int(storage.AlignUp(p.size, storage.BlockSize)),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "alloc %d byte staging buffer", p.size)
	}
	return mem[:p.size], nil
}

// Put returns a buffer to the pool for reuse.
func (p *AlignedPool) Put(buf []byte) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, buf)
	p.mu.Unlock()
}

// Release unmaps all pooled buffers. Buffers still checked out are the
// caller's to return first.
func (p *AlignedPool) Release() {
	p.mu.Lock()
	free := p.free
	p.free = nil
	p.mu.Unlock()
	for _, buf := range free {
		_ = unix.Munmap(buf[:cap(buf)])
	}
}
