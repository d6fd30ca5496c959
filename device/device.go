// Package device abstracts the accelerator devices a transfer lands on. A
// Provider enumerates devices; each Device hands out page-aligned memory
// buffers and asynchronous execution streams, and tracks peer-access state
// toward other devices.
//
// The shipped provider models each accelerator as a host-memory allocation
// domain backed by anonymous mmap, so the full engine (including the
// device-to-device relay path) runs on any Linux host. Real accelerator
// runtimes plug in behind the same handles.
package device

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrPeerAlreadyEnabled reports that direct access between two devices
	// was enabled before; callers treat it as success.
	ErrPeerAlreadyEnabled = errors.New("peer access already enabled")

	// ErrPeerUnsupported reports that two devices cannot address each other
	// directly. Transfers still work through the host-staged bounce path.
	ErrPeerUnsupported = errors.New("peer access not supported between devices")
)

// Provider owns a fixed set of enumerated devices.
type Provider struct {
	devices     []*Device
	peerCapable bool
}

// NewHostProvider enumerates count simulated accelerator devices.
func NewHostProvider(count int) (*Provider, error) {
	if count < 1 {
		return nil, errors.Errorf("device count must be >= 1, got %d", count)
	}
	p := &Provider{peerCapable: true}
	for i := 0; i < count; i++ {
		p.devices = append(p.devices, &Device{
			id:       i,
			provider: p,
			peers:    make(map[int]bool),
		})
	}
	return p, nil
}

// Devices returns all enumerated devices, ordered by id.
func (p *Provider) Devices() []*Device {
	return p.devices
}

// Device returns the device with the given id.
func (p *Provider) Device(id int) (*Device, error) {
	if id < 0 || id >= len(p.devices) {
		return nil, errors.Errorf("invalid device id %d (have %d devices)", id, len(p.devices))
	}
	return p.devices[id], nil
}

// DisablePeerCapability makes every device pair report no direct peer
// access, forcing relays through the host-staged bounce path.
func (p *Provider) DisablePeerCapability() {
	p.peerCapable = false
}

// Device is an explicit handle to one accelerator. All operations name the
// device they run on; there is no process-wide "current device" state.
type Device struct {
	id       int
	provider *Provider

	mu    sync.Mutex
	peers map[int]bool // peer device id -> direct access enabled
}

// ID returns the device's ordinal within its provider.
func (d *Device) ID() int { return d.id }

// Alloc allocates a page-aligned device-resident buffer of n bytes.
func (d *Device) Alloc(n int64) (*Buffer, error) {
	if n <= 0 {
		return nil, errors.Errorf("device %d: invalid allocation size %d", d.id, n)
	}
	mem, err := unix.Mmap(-1, 0, int(n),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "device %d: alloc %d bytes", d.id, n)
	}
	return &Buffer{dev: d, mem: mem}, nil
}

// CanAccessPeer reports whether this device can address peer's memory
// directly over the interconnect.
func (d *Device) CanAccessPeer(peer *Device) bool {
	if peer == nil || peer.provider != d.provider {
		return false
	}
	return d.provider.peerCapable
}

// EnablePeerAccess grants this device direct access to peer's memory.
// Returns ErrPeerAlreadyEnabled when already granted and ErrPeerUnsupported
// when the pair has no direct link.
func (d *Device) EnablePeerAccess(peer *Device) error {
	if d == peer {
		return errors.Errorf("device %d: cannot enable peer access to itself", d.id)
	}
	if !d.CanAccessPeer(peer) {
		return ErrPeerUnsupported
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.peers[peer.id] {
		return ErrPeerAlreadyEnabled
	}
	d.peers[peer.id] = true
	return nil
}

// peerEnabled reports whether direct access toward peer has been granted.
func (d *Device) peerEnabled(peer *Device) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.peers[peer.id]
}

// Buffer is a device-resident memory region.
type Buffer struct {
	dev      *Device
	mem      []byte
	freeOnce sync.Once
	freed    bool
}

// Device returns the device owning this buffer.
func (b *Buffer) Device() *Device { return b.dev }

// Len returns the buffer size in bytes.
func (b *Buffer) Len() int64 { return int64(len(b.mem)) }

// Bytes exposes the backing memory for kernel-bypass storage reads. The
// returned slice is invalid after Free.
func (b *Buffer) Bytes() []byte { return b.mem }

// CopyFromHost copies src into the buffer at off. Blocks until complete.
func (b *Buffer) CopyFromHost(off int64, src []byte) error {
	if b.freed {
		return errors.Errorf("device %d: copy into freed buffer", b.dev.id)
	}
	if off < 0 || off+int64(len(src)) > b.Len() {
		return errors.Errorf("device %d: host copy [%d,%d) out of buffer bounds [0,%d)",
			b.dev.id, off, off+int64(len(src)), b.Len())
	}
	copy(b.mem[off:], src)
	return nil
}

// Free releases the buffer. Safe to call more than once.
func (b *Buffer) Free() error {
	var err error
	b.freeOnce.Do(func() {
		b.freed = true
		mem := b.mem
		b.mem = nil
		err = unix.Munmap(mem)
	})
	return errors.Wrapf(err, "device %d: free buffer", b.dev.id)
}
