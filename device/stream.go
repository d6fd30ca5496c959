package device

import (
	"sync"

	"github.com/pkg/errors"
)

// bounceChunk bounds the host staging used when a peer copy has no direct
// link and must round-trip through host memory.
const bounceChunk = 256 * 1024

type streamOp struct {
	fn   func() error
	done chan struct{}
}

// Stream is an asynchronous execution queue bound to one device. Operations
// enqueued on a stream run strictly in order on a dedicated goroutine; the
// first failure sticks and is surfaced by Synchronize.
type Stream struct {
	dev *Device
	ops chan streamOp

	mu  sync.Mutex
	err error

	destroyOnce sync.Once
	drained     chan struct{}
}

// NewStream creates an execution stream bound to d. Enqueueing onto a
// destroyed stream is a programming error.
func (d *Device) NewStream() *Stream {
	s := &Stream{
		dev:     d,
		ops:     make(chan streamOp, 32),
		drained: make(chan struct{}),
	}
	go s.loop()
	return s
}

// Device returns the device this stream executes on.
func (s *Stream) Device() *Device { return s.dev }

func (s *Stream) loop() {
	defer close(s.drained)
	for op := range s.ops {
		if op.fn != nil {
			if err := op.fn(); err != nil {
				s.mu.Lock()
				if s.err == nil {
					s.err = err
				}
				s.mu.Unlock()
			}
		}
		if op.done != nil {
			close(op.done)
		}
	}
}

// MemcpyPeerAsync enqueues a device-to-device copy of n bytes from
// src[srcOff:] into dst[dstOff:]. The copy crosses the interconnect directly
// when the source device has peer access to the destination enabled, and
// bounces through host memory otherwise.
func (s *Stream) MemcpyPeerAsync(dst *Buffer, dstOff int64, src *Buffer, srcOff, n int64) {
	s.ops <- streamOp{fn: func() error {
		return memcpyPeer(dst, dstOff, src, srcOff, n)
	}}
}

func memcpyPeer(dst *Buffer, dstOff int64, src *Buffer, srcOff, n int64) error {
	if dst.freed || src.freed {
		return errors.New("peer copy on freed buffer")
	}
	if srcOff < 0 || srcOff+n > src.Len() {
		return errors.Errorf("peer copy source [%d,%d) out of bounds [0,%d)", srcOff, srcOff+n, src.Len())
	}
	if dstOff < 0 || dstOff+n > dst.Len() {
		return errors.Errorf("peer copy destination [%d,%d) out of bounds [0,%d)", dstOff, dstOff+n, dst.Len())
	}
	if src.dev == dst.dev || src.dev.peerEnabled(dst.dev) {
		copy(dst.mem[dstOff:dstOff+n], src.mem[srcOff:srcOff+n])
		return nil
	}
	// No direct link: stage through host memory chunk by chunk.
	stage := make([]byte, min64(n, bounceChunk))
	for moved := int64(0); moved < n; {
		step := min64(int64(len(stage)), n-moved)
		copy(stage[:step], src.mem[srcOff+moved:srcOff+moved+step])
		copy(dst.mem[dstOff+moved:], stage[:step])
		moved += step
	}
	return nil
}

// Synchronize blocks until every previously enqueued operation has executed,
// then returns the stream's sticky error, if any.
func (s *Stream) Synchronize() error {
	done := make(chan struct{})
	s.ops <- streamOp{done: done}
	<-done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Destroy stops the stream's execution goroutine after draining queued
// operations. Safe to call more than once.
func (s *Stream) Destroy() {
	s.destroyOnce.Do(func() {
		close(s.ops)
		<-s.drained
	})
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
