package benchmark

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/CJJ1008/speed/device"
)

func writeTestFile(t *testing.T, size int64) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	if _, err := rand.Read(data); err != nil {
		t.Fatalf("random data: %v", err)
	}
	path := filepath.Join(t.TempDir(), "src.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path, data
}

func newTestDevices(t *testing.T, count int) *device.Provider {
	t.Helper()
	p, err := device.NewHostProvider(count)
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	return p
}

func TestWorkerStagedDirectMovesExactBytes(t *testing.T) {
	const size = 1 << 20
	const chunk = 256 * 1024
	path, data := writeTestFile(t, size)
	p := newTestDevices(t, 1)
	target := p.Devices()[0]

	dest, err := target.Alloc(size)
	if err != nil {
		t.Fatalf("alloc destination: %v", err)
	}
	defer dest.Free()

	pool := NewAlignedPool(chunk)
	defer pool.Release()

	var res WorkerResult
	runWorker(workerSpec{
		file:        path,
		reader:      target,
		target:      target,
		rangeStart:  0,
		rangeLength: size,
		chunkSize:   chunk,
		iterations:  1,
		dest:        dest,
		hostBuf:     pool,
	}, &res)

	if res.Errors != 0 {
		t.Fatalf("expected 0 errors, got %d", res.Errors)
	}
	if res.BytesMoved != size {
		t.Fatalf("expected %d bytes moved, got %d", size, res.BytesMoved)
	}
	if !bytes.Equal(dest.Bytes(), data) {
		t.Fatal("destination contents differ from source file")
	}
}

func TestWorkerRelayPaths(t *testing.T) {
	const size = 512 * 1024
	const chunk = 128 * 1024

	cases := []struct {
		name         string
		peerCapable  bool
		directStore  bool
		registerBufs bool
	}{
		{"staged relay with peer link", true, false, false},
		{"staged relay host bounce", false, false, false},
		{"bypass relay registered", true, true, true},
		{"bypass relay unregistered", true, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path, data := writeTestFile(t, size)
			p := newTestDevices(t, 2)
			if !tc.peerCapable {
				p.DisablePeerCapability()
			}
			reader, target := p.Devices()[0], p.Devices()[1]
			EnablePeerLinks(target, []*device.Device{reader})

			dest, err := target.Alloc(size)
			if err != nil {
				t.Fatalf("alloc destination: %v", err)
			}
			defer dest.Free()

			pool := NewAlignedPool(chunk)
			defer pool.Release()

			var res WorkerResult
			runWorker(workerSpec{
				file:             path,
				reader:           reader,
				target:           target,
				rangeStart:       0,
				rangeLength:      size,
				chunkSize:        chunk,
				iterations:       1,
				useDirectStorage: tc.directStore,
				registerBuffers:  tc.registerBufs,
				dest:             dest,
				hostBuf:          pool,
			}, &res)

			if res.Errors != 0 {
				t.Fatalf("expected 0 errors, got %d", res.Errors)
			}
			if res.BytesMoved != size {
				t.Fatalf("expected %d bytes moved, got %d", size, res.BytesMoved)
			}
			if !bytes.Equal(dest.Bytes(), data) {
				t.Fatal("relayed destination contents differ from source file")
			}
		})
	}
}

func TestWorkerOpenFailureIsolated(t *testing.T) {
	const size = 256 * 1024
	const chunk = 64 * 1024
	goodPath, _ := writeTestFile(t, size)
	p := newTestDevices(t, 2)
	reader0, target := p.Devices()[0], p.Devices()[1]

	dest, err := target.Alloc(2 * size)
	if err != nil {
		t.Fatalf("alloc destination: %v", err)
	}
	defer dest.Free()

	pool := NewAlignedPool(chunk)
	defer pool.Release()

	specs := []workerSpec{
		{
			file: filepath.Join(t.TempDir(), "missing.bin"),
			reader: reader0, target: target,
			rangeStart: 0, rangeLength: size, destOffset: 0,
			chunkSize: chunk, iterations: 1, dest: dest, hostBuf: pool,
		},
		{
			file:   goodPath,
			reader: target, target: target,
			rangeStart: 0, rangeLength: size, destOffset: size,
			chunkSize: chunk, iterations: 1, dest: dest, hostBuf: pool,
		},
	}

	results := make([]WorkerResult, len(specs))
	var wg sync.WaitGroup
	for i := range specs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runWorker(specs[i], &results[i])
		}(i)
	}
	wg.Wait()

	if results[0].Errors != 1 || results[0].BytesMoved != 0 {
		t.Fatalf("failed worker: expected errors=1 bytesMoved=0, got errors=%d bytesMoved=%d",
			results[0].Errors, results[0].BytesMoved)
	}
	if results[1].Errors != 0 || results[1].BytesMoved != size {
		t.Fatalf("healthy worker: expected errors=0 bytesMoved=%d, got errors=%d bytesMoved=%d",
			size, results[1].Errors, results[1].BytesMoved)
	}
}

func TestWorkerPartialCredit(t *testing.T) {
	// The file holds two full chunks; the range asks for four. The third
	// fetch fails and the worker keeps credit only for chunks placed.
	const chunk = 128 * 1024
	const fileSize = 2 * chunk
	const rangeLength = 4 * chunk
	path, _ := writeTestFile(t, fileSize)
	p := newTestDevices(t, 1)
	target := p.Devices()[0]

	dest, err := target.Alloc(rangeLength)
	if err != nil {
		t.Fatalf("alloc destination: %v", err)
	}
	defer dest.Free()

	pool := NewAlignedPool(chunk)
	defer pool.Release()

	var res WorkerResult
	runWorker(workerSpec{
		file:        path,
		reader:      target,
		target:      target,
		rangeStart:  0,
		rangeLength: rangeLength,
		chunkSize:   chunk,
		iterations:  1,
		dest:        dest,
		hostBuf:     pool,
	}, &res)

	if res.Errors != 1 {
		t.Fatalf("expected 1 error, got %d", res.Errors)
	}
	if res.BytesMoved != fileSize {
		t.Fatalf("expected partial credit of %d bytes, got %d", fileSize, res.BytesMoved)
	}
}

func TestWorkerIterationsAccumulate(t *testing.T) {
	const size = 256 * 1024
	const chunk = 64 * 1024
	const iterations = 3
	path, _ := writeTestFile(t, size)
	p := newTestDevices(t, 1)
	target := p.Devices()[0]

	dest, err := target.Alloc(size)
	if err != nil {
		t.Fatalf("alloc destination: %v", err)
	}
	defer dest.Free()

	pool := NewAlignedPool(chunk)
	defer pool.Release()

	var res WorkerResult
	runWorker(workerSpec{
		file:        path,
		reader:      target,
		target:      target,
		rangeLength: size,
		chunkSize:   chunk,
		iterations:  iterations,
		dest:        dest,
		hostBuf:     pool,
	}, &res)

	if res.Errors != 0 {
		t.Fatalf("expected 0 errors, got %d", res.Errors)
	}
	if res.BytesMoved != size*iterations {
		t.Fatalf("expected %d bytes over %d iterations, got %d", size*iterations, iterations, res.BytesMoved)
	}
}

func TestReleaseListRunsOnceInReverse(t *testing.T) {
	var order []int
	var rel releaseList
	rel.add(func() { order = append(order, 1) })
	rel.add(func() { order = append(order, 2) })
	rel.add(func() { order = append(order, 3) })

	rel.release()
	rel.release() // second release must be a no-op

	if len(order) != 3 {
		t.Fatalf("expected 3 releases, got %d", len(order))
	}
	for i, want := range []int{3, 2, 1} {
		if order[i] != want {
			t.Fatalf("release order %v, expected reverse acquisition order", order)
		}
	}
}

func TestResolveStrategy(t *testing.T) {
	cases := []struct {
		bypass, relay bool
		want          transferStrategy
	}{
		{true, false, bypassDirect},
		{true, true, bypassRelay},
		{false, false, stagedDirect},
		{false, true, stagedRelay},
	}
	for _, tc := range cases {
		if got := resolveStrategy(tc.bypass, tc.relay); got != tc.want {
			t.Fatalf("resolveStrategy(%v,%v) = %d, expected %d", tc.bypass, tc.relay, got, tc.want)
		}
	}
}
