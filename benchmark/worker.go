package benchmark

import (
	"context"
	"time"

	"github.com/CJJ1008/speed/device"
	"github.com/CJJ1008/speed/progress"
	"github.com/CJJ1008/speed/storage"
	"golang.org/x/time/rate"
)

// WorkerResult is written by exactly one transfer worker and read by the
// orchestrator only after the worker has been joined.
type WorkerResult struct {
	Elapsed    time.Duration
	BytesMoved int64
	Errors     int
}

// transferStrategy names the four fetch paths a worker can take. It is
// resolved once at worker start from (kernel bypass?, relay needed?) so the
// chunk loop never re-derives it.
type transferStrategy int

const (
	// kernel-bypass read straight into the destination sub-range
	bypassDirect transferStrategy = iota
	// kernel-bypass read into the reader's staging buffer, then relay
	bypassRelay
	// host-staged read, host copy into the destination sub-range
	stagedDirect
	// host-staged read, host copy into the reader's staging buffer, then relay
	stagedRelay
)

func resolveStrategy(bypass, relay bool) transferStrategy {
	switch {
	case bypass && !relay:
		return bypassDirect
	case bypass && relay:
		return bypassRelay
	case !bypass && !relay:
		return stagedDirect
	default:
		return stagedRelay
	}
}

func (s transferStrategy) relay() bool  { return s == bypassRelay || s == stagedRelay }
func (s transferStrategy) bypass() bool { return s == bypassDirect || s == bypassRelay }

// workerSpec is everything one transfer worker needs, fixed before spawn.
type workerSpec struct {
	file        string
	reader      *device.Device
	target      *device.Device
	rangeStart  int64 // absolute file offset of this worker's shard
	rangeLength int64
	destOffset  int64 // shard start relative to the destination region
	chunkSize   int64
	iterations  int

	useDirectStorage bool
	useDirectIO      bool
	registerBuffers  bool

	dest    *device.Buffer
	hostBuf *AlignedPool
	limiter *rate.Limiter
	bar     *progress.Bar
}

// releaseList collects teardown actions and runs them once, in reverse
// acquisition order, no matter which path exits the worker.
type releaseList struct {
	fns []func()
}

func (r *releaseList) add(fn func()) {
	r.fns = append(r.fns, fn)
}

func (r *releaseList) release() {
	fns := r.fns
	r.fns = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// runWorker drives one reader-device-to-target-device data path: open,
// bind, prepare, chunk loop, teardown, report. Every failure is local to
// this worker; it increments res.Errors and stops only this shard.
func runWorker(spec workerSpec, res *WorkerResult) {
	start := time.Now()
	var rel releaseList
	defer func() {
		rel.release()
		res.Elapsed = time.Since(start)
	}()

	strategy := resolveStrategy(spec.useDirectStorage, spec.reader != spec.target)
	wlog := logger.With().
		Int("reader", spec.reader.ID()).
		Int("target", spec.target.ID()).
		Logger()

	// Open
	f, err := storage.Open(spec.file, spec.useDirectIO)
	if err != nil {
		wlog.Error().Err(err).Msg("open failed")
		res.Errors++
		return
	}
	rel.add(func() { _ = f.Close() })

	// Bind
	var handle *storage.TransferHandle
	if strategy.bypass() {
		handle, err = storage.RegisterHandle(f)
		if err != nil {
			wlog.Error().Err(err).Msg("bypass handle registration failed")
			res.Errors++
			return
		}
		rel.add(handle.Deregister)
	}

	// Prepare buffers
	var hostStage []byte
	if !strategy.bypass() {
		hostStage, err = spec.hostBuf.Get()
		if err != nil {
			wlog.Error().Err(err).Msg("host staging buffer allocation failed")
			res.Errors++
			return
		}
		rel.add(func() { spec.hostBuf.Put(hostStage) })
	}

	var devStage *device.Buffer
	var stream *device.Stream
	if strategy.relay() {
		devStage, err = spec.reader.Alloc(spec.chunkSize)
		if err != nil {
			wlog.Error().Err(err).Msg("device staging buffer allocation failed")
			res.Errors++
			return
		}
		rel.add(func() { _ = devStage.Free() })

		stream = spec.target.NewStream()
		rel.add(stream.Destroy)
	}

	if spec.registerBuffers {
		region := spec.dest
		if strategy.relay() {
			region = devStage
		}
		if err := storage.RegisterBuffer(region); err != nil {
			wlog.Error().Err(err).Msg("buffer registration failed")
			res.Errors++
			return
		}
		rel.add(func() { storage.DeregisterBuffer(region) })
	}

	// Transfer loop
	for it := 0; it < spec.iterations; it++ {
		for pos := int64(0); pos < spec.rangeLength; {
			n := min64(spec.chunkSize, spec.rangeLength-pos)
			if spec.limiter != nil {
				_ = spec.limiter.WaitN(context.Background(), int(n))
			}
			fileOff := spec.rangeStart + pos
			destOff := spec.destOffset + pos

			if err := fetchChunk(strategy, f, handle, spec.dest, destOff, devStage, hostStage, fileOff, n); err != nil {
				wlog.Error().Err(err).Int64("offset", fileOff).Msg("chunk fetch failed")
				res.Errors++
				return
			}
			if strategy.relay() {
				stream.MemcpyPeerAsync(spec.dest, destOff, devStage, 0, n)
				if err := stream.Synchronize(); err != nil {
					wlog.Error().Err(err).Int64("offset", fileOff).Msg("relay failed")
					res.Errors++
					return
				}
			}

			res.BytesMoved += n
			if spec.bar != nil {
				spec.bar.Add64(n)
			}
			pos += n
		}
	}
}

// fetchChunk moves one chunk from the file to where the strategy wants it:
// the destination sub-range for the direct paths or the reader's staging
// buffer for the relay paths.
func fetchChunk(strategy transferStrategy, f *storage.File, handle *storage.TransferHandle,
	dest *device.Buffer, destOff int64, devStage *device.Buffer, hostStage []byte,
	fileOff, n int64) error {
	switch strategy {
	case bypassDirect:
		_, err := handle.ReadIntoDevice(dest, destOff, fileOff, n)
		return err
	case bypassRelay:
		_, err := handle.ReadIntoDevice(devStage, 0, fileOff, n)
		return err
	case stagedDirect:
		if _, err := f.ReadAt(hostStage[:n], fileOff); err != nil {
			return err
		}
		return dest.CopyFromHost(destOff, hostStage[:n])
	default: // stagedRelay
		if _, err := f.ReadAt(hostStage[:n], fileOff); err != nil {
			return err
		}
		return devStage.CopyFromHost(0, hostStage[:n])
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
