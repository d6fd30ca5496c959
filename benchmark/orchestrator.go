package benchmark

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/CJJ1008/speed/device"
	"github.com/CJJ1008/speed/progress"
	"github.com/CJJ1008/speed/storage"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// BenchmarkResult summarizes one benchmarked file. Immutable once returned.
type BenchmarkResult struct {
	FileName       string
	FileSize       int64
	WallTime       time.Duration
	BytesMoved     int64
	BandwidthGiBps float64
	Errors         int
}

// Orchestrator runs striped transfers against one device provider.
type Orchestrator struct {
	provider     *device.Provider
	ShowProgress bool
}

// NewOrchestrator creates an orchestrator over the given devices.
func NewOrchestrator(p *device.Provider) *Orchestrator {
	return &Orchestrator{provider: p}
}

// RunOnce benchmarks a single file: allocates the destination region on the
// target device, plans the shards, spawns one transfer worker per non-empty
// shard, joins them all and aggregates the result. Worker failures never
// abort the run; they surface in the result's error count. The returned
// error covers only fatal conditions where no partial result is possible.
func (o *Orchestrator) RunOnce(cfg TransferConfig, path string, fileSize int64) (BenchmarkResult, error) {
	res := BenchmarkResult{FileName: filepath.Base(path), FileSize: fileSize}

	if err := cfg.Validate(); err != nil {
		return res, err
	}
	if cfg.Offset >= fileSize {
		return res, errors.Errorf("offset %d beyond file size %d", cfg.Offset, fileSize)
	}

	total := fileSize - cfg.Offset
	if cfg.TotalBytes > 0 && cfg.TotalBytes < total {
		total = cfg.TotalBytes
	}
	align := cfg.alignment()
	total = storage.AlignDown(total, align)
	if total <= 0 {
		return res, errors.New("nothing to transfer after alignment rounding")
	}

	target, err := o.provider.Device(cfg.TargetDevice)
	if err != nil {
		return res, errors.Wrap(err, "target device")
	}
	readers, err := o.resolveReaders(cfg.ReaderDevices)
	if err != nil {
		return res, err
	}
	EnablePeerLinks(target, readers)

	if cfg.DropCaches {
		if err := storage.DropCaches(); err != nil {
			logger.Warn().Err(err).Msg("drop caches failed, reads may hit the page cache")
		}
	}

	dest, err := target.Alloc(total)
	if err != nil {
		return res, errors.Wrap(err, "allocate destination region")
	}
	defer func() { _ = dest.Free() }()

	readerIDs := make([]int, len(readers))
	deviceByID := make(map[int]*device.Device, len(readers))
	for i, r := range readers {
		readerIDs[i] = r.ID()
		deviceByID[r.ID()] = r
	}
	shards := PlanShards(total, cfg.Offset, readerIDs, align)

	active := shards[:0]
	for _, sh := range shards {
		if sh.Length > 0 {
			active = append(active, sh)
		}
	}
	if len(active) == 0 {
		return res, errors.New("no shard received any bytes")
	}

	var bar *progress.Bar
	if o.ShowProgress {
		planned := int64(0)
		for _, sh := range active {
			planned += sh.Length
		}
		bar = progress.NewByteBar(planned * int64(cfg.Iterations))
		bar.SetCaption("Transferring")
		defer bar.Finish()
	}

	pool := NewAlignedPool(cfg.ChunkSize)
	defer pool.Release()

	results := make([]WorkerResult, len(active))
	var wg sync.WaitGroup
	start := time.Now()
	for i, sh := range active {
		spec := workerSpec{
			file:             path,
			reader:           deviceByID[sh.Reader],
			target:           target,
			rangeStart:       sh.Start,
			rangeLength:      sh.Length,
			destOffset:       sh.Start - cfg.Offset,
			chunkSize:        cfg.ChunkSize,
			iterations:       cfg.Iterations,
			useDirectStorage: cfg.UseDirectStorage,
			useDirectIO:      cfg.UseDirectIO,
			registerBuffers:  cfg.RegisterBuffers,
			dest:             dest,
			hostBuf:          pool,
			limiter:          newWorkerLimiter(cfg),
			bar:              bar,
		}
		wg.Add(1)
		go func(spec workerSpec, slot *WorkerResult) {
			defer wg.Done()
			runWorker(spec, slot)
		}(spec, &results[i])
	}
	wg.Wait()
	res.WallTime = time.Since(start)

	for _, wr := range results {
		res.BytesMoved += wr.BytesMoved
		res.Errors += wr.Errors
	}
	res.BandwidthGiBps = bandwidthGiBps(res.BytesMoved, res.WallTime)

	logger.Info().
		Str("file", res.FileName).
		Str("moved", FormatBytes(res.BytesMoved)).
		Dur("wall", res.WallTime).
		Float64("GiBps", res.BandwidthGiBps).
		Int("errors", res.Errors).
		Msg("run complete")
	return res, nil
}

// resolveReaders maps configured reader ids to device handles, defaulting
// to every enumerated device and de-duplicating while preserving first-seen
// order.
func (o *Orchestrator) resolveReaders(ids []int) ([]*device.Device, error) {
	if len(ids) == 0 {
		return o.provider.Devices(), nil
	}
	seen := make(map[int]bool, len(ids))
	readers := make([]*device.Device, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		d, err := o.provider.Device(id)
		if err != nil {
			return nil, errors.Wrap(err, "reader device")
		}
		readers = append(readers, d)
	}
	return readers, nil
}

// bandwidthGiBps reports 0 for a zero wall time instead of dividing by it;
// sub-resolution runs are degenerate, not faults.
func bandwidthGiBps(bytes int64, wall time.Duration) float64 {
	secs := wall.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(bytes) / secs / (1 << 30)
}

func newWorkerLimiter(cfg TransferConfig) *rate.Limiter {
	if cfg.RateLimit <= 0 {
		return nil
	}
	// Burst must cover a whole chunk or WaitN can never admit one.
	burst := int(cfg.ChunkSize)
	if cfg.RateLimit > burst {
		burst = cfg.RateLimit
	}
	return rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
}
