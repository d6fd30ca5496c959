package benchmark

import (
	"github.com/CJJ1008/speed/storage"
	"github.com/pkg/errors"
)

// TransferConfig holds the immutable parameters for one benchmark run.
type TransferConfig struct {
	FilePath      string // source file
	Offset        int64  // global starting byte offset into the file
	TotalBytes    int64  // bytes to move; 0 means rest of file
	ChunkSize     int64  // I/O loop chunk size in bytes
	TargetDevice  int    // device receiving the consolidated destination region
	ReaderDevices []int  // ordered reader device ids; empty means all devices
	Iterations    int    // times each worker re-walks its range

	UseDirectStorage bool // kernel-bypass reads straight into device memory
	UseDirectIO      bool // O_DIRECT, bypassing the page cache
	RegisterBuffers  bool // pre-register destination memory for zero-copy

	RateLimit  int  // per-worker bytes/sec cap; 0 means unlimited
	DropCaches bool // drop the page cache before each iteration
}

// Validate checks the invariants the engine depends on.
func (c TransferConfig) Validate() error {
	if c.FilePath == "" {
		return errors.New("config: file path required")
	}
	if c.ChunkSize <= 0 {
		return errors.Errorf("config: chunk size must be > 0, got %d", c.ChunkSize)
	}
	if c.Iterations < 1 {
		return errors.Errorf("config: iterations must be >= 1, got %d", c.Iterations)
	}
	if c.Offset < 0 {
		return errors.Errorf("config: offset must be >= 0, got %d", c.Offset)
	}
	if c.TotalBytes < 0 {
		return errors.Errorf("config: total bytes must be >= 0, got %d", c.TotalBytes)
	}
	if c.UseDirectIO {
		if c.Offset%storage.BlockSize != 0 {
			return errors.Errorf("config: direct I/O offset %d not aligned to %d", c.Offset, storage.BlockSize)
		}
		if c.ChunkSize%storage.BlockSize != 0 {
			return errors.Errorf("config: direct I/O chunk %d not aligned to %d", c.ChunkSize, storage.BlockSize)
		}
	}
	if c.RateLimit < 0 {
		return errors.Errorf("config: rate limit must be >= 0, got %d", c.RateLimit)
	}
	return nil
}

// alignment returns the block alignment active for this run: the storage
// block size under direct I/O or kernel bypass, else byte granularity.
func (c TransferConfig) alignment() int64 {
	if c.UseDirectIO || c.UseDirectStorage {
		return storage.BlockSize
	}
	return 1
}
