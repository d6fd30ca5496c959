// Package config loads benchmark settings from a TOML file and maps them
// onto the engine's transfer parameters. Flags layer on top of what the
// file provides.
package config

import (
	"os"

	"github.com/CJJ1008/speed/benchmark"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Config mirrors the TOML file. Sizes are human-readable strings
// ("16MiB", "8G") parsed when converting to engine parameters.
type Config struct {
	Devices       int    `toml:"devices"`
	TargetDevice  int    `toml:"target_device"`
	ReaderDevices []int  `toml:"reader_devices"`
	Chunk         string `toml:"chunk"`
	Iterations    int    `toml:"iterations"`

	DirectStorage   bool   `toml:"direct_storage"`
	DirectIO        bool   `toml:"direct_io"`
	RegisterBuffers bool   `toml:"register_buffers"`
	RateLimit       string `toml:"rate_limit"`
	DropCaches      bool   `toml:"drop_caches"`

	Suite Suite `toml:"suite"`
}

// Suite configures suite mode.
type Suite struct {
	Dir       string `toml:"dir"`
	MinSize   string `toml:"min_size"`
	MaxSize   string `toml:"max_size"`
	KeepFiles bool   `toml:"keep_files"`
	FullWrite bool   `toml:"full_write"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Devices:    1,
		Chunk:      "16MiB",
		Iterations: 1,
		Suite: Suite{
			Dir:     "speed_test",
			MinSize: "256MiB",
			MaxSize: "1GiB",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "read config %s", path)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}

// TransferConfig converts the file values into engine parameters for the
// given source file.
func (c Config) TransferConfig(filePath string, offset, totalBytes int64) (benchmark.TransferConfig, error) {
	chunk, err := benchmark.ParseBytes(c.Chunk)
	if err != nil {
		return benchmark.TransferConfig{}, errors.Wrap(err, "chunk")
	}
	rateLimit := int64(0)
	if c.RateLimit != "" {
		rateLimit, err = benchmark.ParseBytes(c.RateLimit)
		if err != nil {
			return benchmark.TransferConfig{}, errors.Wrap(err, "rate_limit")
		}
	}
	tc := benchmark.TransferConfig{
		FilePath:         filePath,
		Offset:           offset,
		TotalBytes:       totalBytes,
		ChunkSize:        chunk,
		TargetDevice:     c.TargetDevice,
		ReaderDevices:    c.ReaderDevices,
		Iterations:       c.Iterations,
		UseDirectStorage: c.DirectStorage,
		UseDirectIO:      c.DirectIO,
		RegisterBuffers:  c.RegisterBuffers,
		RateLimit:        int(rateLimit),
		DropCaches:       c.DropCaches,
	}
	return tc, tc.Validate()
}

// SuiteSpec converts the suite section into engine parameters.
func (c Config) SuiteSpec() (benchmark.SuiteSpec, error) {
	minSize, err := benchmark.ParseBytes(c.Suite.MinSize)
	if err != nil {
		return benchmark.SuiteSpec{}, errors.Wrap(err, "suite min_size")
	}
	maxSize, err := benchmark.ParseBytes(c.Suite.MaxSize)
	if err != nil {
		return benchmark.SuiteSpec{}, errors.Wrap(err, "suite max_size")
	}
	spec := benchmark.SuiteSpec{
		Dir:       c.Suite.Dir,
		MinSize:   minSize,
		MaxSize:   maxSize,
		KeepFiles: c.Suite.KeepFiles,
		FullWrite: c.Suite.FullWrite,
	}
	return spec, spec.Validate()
}
