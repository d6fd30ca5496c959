package benchmark

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// SuiteSpec configures the doubling-size benchmark suite: generate a test
// file, benchmark it, log the result, delete the file, double the size.
type SuiteSpec struct {
	Dir       string // directory for generated test files
	MinSize   int64
	MaxSize   int64
	KeepFiles bool
	FullWrite bool // write real data instead of fallocate (needed on some filesystems for O_DIRECT)
}

// Validate checks the suite bounds.
func (s SuiteSpec) Validate() error {
	if s.Dir == "" {
		return errors.New("suite: directory required")
	}
	if s.MinSize <= 0 || s.MaxSize < s.MinSize {
		return errors.Errorf("suite: invalid size range [%d,%d]", s.MinSize, s.MaxSize)
	}
	return nil
}

// RunSuite benchmarks a doubling series of file sizes and returns the
// per-size results. The suite keeps going through runs that finish with
// worker errors (those show in the results) and stops only on fatal ones.
func (o *Orchestrator) RunSuite(cfg TransferConfig, suite SuiteSpec) ([]BenchmarkResult, error) {
	if err := suite.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(suite.Dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create suite dir %s", suite.Dir)
	}

	logFile, err := NewRunLog(suite.Dir, "speed_suite")
	if err != nil {
		return nil, err
	}
	defer logFile.Close()

	var results []BenchmarkResult
	for size := suite.MinSize; size <= suite.MaxSize; size *= 2 {
		path := filepath.Join(suite.Dir, fmt.Sprintf("speed_test_%d.bin", size))
		logger.Info().Str("size", FormatBytes(size)).Str("file", path).Msg("preparing test file")

		if suite.FullWrite {
			err = WriteFullFile(path, size, cfg.ChunkSize, cfg.UseDirectIO)
		} else {
			err = GenerateTestFile(path, size)
		}
		if err != nil {
			return results, errors.Wrap(err, "generate test file")
		}

		run := cfg
		run.FilePath = path
		res, err := o.RunOnce(run, path, size)
		if !suite.KeepFiles {
			_ = os.Remove(path)
		}
		if err != nil {
			return results, err
		}
		AppendRunLog(logFile, res)
		results = append(results, res)
	}
	logger.Info().Str("log", logFile.Name()).Msg("suite complete")
	return results, nil
}
