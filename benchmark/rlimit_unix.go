//go:build linux
// +build linux

package benchmark

import (
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SetMaxResources raises system resource limits so wide striping does not
// trip file-descriptor or thread ceilings.
func SetMaxResources() error {
	const threadLimit = 10000
	rLimit := unix.Rlimit{}

	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return errors.Wrap(err, "get rlimit")
	}

	// Raise the open file limit to the system maximum.
	rLimit.Cur = rLimit.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rLimit); err != nil {
		return errors.Wrap(err, "set open file limit")
	}

	threads, err := readLinuxMaxThreads()
	if err != nil {
		return errors.Wrap(err, "read max threads")
	}

	// Cap the Go runtime at 90% of the system thread limit.
	maxThreads := (int(threads) * 90) / 100
	if maxThreads > threadLimit {
		debug.SetMaxThreads(maxThreads)
	}

	logger.Debug().Uint64("nofile", rLimit.Cur).Int("max_threads", maxThreads).
		Msg("system resource limits adjusted")
	return nil
}

// readLinuxMaxThreads reads the max threads from /proc/sys/kernel/threads-max.
func readLinuxMaxThreads() (uint32, error) {
	data, err := os.ReadFile("/proc/sys/kernel/threads-max")
	if err != nil {
		return 0, errors.Wrap(err, "read /proc/sys/kernel/threads-max")
	}
	threads, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return 0, errors.Wrap(err, "parse max threads value")
	}
	return uint32(threads), nil
}
