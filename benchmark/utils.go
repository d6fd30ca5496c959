package benchmark

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatBytes renders a byte count with 1024-based units.
func FormatBytes(n int64) string {
	x := float64(n)
	i := 0
	for x >= 1024 && i < len(sizeUnits)-1 {
		x /= 1024
		i++
	}
	return fmt.Sprintf("%.2f %s", x, sizeUnits[i])
}

// ParseBytes parses a human-readable byte quantity such as "256MiB", "8G"
// or "4096". Units are 1024-based.
func ParseBytes(s string) (int64, error) {
	t := strings.TrimSpace(s)
	if t == "" {
		return 0, errors.New("empty size")
	}
	mult := int64(1)
	upper := strings.ToUpper(t)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"TIB", 1 << 40}, {"TB", 1 << 40}, {"T", 1 << 40},
		{"GIB", 1 << 30}, {"GB", 1 << 30}, {"G", 1 << 30},
		{"MIB", 1 << 20}, {"MB", 1 << 20}, {"M", 1 << 20},
		{"KIB", 1 << 10}, {"KB", 1 << 10}, {"K", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(upper, u.suffix) {
			mult = u.mult
			t = strings.TrimSpace(t[:len(t)-len(u.suffix)])
			break
		}
	}
	v, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse size %q", s)
	}
	if v < 0 {
		return 0, errors.Errorf("negative size %q", s)
	}
	return int64(v * float64(mult)), nil
}

// NewRunLog creates a timestamped tab-separated result log next to the
// console output, one line per benchmarked file.
func NewRunLog(dir, prefix string) (*os.File, error) {
	ts := time.Now().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s.log", prefix, ts)
	if dir != "" {
		name = filepath.Join(dir, name)
	}
	f, err := os.Create(name)
	if err != nil {
		return nil, errors.Wrapf(err, "create run log %s", name)
	}
	fmt.Fprintf(f, "# speed run log  %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintln(f, "file\tsize\twall_s\tbytes_moved\tGiBps\terrors")
	return f, nil
}

// AppendRunLog writes one result line to a run log.
func AppendRunLog(f *os.File, res BenchmarkResult) {
	if f == nil {
		return
	}
	fmt.Fprintf(f, "%s\t%s\t%.6f\t%d\t%.4f\t%d\n",
		res.FileName, FormatBytes(res.FileSize), res.WallTime.Seconds(),
		res.BytesMoved, res.BandwidthGiBps, res.Errors)
}
