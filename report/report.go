package report

import (
	"fmt"
	"time"

	"github.com/CJJ1008/speed/benchmark"
	"github.com/fatih/color"
)

// DisplayResult prints the summary of one benchmarked file.
func DisplayResult(res benchmark.BenchmarkResult) {
	header := color.New(color.FgCyan, color.Bold)
	header.Printf("\n%s Results:\n", res.FileName)

	fmt.Printf("File Size: %s\n", benchmark.FormatBytes(res.FileSize))
	fmt.Printf("Wall Time: %s\n", res.WallTime)
	fmt.Printf("Data Moved: %s\n", benchmark.FormatBytes(res.BytesMoved))
	fmt.Printf("Bandwidth: %.4f GiB/s (%.2f MiB/s)\n",
		res.BandwidthGiBps, res.BandwidthGiBps*1024)

	if res.Errors > 0 {
		color.New(color.FgRed).Printf("Errors: %d (partial result)\n", res.Errors)
	} else {
		color.New(color.FgGreen).Println("Errors: 0")
	}
	fmt.Println()
}

// DisplaySuite prints the per-size summary table after a suite run.
func DisplaySuite(results []benchmark.BenchmarkResult) {
	if len(results) == 0 {
		return
	}
	color.New(color.FgCyan, color.Bold).Println("\nSuite Results:")
	fmt.Printf("%-12s %-12s %-12s %-14s %s\n", "SIZE", "WALL", "MOVED", "GiB/s", "ERRORS")
	for _, res := range results {
		fmt.Printf("%-12s %-12s %-12s %-14.4f %d\n",
			benchmark.FormatBytes(res.FileSize),
			res.WallTime.Truncate(time.Microsecond).String(),
			benchmark.FormatBytes(res.BytesMoved),
			res.BandwidthGiBps, res.Errors)
	}
	fmt.Println()
}
