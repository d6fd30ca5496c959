package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/CJJ1008/speed/benchmark"
	"github.com/CJJ1008/speed/config"
	"github.com/CJJ1008/speed/device"
	"github.com/CJJ1008/speed/report"
	"github.com/CJJ1008/speed/storage"
)

func main() {
	var (
		cfgPath    string
		verbose    bool
		noProgress bool

		devices    int
		target     int
		readers    []int
		chunk      string
		iterations int
		offset     string
		size       string

		directStorage   bool
		directIO        bool
		registerBuffers bool
		rateLimit       string
		dropCaches      bool
	)

	root := &cobra.Command{
		Use:   "speed",
		Short: "Measure striped multi-path storage to accelerator-memory read bandwidth",
		Long: `speed splits a byte range across one transfer worker per reader device,
drives each shard through its own I/O and copy pipeline, relays data to the
target device over the interconnect when needed, and reports the aggregate
wall-clock bandwidth.`,
		SilenceUsage: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&cfgPath, "config", "", "Path to TOML config file")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	flags.BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	flags.IntVar(&devices, "devices", 0, "Number of accelerator devices to enumerate")
	flags.IntVar(&target, "target", 0, "Target device id receiving the data")
	flags.IntSliceVar(&readers, "readers", nil, "Reader device ids (default: all devices)")
	flags.StringVar(&chunk, "chunk", "", "I/O chunk size, e.g. 16MiB")
	flags.IntVar(&iterations, "iterations", 0, "Times each worker re-reads its range")
	flags.BoolVar(&directStorage, "direct-storage", false, "Kernel-bypass reads straight into device memory")
	flags.BoolVar(&directIO, "direct-io", false, "Bypass the page cache (O_DIRECT)")
	flags.BoolVar(&registerBuffers, "register-buffers", false, "Pre-register destination memory for zero-copy")
	flags.StringVar(&rateLimit, "rate-limit", "", "Per-worker bandwidth cap, e.g. 500MiB (0 = unlimited)")
	flags.BoolVar(&dropCaches, "drop-caches", false, "Drop the page cache before reading (needs root)")

	// loadConfig layers changed flags over the config file over defaults.
	loadConfig := func(cmd *cobra.Command) (config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return cfg, err
		}
		changed := map[string]bool{}
		cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })
		if changed["devices"] {
			cfg.Devices = devices
		}
		if changed["target"] {
			cfg.TargetDevice = target
		}
		if changed["readers"] {
			cfg.ReaderDevices = readers
		}
		if changed["chunk"] {
			cfg.Chunk = chunk
		}
		if changed["iterations"] {
			cfg.Iterations = iterations
		}
		if changed["direct-storage"] {
			cfg.DirectStorage = directStorage
		}
		if changed["direct-io"] {
			cfg.DirectIO = directIO
		}
		if changed["register-buffers"] {
			cfg.RegisterBuffers = registerBuffers
		}
		if changed["rate-limit"] {
			cfg.RateLimit = rateLimit
		}
		if changed["drop-caches"] {
			cfg.DropCaches = dropCaches
		}
		return cfg, nil
	}

	setup := func(cfg config.Config) (*benchmark.Orchestrator, error) {
		if verbose {
			benchmark.SetLogger(benchmark.Logger().Level(zerolog.DebugLevel))
		}
		if err := benchmark.SetMaxResources(); err != nil {
			log := benchmark.Logger()
			log.Warn().Err(err).Msg("could not raise resource limits")
		}
		provider, err := device.NewHostProvider(cfg.Devices)
		if err != nil {
			return nil, err
		}
		o := benchmark.NewOrchestrator(provider)
		o.ShowProgress = !noProgress
		return o, nil
	}

	runCmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Benchmark a single file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			off, err := parseOrZero(offset)
			if err != nil {
				return err
			}
			total, err := parseOrZero(size)
			if err != nil {
				return err
			}
			tc, err := cfg.TransferConfig(args[0], off, total)
			if err != nil {
				return err
			}
			o, err := setup(cfg)
			if err != nil {
				return err
			}
			fileSize, err := storage.Stat(args[0])
			if err != nil {
				return err
			}
			res, err := o.RunOnce(tc, args[0], fileSize)
			if err != nil {
				return err
			}
			report.DisplayResult(res)
			if res.Errors > 0 {
				os.Exit(1)
			}
			return nil
		},
	}
	runCmd.Flags().StringVar(&offset, "offset", "", "Starting byte offset, e.g. 4KiB")
	runCmd.Flags().StringVar(&size, "size", "", "Bytes to move (default: rest of file)")

	suiteCmd := &cobra.Command{
		Use:   "suite",
		Short: "Benchmark a doubling series of generated file sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			tc, err := cfg.TransferConfig("suite", 0, 0)
			if err != nil {
				return err
			}
			spec, err := cfg.SuiteSpec()
			if err != nil {
				return err
			}
			o, err := setup(cfg)
			if err != nil {
				return err
			}
			results, err := o.RunSuite(tc, spec)
			report.DisplaySuite(results)
			if err != nil {
				return err
			}
			for _, res := range results {
				if res.Errors > 0 {
					os.Exit(1)
				}
			}
			return nil
		},
	}

	devicesCmd := &cobra.Command{
		Use:   "devices",
		Short: "List enumerated accelerator devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			provider, err := device.NewHostProvider(cfg.Devices)
			if err != nil {
				return err
			}
			for _, d := range provider.Devices() {
				marker := " "
				if d.ID() == cfg.TargetDevice {
					marker = "*"
				}
				fmt.Printf("%s device %d\n", marker, d.ID())
			}
			return nil
		},
	}

	var genSize string
	var genFull bool
	genCmd := &cobra.Command{
		Use:   "gen <file>",
		Short: "Generate a test file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			n, err := benchmark.ParseBytes(genSize)
			if err != nil {
				return err
			}
			if genFull {
				chunkSize, err := benchmark.ParseBytes(cfg.Chunk)
				if err != nil {
					return err
				}
				return benchmark.WriteFullFile(args[0], n, chunkSize, cfg.DirectIO)
			}
			return benchmark.GenerateTestFile(args[0], n)
		},
	}
	genCmd.Flags().StringVar(&genSize, "size", "1GiB", "Test file size")
	genCmd.Flags().BoolVar(&genFull, "full", false, "Write real data instead of preallocating")

	root.AddCommand(runCmd, suiteCmd, devicesCmd, genCmd)

	if err := root.Execute(); err != nil {
		log := benchmark.Logger()
		log.Error().Err(err).Msg("benchmark failed")
		os.Exit(1)
	}
}

func parseOrZero(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return benchmark.ParseBytes(s)
}
