// Package main implements the cube-stats binary, which builds and inspects
// the cuboid statistics artifact of a cube.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/arkilian/cubecore/internal/app"
	"github.com/arkilian/cubecore/internal/config"
	"github.com/arkilian/cubecore/internal/cuboid"
	"github.com/arkilian/cubecore/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, "cube-stats - cuboid statistics for a pre-aggregated cube\n\n")
	fmt.Fprintf(os.Stderr, "Usage: cube-stats <command> [options]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  build     Scan the fact table and publish the statistics artifact\n")
	fmt.Fprintf(os.Stderr, "  inspect   Print the entries of a statistics artifact\n")
	fmt.Fprintf(os.Stderr, "  version   Show version information\n")
	fmt.Fprintf(os.Stderr, "\nRun 'cube-stats <command> -help' for command options.\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "build":
		err = runBuild(ctx, os.Args[2:])
	case "inspect":
		err = runInspect(ctx, os.Args[2:], os.Stdout)
	case "version":
		fmt.Printf("cube-stats version %s (commit: %s)\n", version, commit)
	case "help", "-h", "-help", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger := logging.Component("cube-stats")
		logger.Error().Err(err).Str("command", os.Args[1]).Msg("command failed")
		os.Exit(1)
	}
}

// commonFlags registers the flags shared by every command.
func commonFlags(fs *flag.FlagSet) (configFile, dataDir *string) {
	configFile = fs.String("config", "", "Path to configuration file (YAML or JSON)")
	dataDir = fs.String("data-dir", "", "Base directory for all data files")
	return configFile, dataDir
}

func loadConfig(configFile, dataDir string) (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	return cfg, nil
}

func runBuild(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	partitions := fs.Int("partitions", 0, "Fact table partitions scanned in parallel (default: collect_concurrency)")
	artifact := fs.String("artifact", "", "Object path to publish to (default: statistics.artifact_path)")
	fs.Parse(args)

	cfg, err := loadConfig(*configFile, *dataDir)
	if err != nil {
		return err
	}
	if *artifact != "" {
		cfg.Statistics.ArtifactPath = *artifact
	}

	res, err := app.BuildStatistics(ctx, cfg, *partitions)
	if err != nil {
		return err
	}
	logger := logging.Component("cube-stats")
	logger.Info().
		Str("path", res.Path).
		Int("entries", res.Entries).
		Int("original_entries", res.OriginalEntries).
		Bool("degraded", res.Degraded).
		Int("bytes", res.SizeBytes).
		Msg("statistics published")
	return nil
}

func runInspect(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configFile, dataDir := commonFlags(fs)
	file := fs.String("file", "", "Read a local artifact file instead of object storage")
	fs.Parse(args)

	var (
		stats *cuboid.Statistics
		err   error
	)
	if *file != "" {
		stats, err = cuboid.ReadFile(*file)
	} else {
		var cfg *config.Config
		if cfg, err = loadConfig(*configFile, *dataDir); err != nil {
			return err
		}
		stats, err = app.LoadStatistics(ctx, cfg)
	}
	if err != nil {
		return err
	}
	return printStatistics(out, stats)
}

func printStatistics(out io.Writer, stats *cuboid.Statistics) error {
	fmt.Fprintf(out, "precision:        %d\n", stats.Precision)
	fmt.Fprintf(out, "sample rows:      %d\n", stats.SampleRowCount)
	fmt.Fprintf(out, "entries:          %d\n", stats.Len())
	if stats.Degraded {
		fmt.Fprintf(out, "degraded:         true (%d entries before cap)\n", stats.OriginalEntries)
	}
	fmt.Fprintln(out)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "CUBOID\tBITS\tESTIMATE\t")
	for _, id := range stats.CuboidIDs() {
		est, _ := stats.Estimate(id)
		fmt.Fprintf(tw, "%d\t%b\t%d\t\n", id, uint64(id), est)
	}
	return tw.Flush()
}
