// Package main implements the cube-query binary: the HTTP query endpoint
// over a cube's fact table and its cuboid statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/arkilian/cubecore/internal/app"
	"github.com/arkilian/cubecore/internal/config"
	"github.com/arkilian/cubecore/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		sqlitePath  string
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for all data files")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP address of the query endpoint")
	flag.StringVar(&sqlitePath, "sqlite-path", "", "SQLite database holding the fact table")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "cube-query - query endpoint for a pre-aggregated cube\n\n")
		fmt.Fprintf(os.Stderr, "Usage: cube-query [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cube-query --config /etc/cubecore/cube.yaml\n")
		fmt.Fprintf(os.Stderr, "  cube-query --data-dir /data/cubecore --http-addr :9090\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  CUBECORE_DATA_DIR                      Base directory for data files\n")
		fmt.Fprintf(os.Stderr, "  CUBECORE_HTTP_ADDR                     HTTP address\n")
		fmt.Fprintf(os.Stderr, "  CUBECORE_QUERY_DEFAULT_SCAN_THRESHOLD  Rows one query may scan\n")
		fmt.Fprintf(os.Stderr, "  CUBECORE_STORAGE_TYPE                  Storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("cube-query version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	logger := logging.Component("cube-query")

	cfg, err := config.Load(configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load configuration")
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if sqlitePath != "" {
		cfg.Query.SQLitePath = sqlitePath
	}

	application, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create application")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("cube", cfg.Cube.Name).
		Str("data_dir", cfg.DataDir).
		Msg("starting cube-query")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start application")
	}

	if err := application.Wait(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		os.Exit(1)
	}
}
