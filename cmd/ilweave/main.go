// Command ilweave inspects and rewrites .NET assemblies.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ilweave/batch"
	"github.com/wippyai/ilweave/il"
	"github.com/wippyai/ilweave/metadata"
	"github.com/wippyai/ilweave/model"
	"github.com/wippyai/ilweave/resolve"
)

var (
	configFile string
	outputFile string
	output     io.Writer
	cfg        Config
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "ilweave",
	Short: "CLI metadata and IL toolkit",
	Long: `ilweave reads, inspects and rewrites .NET assemblies.

It decodes the ECMA-335 metadata tables and IL method bodies, prints
them as text, resolves tokens across assemblies and checks that an
assembly survives a load and write cycle.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			return err
		}
		if logger, err = newLogger(cfg.LogLevel); err != nil {
			return err
		}
		metadata.SetLogger(logger.Named("metadata"))
		il.SetLogger(logger.Named("il"))
		model.SetLogger(logger.Named("model"))
		resolve.SetLogger(logger.Named("resolve"))
		batch.SetLogger(logger.Named("batch"))

		if outputFile != "" {
			f, err := os.Create(outputFile)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			output = f
		} else {
			output = cmd.OutOrStdout()
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if f, ok := output.(*os.File); ok && f != os.Stdout {
			f.Close()
		}
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "read settings from a TOML file")
	flags.StringVarP(&outputFile, "output", "o", "", "write output to file instead of stdout")
	flags.String("log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	flags.StringSlice("search-path", nil, "directory searched for referenced assemblies (repeatable)")
	flags.String("read-strategy", resolve.StrategyFile, "how input files are read (file, mmap)")
	flags.String("color", colorAuto, "colorize output (auto, always, never)")
	flags.Int("parallelism", 0, "modules processed at once by batch commands (0 = GOMAXPROCS)")

	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(roundtripCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// moduleOptions returns the load options every command shares. The
// directory of each input is searched before the configured paths.
func moduleOptions(inputs ...string) ([]model.Option, *resolve.Directory, error) {
	read, err := resolve.Strategy(cfg.ReadStrategy)
	if err != nil {
		return nil, nil, err
	}
	var paths []string
	for _, in := range inputs {
		paths = append(paths, filepath.Dir(in))
	}
	paths = append(paths, cfg.SearchPaths...)
	dir := resolve.NewDirectory(paths, model.WithReadStrategy(read))
	opts := []model.Option{
		model.WithReadStrategy(read),
		model.WithAssemblyResolver(dir),
	}
	return opts, dir, nil
}

// openModule loads path with the shared options. The returned closer
// releases the module and everything resolved on its behalf.
func openModule(ctx context.Context, path string) (*model.Module, func(), error) {
	opts, dir, err := moduleOptions(path)
	if err != nil {
		return nil, nil, err
	}
	m, err := model.LoadFile(ctx, path, opts...)
	if err != nil {
		dir.Close()
		return nil, nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.Debug("module loaded", zap.String("path", path), zap.String("module", m.Name()))
	return m, func() {
		m.Close()
		dir.Close()
	}, nil
}
