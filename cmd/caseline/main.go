// Command caseline is the CLI for the Caseline document identity pipeline:
// import documents, inspect keywords and cases, work the review queue, and
// serve the MCP surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caseline/caseline/internal/config"
	"github.com/caseline/caseline/internal/extract"
	"github.com/caseline/caseline/internal/pipeline"
	"github.com/caseline/caseline/internal/resolve"
	"github.com/caseline/caseline/internal/search"
	"github.com/caseline/caseline/internal/store"
)

var version = "0.1.0"

var (
	flagConfig string
	flagDB     string
)

func main() {
	root := &cobra.Command{
		Use:           "caseline",
		Short:         "Document identity resolution and keyword scoring",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default ~/.caseline/config.yaml)")
	root.PersistentFlags().StringVar(&flagDB, "db", "", "database path override")

	root.AddCommand(
		newImportCmd(),
		newKeywordCmd(),
		newSearchCmd(),
		newFilesCmd(),
		newDocsCmd(),
		newCaseCmd(),
		newPendingCmd(),
		newAssignCmd(),
		newResolveCmd(),
		newStatsCmd(),
		newVacuumCmd(),
		newServeMCPCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles the wired components behind every command.
type app struct {
	cfg *config.Config
	st  store.Store
	pl  *pipeline.Pipeline
	svc *search.Service
	log *zap.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if flagDB != "" {
		cfg.DBPath = flagDB
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	st, err := store.NewStore(store.StoreConfig{DBPath: cfg.DBPath})
	if err != nil {
		return nil, err
	}

	dict, err := extract.LoadDictionary(cfg.DictionaryPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	norm := extract.NewNormalizer(dict)
	extractor := extract.NewExtractor(norm, cfg.ExtractOptions())

	resolver, err := resolve.New(cfg.ResolveOptions())
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg: cfg,
		st:  st,
		pl:  pipeline.New(st, extractor, resolver, log, cfg.Workers),
		svc: search.New(st, norm),
		log: log,
	}, nil
}

func (a *app) Close() {
	a.st.Close()
	a.log.Sync()
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the caseline version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("caseline", version)
		},
	}
}
