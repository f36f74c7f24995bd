package commands

import (
	"errors"
	"fmt"
	"runtime"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/autowire/internal/cli/config"
	"github.com/conduit-lang/autowire/internal/cli/ui"
	"github.com/conduit-lang/autowire/internal/logging"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
	GoVersion = "unknown"
)

// globalOptions holds the persistent flags shared by every subcommand
type globalOptions struct {
	configFile string
	root       string
	logLevel   string
	noColor    bool
}

// configError marks a failure to load or validate autowire.yml
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// reportedError is returned after the command already printed a diagnostic
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

// NewRootCommand creates the root command
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "autowire",
		Short: "Build-time dependency wiring for Go applications",
		Long: color.CyanString(`autowire - compile-time dependency injection

autowire scans your module for annotated types and generates a single Go
file that registers every class into a container in dependency order.

Annotate a type with one of:
  //autowire:injectable
  //autowire:controller
  //autowire:guard
  //autowire:socket-controller

and run 'autowire generate' (or 'autowire watch' while developing).`),
		SilenceUsage:      true,
		SilenceErrors:     true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.noColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Configuration file (default: ./autowire.yml)")
	flags.StringVar(&opts.root, "root", "", "Directory to scan (overrides config)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	rootCmd.AddCommand(NewVersionCommand())
	rootCmd.AddCommand(NewGenerateCommand(opts))
	rootCmd.AddCommand(NewWatchCommand(opts))
	rootCmd.AddCommand(NewGraphCommand(opts))
	rootCmd.AddCommand(NewInitCommand(opts))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// load reads the configuration, applies flag overrides and builds a logger
func (o *globalOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, &configError{err: err}
	}
	if o.root != "" {
		cfg.Root = o.root
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, &configError{err: err}
	}
	logger.Debug("configuration loaded", zap.String("file", cfg.File), zap.String("root", cfg.Root))
	return cfg, logger, nil
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  "Display the autowire version, Git commit, build date, and Go version",
		Run: func(cmd *cobra.Command, args []string) {
			goVer := GoVersion
			if goVer == "unknown" {
				goVer = runtime.Version()
			}

			kv := ui.NewKeyValueTable(cmd.OutOrStdout(), color.NoColor)
			kv.Add("autowire version", Version)
			kv.Add("Git commit", GitCommit)
			kv.Add("Build date", BuildDate)
			kv.Add("Go version", goVer)
			kv.Render()
		},
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd := NewRootCommand()
	if err := rootCmd.Execute(); err != nil {
		report(rootCmd, err)
		return err
	}
	return nil
}

func report(cmd *cobra.Command, err error) {
	var (
		reported *reportedError
		cfgErr   *configError
	)
	switch {
	case errors.As(err, &reported):
	case errors.As(err, &cfgErr):
		fmt.Fprint(cmd.ErrOrStderr(), ui.ConfigError(cfgErr.Error(), color.NoColor))
	default:
		ui.WriteError(cmd.ErrOrStderr(), ui.Describe(err, color.NoColor))
	}
}
