package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/bootstrap"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/config"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/logging"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/shell"
)

var rootCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Prepares a mo-gfx checkout for building",
	Long: `Syncs the third-party dependencies and generates the native project files
for the current platform (Visual Studio on Windows, Xcode on macOS).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, seq, err := setup(cmd)
		if err != nil {
			return err
		}

		pkg.PrintTask("Bootstrapping " + seq.Config.Root)
		if err = seq.Run(ctx); err != nil {
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	log.Logger = logging.New(os.Stderr, zerolog.InfoLevel, false)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (defaults to bootstrap.toml in the project root)")
	flags.String("root", "", "project root (defaults to the closest directory containing bootstrap.toml or .git)")
	flags.String("platform", "", "pretend to run on the given platform (i.e. Windows, Darwin, Linux)")
	flags.BoolP("dry-run", "n", false, "dry run; only print the commands, don't execute anything")
	flags.Bool("strict", false, "fail if an external tool exits with a non-zero status")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.Bool("log-json", false, "output JSON log lines instead of pretty console messages")
}

// findRoot returns the --root flag or the closest project root above the working directory
func findRoot(cmd *cobra.Command) (string, error) {
	root, err := cmd.Flags().GetString("root")
	if err != nil {
		return "", err
	}

	if root != "" {
		return filepath.Abs(root)
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", eris.Wrap(err, "failed to retrieve the current working directory")
	}

	root, err = pkg.GetProjectRoot(wd)
	if err != nil {
		log.Debug().Err(err).Msg("using the working directory as project root")
		return wd, nil
	}

	return root, nil
}

// loadConfig reads .env, the config file and the environment. Flags passed on the
// command line override all of them.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !eris.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "failed to load .env")
	}

	root, err := findRoot(cmd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	cfgFile, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	if cfgFile == "" {
		cfgFile = filepath.Join(root, config.FileName)
	}

	cfg, loader := config.Loader(cfgFile)
	if err = loader.Load(); err != nil {
		return nil, eris.Wrapf(err, "failed to load %s", cfgFile)
	}

	if flags.Changed("root") || cfg.Root == "" {
		cfg.Root = root
	}
	cfg.Root, err = filepath.Abs(cfg.Root)
	if err != nil {
		return nil, eris.Wrap(err, "failed to resolve the project root")
	}

	if flags.Changed("platform") {
		cfg.Platform, _ = flags.GetString("platform")
	}
	if flags.Changed("dry-run") {
		cfg.DryRun, _ = flags.GetBool("dry-run")
	}
	if flags.Changed("strict") {
		cfg.Strict, _ = flags.GetBool("strict")
	}
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("log-json") {
		cfg.Log.JSON, _ = flags.GetBool("log-json")
	}

	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// setup loads the config, configures logging and returns a ready Sequencer
func setup(cmd *cobra.Command) (context.Context, *bootstrap.Sequencer, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel(), cfg.Log.JSON)
	log.Logger = logger

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithLogger(ctx, &logger)

	return ctx, bootstrap.New(cfg, shell.NewInterp(cfg.DryRun)), nil
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		pkg.PrintError(err.Error())
		log.Debug().Err(err).Msg("bootstrap failed")
		os.Exit(1)
	}
}
