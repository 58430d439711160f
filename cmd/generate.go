package cmd

import (
	"github.com/spf13/cobra"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg"
	"github.com/WeakKnight/mo-gfx/build-tools/pkg/logging"
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generates the native project files",
	Long: `Runs cmake with the generator for the current platform from its build
directory. Platforms without a configured generator are skipped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, seq, err := setup(cmd)
		if err != nil {
			return err
		}

		systemName := seq.DetectPlatform()
		logger := logging.Log(ctx)
		logger.Info().Msgf("Building On %s System", systemName)
		logger.Info().Msgf("Current Path is %s", seq.Config.Root)

		ran, err := seq.GenerateBuild(ctx, systemName, seq.Config.Root)
		if err != nil {
			return err
		}

		if !ran {
			pkg.PrintSubtask("Nothing to generate for " + systemName.String())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
