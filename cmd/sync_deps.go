package cmd

import (
	"github.com/spf13/cobra"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg"
)

var syncDepsCmd = &cobra.Command{
	Use:   "sync-deps",
	Short: "Syncs the third-party dependencies",
	Long: `Runs the configured dependency sync: either the external sync tool
(python thirdparty/shaderc/utils/git-sync-deps) or the built-in git sync.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, seq, err := setup(cmd)
		if err != nil {
			return err
		}

		pkg.PrintTask("Syncing dependencies")
		return seq.SyncDependencies(ctx)
	},
}

func init() {
	rootCmd.AddCommand(syncDepsCmd)
}
