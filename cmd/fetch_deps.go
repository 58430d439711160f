package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg"
)

var fetchDepsCmd = &cobra.Command{
	Use:   "fetch-deps",
	Short: "Downloads and unpacks prebuilt dependencies",
	Long:  `Downloads and unpacks the archives listed in thirdparty/DEPS.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, seq, err := setup(cmd)
		if err != nil {
			return err
		}

		update, err := cmd.Flags().GetBool("update")
		if err != nil {
			return err
		}

		pkg.PrintTask("Fetching archives")
		report, err := seq.FetchArchives(ctx, update)
		if err != nil {
			return err
		}

		for _, name := range report.Fetched {
			pkg.PrintSubtask(fmt.Sprintf("%s: fetched", name))
		}
		for _, name := range report.Updated {
			pkg.PrintSubtask(fmt.Sprintf("%s: checksum updated", name))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(fetchDepsCmd)

	fetchDepsCmd.Flags().BoolP("update", "u", false, "Update checksums in DEPS.yml")
}
