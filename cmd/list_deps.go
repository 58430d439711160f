package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/WeakKnight/mo-gfx/build-tools/pkg/gitdeps"
)

var listDepsCmd = &cobra.Command{
	Use:   "list-deps",
	Short: "Lists the git dependencies",
	Long:  `Parses the DEPS file and prints the dependencies active on the current platform.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, seq, err := setup(cmd)
		if err != nil {
			return err
		}

		all, err := cmd.Flags().GetBool("all")
		if err != nil {
			return err
		}

		depsFile, err := gitdeps.Load(seq.Config.Resolve(seq.Config.Sync.DepsFile))
		if err != nil {
			return err
		}

		deps := depsFile.Deps
		if !all {
			deps, err = depsFile.Select(seq.DetectPlatform())
			if err != nil {
				return err
			}
		}

		maxPathLen := 0
		for _, dep := range deps {
			if len(dep.Path) > maxPathLen {
				maxPathLen = len(dep.Path)
			}
		}

		out := cmd.OutOrStdout()
		lineFmt := fmt.Sprintf(" * %%-%ds %%s @ %%s\n", maxPathLen+3)
		for _, dep := range deps {
			fmt.Fprintf(out, lineFmt, dep.Path+":", dep.URL, dep.Revision)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listDepsCmd)

	listDepsCmd.Flags().BoolP("all", "a", false, "include dependencies that are inactive on this platform")
}
