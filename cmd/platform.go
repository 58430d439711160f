package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var platformCmd = &cobra.Command{
	Use:   "platform",
	Short: "Prints the detected platform name",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, seq, err := setup(cmd)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), seq.DetectPlatform())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(platformCmd)
}
