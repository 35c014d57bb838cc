package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cncjs/cnc-core/cmd/cnccored/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(build.String())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
