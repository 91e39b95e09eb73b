package cmd

import (
	"github.com/spf13/cobra"

	"github.com/apereo/persondir/internal/build"
)

// NewVersionCommand returns the command that prints the built version.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the persondir version",
		Long:  "Print the version, build date and commit persondir was built from.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Printf("persondir version %s date %s commit id %s\n", build.Version, build.Date, build.Commit)
		},
	}
}
