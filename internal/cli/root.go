package cli

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the redline command tree. Each call returns fresh
// commands with fresh flag state.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "redline",
		Short: "Compare and merge versions of contract text",
		Long: `redline classifies the differences between document versions and
merges several versions into one. Merges are stored in a local SQLite
database so conflicts can be resolved across several invocations before
the merged document is finalized.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("db", "", "Path to database file (overrides REDLINE_DB_PATH)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log at the configured level on stderr")

	root.AddCommand(
		newCompareCmd(),
		newCompareBatchCmd(),
		newComparisonsCmd(),
		newMergeCmd(),
		newVersionCmd("redline"),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return newRootCmd().Execute()
}
