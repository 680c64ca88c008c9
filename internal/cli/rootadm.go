package cli

import (
	"github.com/spf13/cobra"
)

func newAdmRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "redlineadm",
		Short: "Administrative CLI for the redline database",
		Long: `redlineadm is the administrative companion to redline. It handles
database lifecycle (migrate, snapshot, prune), configuration and health
checks. These operations are not exposed through the redlined API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("db", "", "Path to database file (overrides REDLINE_DB_PATH)")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Log at the configured level instead of warn")

	cmd.AddCommand(
		newMigrateAdmCmd(),
		newDoctorAdmCmd(),
		newPruneAdmCmd(),
		newDBAdmCmd(),
		newConfigAdmCmd(),
		newVersionCmd("redlineadm"),
	)
	return cmd
}

// ExecuteAdmin runs the admin root command
func ExecuteAdmin() error {
	return newAdmRootCmd().Execute()
}
