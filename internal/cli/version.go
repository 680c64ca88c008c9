package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information (set by build flags)
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var supportedCommands = map[string][]string{
	"redline": {
		"compare", "compare-batch", "comparisons",
		"merge start", "merge preview", "merge status", "merge conflicts",
		"merge resolve", "merge resolve-bulk", "merge finalize", "merge cancel",
		"merge ls", "merge log",
		"version", "completion",
	},
	"redlineadm": {"migrate", "doctor", "prune", "db snapshot", "config doctor", "version", "completion"},
}

func newVersionCmd(binary string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  fmt.Sprintf("Displays version, commit, and build date information for %s.", binary),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(cmd, binary, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func runVersion(cmd *cobra.Command, binary string, asJSON bool) error {
	if asJSON {
		output := map[string]interface{}{
			"binary":                    binary,
			"version":                   Version,
			"commit":                    GitCommit,
			"build_date":                BuildDate,
			"machine_interface_version": 1,
			"supported_commands":        supportedCommands[binary],
			"supported_formats": []string{
				"json", "ndjson", "yaml", "tsv", "table", "porcelain",
			},
			"supported_strategies":  []string{"CONSENSUS", "MOST_RECENT", "MANUAL"},
			"supported_granularity": []string{"paragraph", "sentence", "line"},
			"capabilities": map[string]bool{
				"etag_concurrency": true,
				"event_log":        true,
				"pagination":       true,
				"bulk_operations":  true,
				"glob_patterns":    true,
				"stdin_input":      true,
				"webhooks":         true,
			},
		}
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(output)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", binary, Version)
	fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", GitCommit)
	fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
	fmt.Fprintf(cmd.OutOrStdout(), "  machine interface: v%d\n", 1)

	return nil
}
