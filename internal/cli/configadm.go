package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/lherron/redline/internal/cli/appctx"
	"github.com/lherron/redline/internal/config"
	"github.com/lherron/redline/internal/render"
	"github.com/spf13/cobra"
)

type configValue struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source string `json:"source"`
}

type configReport struct {
	File     string        `json:"file"`
	Values   []configValue `json:"values"`
	Warnings []string      `json:"warnings"`
}

func newConfigAdmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration introspection",
	}

	var asJSON bool
	doctor := &cobra.Command{
		Use:   "doctor",
		Short: "Show effective configuration and where each value came from",
		Args:  cobra.NoArgs,
		RunE: appctx.WithApp(appctx.NoDB(), func(app *appctx.App, cmd *cobra.Command, args []string) error {
			report := buildConfigReport(app.Config, cmd.Flag("db").Changed)
			if asJSON {
				return render.NewRenderer(cmd.OutOrStdout(), render.Options{Format: render.FormatJSON}).RenderJSON(report)
			}

			rows := make([][]string, 0, len(report.Values))
			for _, v := range report.Values {
				rows = append(rows, []string{v.Key, v.Value, v.Source})
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Config file: %s\n\n", report.File)
			if err := render.NewRenderer(w, render.Options{}).RenderTable([]string{"KEY", "VALUE", "SOURCE"}, rows); err != nil {
				return err
			}
			for _, warning := range report.Warnings {
				fmt.Fprintf(w, "⚠ %s\n", warning)
			}
			return nil
		}),
	}
	doctor.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")

	cmd.AddCommand(doctor)
	return cmd
}

func buildConfigReport(cfg *config.Config, dbFlag bool) *configReport {
	report := &configReport{Warnings: []string{}}
	if path, err := config.FilePath(); err == nil {
		report.File = path
	}
	fileKeys := config.FileKeys()

	source := func(key, env string) string {
		if os.Getenv(env) != "" {
			return "env " + env
		}
		if os.Getenv(env+"_FILE") != "" {
			return "env " + env + "_FILE"
		}
		if fileKeys[key] {
			return "config file"
		}
		return "default"
	}

	token := "(not set)"
	if cfg.DaemonToken != "" {
		token = "(set)"
	}
	float := func(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

	report.Values = []configValue{
		{"db_path", cfg.DBPath, source("db_path", "REDLINE_DB_PATH")},
		{"log_level", cfg.LogLevel, source("log_level", "REDLINE_LOG_LEVEL")},
		{"log_format", cfg.LogFormat, source("log_format", "REDLINE_LOG_FORMAT")},
		{"output", cfg.Output, source("output", "REDLINE_OUTPUT")},
		{"granularity", cfg.Granularity, source("granularity", "REDLINE_GRANULARITY")},
		{"strategy", cfg.Strategy, source("strategy", "REDLINE_STRATEGY")},
		{"daemon_addr", cfg.DaemonAddr, source("daemon_addr", "REDLINE_DAEMON_ADDR")},
		{"daemon_token", token, source("daemon_token", "REDLINE_DAEMON_TOKEN")},
		{"webhook_urls", strings.Join(cfg.WebhookURLs, ","), source("webhook_urls", "REDLINE_WEBHOOK_URLS")},
		{"reword_threshold", float(cfg.RewordThreshold), source("reword_threshold", "REDLINE_REWORD_THRESHOLD")},
		{"semantic_shift_threshold", float(cfg.SemanticShiftThreshold), source("semantic_shift_threshold", "REDLINE_SEMANTIC_SHIFT_THRESHOLD")},
		{"match_floor", float(cfg.MatchFloor), source("match_floor", "REDLINE_MATCH_FLOOR")},
	}
	if dbFlag {
		report.Values[0].Source = "flag --db"
	}

	if _, err := os.Stat(cfg.DBPath); err != nil {
		report.Warnings = append(report.Warnings, "Database file does not exist - run 'redlineadm migrate' to create it")
	}
	if cfg.DaemonToken == "" && !strings.HasPrefix(cfg.DaemonAddr, "127.0.0.1:") && !strings.HasPrefix(cfg.DaemonAddr, "localhost:") {
		report.Warnings = append(report.Warnings, fmt.Sprintf("daemon_addr %s is not loopback and no daemon_token is set", cfg.DaemonAddr))
	}
	return report
}
