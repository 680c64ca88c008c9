package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/lherron/redline/internal/config"
	"github.com/lherron/redline/internal/domain"
	"github.com/lherron/redline/internal/merge"
	"github.com/lherron/redline/internal/parse"
	"github.com/lherron/redline/internal/render"
)

// Exit codes shared by redline and redlineadm
const (
	exitGeneric  = 1
	exitInvalid  = 2
	exitState    = 3
	exitNotFound = 4
	exitPartial  = 5
)

type exitErr struct {
	code int
	err  error
}

func (e *exitErr) Error() string { return e.err.Error() }
func (e *exitErr) Unwrap() error { return e.err }

// exitError returns an error that will cause the CLI to exit with the given code
func exitError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitErr{code: code, err: err}
}

// ExitCode maps an error returned by a command onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var e *exitErr
	if errors.As(err, &e) {
		return e.code
	}
	var mismatch *domain.ETagMismatchError
	if errors.As(err, &mismatch) {
		return exitState
	}
	switch domain.CodeOf(err) {
	case domain.CodeInvalidInput:
		return exitInvalid
	case domain.CodeConflictState:
		return exitState
	case domain.CodeNotFound:
		return exitNotFound
	}
	return exitGeneric
}

// addOutputFlags registers the --output/--json pair on cmd
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "Output format: table, json, ndjson, yaml, tsv")
	cmd.Flags().Bool("json", false, "Shorthand for --output json")
	cmd.Flags().Bool("porcelain", false, "Stable machine-readable output")
}

// newRenderer builds a renderer from the command's output flags, falling
// back to the configured default format.
func newRenderer(cmd *cobra.Command, cfg *config.Config) (*render.Renderer, error) {
	name := ""
	if cfg != nil {
		name = cfg.Output
	}
	if f := cmd.Flag("output"); f != nil && f.Value.String() != "" {
		name = f.Value.String()
	}
	if f := cmd.Flag("json"); f != nil && f.Value.String() == "true" {
		name = string(render.FormatJSON)
	}
	format, err := render.ParseFormat(name)
	if err != nil {
		return nil, exitError(exitInvalid, err)
	}
	porcelain := false
	if f := cmd.Flag("porcelain"); f != nil {
		porcelain = f.Value.String() == "true"
	}
	out := cmd.OutOrStdout()
	return render.NewRenderer(out, render.Options{
		Format:    format,
		Porcelain: porcelain,
		Color:     !porcelain && useColor(out),
	}), nil
}

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}

// expandInputs expands doublestar patterns in args. Plain paths are kept
// as given; a pattern that matches nothing is an error.
func expandInputs(args []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, arg := range args {
		if !strings.ContainsAny(arg, "*?[{") {
			if !seen[arg] {
				seen[arg] = true
				out = append(out, arg)
			}
			continue
		}
		if !doublestar.ValidatePathPattern(arg) {
			return nil, exitError(exitInvalid, fmt.Errorf("invalid glob pattern %q", arg))
		}
		matches, err := doublestar.FilepathGlob(arg, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, exitError(exitInvalid, fmt.Errorf("no files match %q", arg))
		}
		sort.Strings(matches)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	return out, nil
}

// readVersions loads each file as one merge version. The source ID is the
// file's base name unless two inputs share it, in which case the path is
// used. Submission time is the file's modification time. Front matter or a
// JSON document may override both.
func readVersions(paths []string) ([]merge.Version, error) {
	baseCount := make(map[string]int)
	for _, p := range paths {
		baseCount[filepath.Base(p)]++
	}

	versions := make([]merge.Version, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, exitError(exitInvalid, fmt.Errorf("failed to read %s: %w", p, err))
		}
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		doc, err := parse.Parse(data, "")
		if err != nil {
			return nil, exitError(exitInvalid, fmt.Errorf("failed to parse %s: %w", p, err))
		}

		v := merge.Version{
			SourceID:    filepath.Base(p),
			Text:        doc.Text,
			SubmittedAt: info.ModTime().UTC(),
		}
		if baseCount[v.SourceID] > 1 {
			v.SourceID = filepath.ToSlash(p)
		}
		if doc.SourceID != nil && strings.TrimSpace(*doc.SourceID) != "" {
			v.SourceID = strings.TrimSpace(*doc.SourceID)
		}
		if doc.SubmittedAt != nil {
			v.SubmittedAt = doc.SubmittedAt.UTC()
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// readText reads a file, or stdin when path is "-"
func readText(cmd *cobra.Command, path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", exitError(exitInvalid, fmt.Errorf("failed to read %s: %w", path, err))
	}
	return string(data), nil
}
