package cli

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/thipages/js-crud-api/internal/fixture"
)

// ListEntry is one corpus file as printed by the list command.
type ListEntry struct {
	Path     string `json:"path"`
	Pairs    int    `json:"pairs"`
	Skipped  string `json:"skipped,omitempty"`
	Unparsed int    `json:"unparsed,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var corpusDir string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List fixture files with pair counts and skip reasons",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if corpusDir != "" {
				cfg.CorpusDir = corpusDir
			}
			files, exclusions, err := loadCorpus(cmd.Context(), cfg, "")
			if err != nil {
				return err
			}
			return writeList(cmd, rootOpts.Format, listEntries(files, exclusions))
		},
	}

	cmd.Flags().StringVar(&corpusDir, "corpus", "", "fixture corpus root (overrides PARITY_CORPUS_DIR)")
	return cmd
}

func listEntries(files []fixture.File, ex fixture.Exclusions) []ListEntry {
	entries := make([]ListEntry, 0, len(files))
	for _, f := range files {
		e := ListEntry{Path: f.Path, Pairs: len(f.Pairs)}
		switch reason, ok := ex.Match(f.Path); {
		case ok:
			e.Skipped = reason
		case f.Skip:
			e.Skipped = f.Reason
		}
		for _, p := range f.Pairs {
			if p.Err != nil {
				e.Unparsed++
			}
		}
		entries = append(entries, e)
	}
	return entries
}

func writeList(cmd *cobra.Command, format string, entries []ListEntry) error {
	out := cmd.OutOrStdout()
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s\t%d pairs", e.Path, e.Pairs)
		if e.Unparsed > 0 {
			line += fmt.Sprintf("\t%d unparsed", e.Unparsed)
		}
		if e.Skipped != "" {
			line += "\tskipped: " + e.Skipped
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
