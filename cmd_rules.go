package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"deployguard/config"
	"deployguard/internal/format"
	"deployguard/internal/models"
)

var rulesFlags struct {
	kind     string
	markdown bool
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the detection rules in the active library",
	Args:  cobra.NoArgs,
	RunE:  runRules,
}

func init() {
	f := rulesCmd.Flags()
	f.StringVarP(&rulesFlags.kind, "kind", "k", "", "only list rules for this kind: sql, infra, manifest")
	f.BoolVar(&rulesFlags.markdown, "markdown", false, "render a Markdown table")
}

func runRules(cmd *cobra.Command, _ []string) error {
	lib, err := loadLibrary(config.AppConfig)
	if err != nil {
		return err
	}
	kinds := models.Kinds
	if rulesFlags.kind != "" {
		k, err := models.ParseKind(rulesFlags.kind)
		if err != nil {
			return err
		}
		kinds = []models.Kind{k}
	}

	mode := format.ASCII
	if rulesFlags.markdown {
		mode = format.Markdown
	}
	tb := format.NewTable(mode)
	tb.Header("Kind", "ID", "Severity", "Title", "Matcher")
	for _, k := range kinds {
		rs, err := lib.Rules(k)
		if err != nil {
			continue // kind without rules
		}
		for _, r := range rs {
			tb.Row(k, r.ID, r.Severity, r.Title, format.Truncate(r.Matcher.Describe(), 60))
		}
	}
	if mode == format.ASCII {
		tb.Columns(format.ColumnConfig{Number: 4, MaxWidth: 40})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Library %s\n", lib.Version)
	fmt.Fprintln(out, tb.String())
	return nil
}
