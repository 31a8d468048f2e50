package cmd

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/webaudit/internal/rules"
)

func newRulesCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the rules of the audit catalog",
		Long: `List every rule in evaluation order. Rule names can be passed to
"webaudit audit --rule" to restrict an audit.`,
		Args: cobra.NoArgs,
		// Listing rules needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			printRules(cmd.OutOrStdout(), rules.Default(), quiet)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "only print rule names")
	return cmd
}

func printRules(w io.Writer, catalog *rules.Catalog, quiet bool) {
	bold := color.New(color.Bold)
	for _, r := range catalog.Rules() {
		if quiet {
			fmt.Fprintln(w, r.Name)
			continue
		}
		bold.Fprintf(w, "%-18s", r.Name)
		fmt.Fprintln(w, r.Description)
	}
}
