package cmd

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var classesOutputFormat string

// classSummary is one row of the classes listing
type classSummary struct {
	Name       string `json:"name"`
	Base       string `json:"base"`
	Module     string `json:"module"`
	Tool       bool   `json:"tool"`
	Properties int    `json:"properties"`
	Methods    int    `json:"methods"`
	Signals    int    `json:"signals"`
}

var classesCmd = &cobra.Command{
	Use:   "classes",
	Short: "List the script classes found under the script root",
	Long: `Load every script module under the script root and list the classes they declare.

Examples:
  scriptrt classes                      # Table of classes under ./scripts
  scriptrt classes --root game/scripts  # Another script root
  scriptrt classes --format json        # Machine-readable output`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		rows := make([]classSummary, 0, snap.Len())
		for _, name := range snap.ListClasses() {
			desc, err := snap.Lookup(name)
			if err != nil {
				return err
			}
			rows = append(rows, classSummary{
				Name:       desc.Name,
				Base:       desc.Base,
				Module:     desc.Module,
				Tool:       desc.Tool,
				Properties: len(desc.Properties),
				Methods:    len(desc.Methods),
				Signals:    len(desc.Signals),
			})
		}

		out := cmd.OutOrStdout()
		switch classesOutputFormat {
		case "json":
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(rows)
		case "table":
			if len(rows) == 0 {
				fmt.Fprintf(out, "No script classes found under %s\n", cfg.ScriptRoot)
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLASS\tBASE\tMODULE\tPROPS\tMETHODS\tSIGNALS")
			for _, r := range rows {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n", r.Name, r.Base, r.Module, r.Properties, r.Methods, r.Signals)
			}
			return w.Flush()
		default:
			return fmt.Errorf("unsupported output format %q, use table or json", classesOutputFormat)
		}
	},
}

func init() {
	rootCmd.AddCommand(classesCmd)
	classesCmd.Flags().StringVarP(&classesOutputFormat, "format", "f", "table", "Output format (table, json)")
}
