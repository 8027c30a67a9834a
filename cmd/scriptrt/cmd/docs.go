package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nfrund/scriptrt/internal/script"
)

var docsOutputFormat string

var docsCmd = &cobra.Command{
	Use:   "docs [class...]",
	Short: "Print the documentation of script classes",
	Long: `Print the description, properties, methods and signals of the named classes,
or of every class when none are named.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		if len(args) == 0 {
			args = snap.ListClasses()
		}

		docs := make([]*script.ClassDoc, 0, len(args))
		for _, name := range args {
			doc, err := snap.Documentation(name)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}

		out := cmd.OutOrStdout()
		if docsOutputFormat == "json" {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(docs)
		}
		for _, doc := range docs {
			writeDoc(out, doc)
		}
		return nil
	},
}

func writeDoc(w io.Writer, doc *script.ClassDoc) {
	fmt.Fprintf(w, "class %s", doc.Name)
	if doc.Base != "" {
		fmt.Fprintf(w, " extends %s", doc.Base)
	}
	if doc.Tool {
		fmt.Fprint(w, " (tool)")
	}
	fmt.Fprintln(w)
	if doc.Description != "" {
		fmt.Fprintf(w, "  %s\n", doc.Description)
	}
	if len(doc.Properties) > 0 {
		fmt.Fprintln(w, "  properties:")
		for _, p := range doc.Properties {
			line := fmt.Sprintf("%s: %s = %s", p.Name, p.Type, p.Default)
			if p.Hint != "" {
				line += " [" + p.Hint + "]"
			}
			writeMember(w, line, p.Description)
		}
	}
	if len(doc.Methods) > 0 {
		fmt.Fprintln(w, "  methods:")
		for _, m := range doc.Methods {
			line := fmt.Sprintf("%s(%s) -> %s", m.Name, params(m.Params), m.Type)
			if m.Mutable {
				line += " mutable"
			}
			writeMember(w, line, m.Description)
		}
	}
	if len(doc.Signals) > 0 {
		fmt.Fprintln(w, "  signals:")
		for _, sig := range doc.Signals {
			writeMember(w, fmt.Sprintf("%s(%s)", sig.Name, params(sig.Params)), sig.Description)
		}
	}
	if len(doc.Hooks) > 0 {
		fmt.Fprintf(w, "  hooks: %s\n", strings.Join(doc.Hooks, ", "))
	}
	fmt.Fprintln(w)
}

func writeMember(w io.Writer, line, description string) {
	if description != "" {
		line += "  # " + description
	}
	fmt.Fprintf(w, "    %s\n", line)
}

func params(ps []script.Param) string {
	parts := make([]string, len(ps))
	for i, p := range ps {
		parts[i] = fmt.Sprintf("%s %s", p.Name, p.Type)
	}
	return strings.Join(parts, ", ")
}

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.Flags().StringVarP(&docsOutputFormat, "format", "f", "text", "Output format (text, json)")
}
