package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nfrund/scriptrt/internal/pubsub"
)

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the event bus topics the runtime publishes and consumes",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TOPIC\tPAYLOAD\tFIELDS\tDESCRIPTION")
		for _, t := range pubsub.Topics() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.Name, t.TypeName, strings.Join(t.PayloadFields, ","), t.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
