package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/scriptrt/internal/script"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the script root without running anything",
	Long: `Compile and register every script module under the script root and report the
first problem found: duplicate class names, invalid declarations, or modules that
fail to compile.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := loadSnapshot(cmd.Context(), cfg)
		if err != nil {
			if serr, ok := script.AsScriptError(err); ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", serr.Type, serr.Error())
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "ok: %d classes in %s\n", snap.Len(), cfg.ScriptRoot)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
