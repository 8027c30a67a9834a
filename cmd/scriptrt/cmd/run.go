package cmd

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/zclconf/go-cty/cty"

	"github.com/nfrund/scriptrt/internal/script"
)

var (
	runClass       string
	runEngineClass string
	runFrames      int
	runDelta       float64
	runCalls       []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Attach a script class to a simulated engine object and tick frames",
	Long: `Start the runtime against the simulated engine, attach --class to a new object of
--engine-class, call any --call methods, tick --frames frames and print the
resulting property state and signals.

Examples:
  scriptrt run --class Player --frames 60
  scriptrt run --class Door --engine-class Node --call toggle --call toggle`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		runCfg := *cfg
		runCfg.HotReload = false

		s, err := startSession(ctx, &runCfg)
		if err != nil {
			return err
		}
		defer s.Close(ctx)

		id, err := s.engine.Spawn(runEngineClass)
		if err != nil {
			return err
		}
		if err := s.engine.Attach(ctx, id, runClass); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		for _, method := range runCalls {
			v, err := s.engine.Call(ctx, id, method)
			if err != nil {
				return fmt.Errorf("call %s: %w", method, err)
			}
			fmt.Fprintf(out, "%s() = %s\n", method, script.FormatValue(v))
		}

		var tickErrs []error
		for i := 0; i < runFrames; i++ {
			if err := s.engine.Tick(ctx, runDelta); err != nil {
				tickErrs = append(tickErrs, fmt.Errorf("frame %d: %w", i+1, err))
			}
		}

		lang, err := s.engine.Language()
		if err != nil {
			return err
		}
		state, err := lang.Runtime().Dispatcher.PropertyState(id)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(state))
		for name := range state {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(out, "%s on %s #%d after %d frames:\n", runClass, runEngineClass, id, s.engine.Frames())
		for _, name := range names {
			fmt.Fprintf(out, "  %s = %s\n", name, script.FormatValue(state[name]))
		}
		signals := s.engine.Signals()
		fmt.Fprintf(out, "signals: %d\n", len(signals))
		for _, sig := range signals {
			fmt.Fprintf(out, "  %s(%s)\n", sig.Name, formatArgs(sig.Args))
		}
		return errors.Join(tickErrs...)
	},
}

func formatArgs(args []cty.Value) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += ", "
		}
		out += script.FormatValue(a)
	}
	return out
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runClass, "class", "c", "", "Script class to attach")
	runCmd.Flags().StringVar(&runEngineClass, "engine-class", "Node2D", "Engine class of the host object")
	runCmd.Flags().IntVarP(&runFrames, "frames", "n", 1, "Number of frames to tick")
	runCmd.Flags().Float64Var(&runDelta, "delta", 1.0/60, "Seconds per frame")
	runCmd.Flags().StringArrayVar(&runCalls, "call", nil, "Method to call (without arguments) before ticking; repeatable")
	_ = runCmd.MarkFlagRequired("class")
}
