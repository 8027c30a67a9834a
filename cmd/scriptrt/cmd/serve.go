package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/scriptrt/internal/inspect"
)

var serveHotReload bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the script runtime with hot reload and the inspector until interrupted",
	Long: `Start the runtime against the simulated engine, watch the script root for changes
and serve the read-only inspector on INSPECT_ADDR (or --addr). Stops on SIGINT
or SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("hot-reload") {
			cfg.HotReload = serveHotReload
		}
		if addr, _ := cmd.Flags().GetString("addr"); cmd.Flags().Changed("addr") {
			cfg.InspectAddr = addr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s, err := startSession(ctx, cfg)
		if err != nil {
			return err
		}

		var server *inspect.Server
		serverErr := make(chan error, 1)
		if cfg.InspectAddr != "" {
			server = inspect.New(s.reg)
			go func() { serverErr <- server.Start(cfg.InspectAddr) }()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "serving %s (hot reload: %t, inspector: %q)\n", cfg.ScriptRoot, cfg.HotReload, cfg.InspectAddr)

		select {
		case <-ctx.Done():
		case err = <-serverErr:
			if err != nil {
				slog.Error("Inspector stopped", "error", err)
			}
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if server != nil {
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				slog.Error("Inspector shutdown failed", "error", serr)
			}
		}
		if cerr := s.Close(shutdownCtx); cerr != nil {
			return cerr
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveHotReload, "hot-reload", true, "Watch the script root and reload on change")
	serveCmd.Flags().String("addr", "", "Inspector listen address; empty disables it")
}
