package cmd

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nfrund/scriptrt/internal/config"
	"github.com/nfrund/scriptrt/internal/logging"
)

// cfg is loaded before any subcommand runs
var cfg *config.Config

var (
	flagRoot      string
	flagLanguages string
	flagLogFormat string
	flagLogLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "scriptrt",
	Short: "Statically-typed script runtime for the game engine",
	Long: `scriptrt loads script classes from a script root, attaches them to engine
objects and hot-reloads them when their sources change.

Configuration comes from .env and the environment (SCRIPT_ROOT,
SCRIPT_LANGUAGES, HOT_RELOAD_SCRIPTS, RELOAD_DEBOUNCE, LOG_FORMAT, LOG_LEVEL,
INSPECT_ADDR); flags override it.

Use "scriptrt [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogFormat, cfg.LogLevel)
		return nil
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies any flags that were set
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.New()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.ScriptRoot = flagRoot
	}
	if flags.Changed("lang") {
		cfg.Languages = strings.Split(flagLanguages, ",")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, cfg.Validate()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagRoot, "root", "r", "scripts", "Script root directory")
	rootCmd.PersistentFlags().StringVar(&flagLanguages, "lang", "go,tengo", "Comma-separated script languages to load")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
}
