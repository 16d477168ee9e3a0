package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/funnyzak/trafficcmp/internal/config"
	"github.com/funnyzak/trafficcmp/internal/loader"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "trafficcmp",
	Short: "Load and compare primary and shadow HTTP traffic captured by a replayer",
	Long: `trafficcmp reads the logs written by a traffic replayer, where every line holds one
request together with the response from the primary cluster and the response from the
shadow cluster, and turns them into paired primary and shadow streams.

Each triple is printed with both status codes and the latency difference between the
two clusters. Triples can also be persisted to a SQLite database for later analysis.
`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run:   showVersion,
}

var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List log file formats",
	Run:   showFormats,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE:  showConfig,
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("format", "F", "", "Log file format (replayer-triples)")
	rootCmd.PersistentFlags().StringP("output", "o", "", "Output mode (console, json)")
	rootCmd.PersistentFlags().Bool("silence", false, "Do not print individual triples")
	rootCmd.PersistentFlags().Bool("skipped", false, "List every skipped line in the summary")
	rootCmd.PersistentFlags().Bool("body-view", false, "Print formatted response bodies instead of a one-line preview")
	rootCmd.PersistentFlags().Bool("store", false, "Persist loaded triples to SQLite")
	rootCmd.PersistentFlags().String("store-path", "", "SQLite database path")
	rootCmd.PersistentFlags().Int("store-max-records", 0, "Maximum number of triples to keep in the database")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().Bool("log-file-enable", false, "Enable file logging")
	rootCmd.PersistentFlags().String("log-file-path", "", "Log file path")
	rootCmd.PersistentFlags().Int("log-file-max-size", 0, "Maximum size of a single log file (MB)")
	rootCmd.PersistentFlags().Int("log-file-max-backups", 0, "Maximum number of old log files to retain")
	rootCmd.PersistentFlags().Int("log-file-max-age", 0, "Maximum retention days for old log files")
	rootCmd.PersistentFlags().Bool("log-file-compress", false, "Whether to compress old log files")

	bindFlags(rootCmd, viper.GetViper())

	rootCmd.AddCommand(loadCmd, formatsCmd, configCmd, versionCmd)
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	v.BindPFlag("input.format", flags.Lookup("format"))
	v.BindPFlag("output.mode", flags.Lookup("output"))
	v.BindPFlag("output.silence", flags.Lookup("silence"))
	v.BindPFlag("output.skipped", flags.Lookup("skipped"))
	v.BindPFlag("output.body_view.enable", flags.Lookup("body-view"))
	v.BindPFlag("storage.enable", flags.Lookup("store"))
	v.BindPFlag("storage.path", flags.Lookup("store-path"))
	v.BindPFlag("storage.max_records", flags.Lookup("store-max-records"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.file_logging.enable", flags.Lookup("log-file-enable"))
	v.BindPFlag("log.file_logging.path", flags.Lookup("log-file-path"))
	v.BindPFlag("log.file_logging.max_size_mb", flags.Lookup("log-file-max-size"))
	v.BindPFlag("log.file_logging.max_backups", flags.Lookup("log-file-max-backups"))
	v.BindPFlag("log.file_logging.max_age_days", flags.Lookup("log-file-max-age"))
	v.BindPFlag("log.file_logging.compress", flags.Lookup("log-file-compress"))
}

// loadConfig reads the config file and environment. Bound flags take precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(configPath, viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func showVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "trafficcmp version %s\n", version)
	fmt.Fprintf(out, "Commit: %s\n", commit)
	fmt.Fprintf(out, "Built: %s\n", buildDate)
}

func showFormats(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	supported := map[loader.Format]bool{}
	for _, f := range loader.Supported() {
		supported[f] = true
	}
	for _, f := range []loader.Format{loader.FormatHAProxyJSONs, loader.FormatReplayerTriples} {
		status := "not supported"
		if supported[f] {
			status = "supported"
		}
		fmt.Fprintf(out, "%-18s %s\n", f, status)
	}
}

func showConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
