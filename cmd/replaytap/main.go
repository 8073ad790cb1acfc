package main

import (
	"fmt"
	"os"

	"github.com/funnyzak/replaytap/internal/config"
	"github.com/funnyzak/replaytap/internal/logger"
	"github.com/funnyzak/replaytap/internal/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newRootCmd(v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "replaytap",
		Short: "Replay captured HTTP flows against their original servers",
		Long: `ReplayTap re-sends previously captured HTTP requests to the servers they were
originally sent to, one at a time, and records what came back.

Captures can be loaded at startup, queued through the admin API, or replayed
once from the command line with "replaytap replay".
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, v)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", "", "Configuration file path")
	flags.StringP("mode", "m", "", "Replay mode (regular or upstream:<url>)")
	flags.StringSlice("client-replay", []string{}, "Capture files replayed at startup (globs allowed)")
	flags.String("body-size-limit", "", "Largest request body replayed, e.g. 10m")
	flags.Bool("insecure", false, "Skip TLS certificate verification")
	flags.StringP("log-level", "l", "", "Log level (trace, debug, info, warn, error, fatal, panic)")
	flags.Bool("log-file-enable", false, "Enable file logging")
	flags.String("log-file-path", "", "Log file path")
	flags.Int("log-file-max-size", 0, "Maximum size of a single log file (MB)")
	flags.Int("log-file-max-backups", 0, "Maximum number of old log files to retain")
	flags.Int("log-file-max-age", 0, "Maximum retention days for old log files")
	flags.Bool("log-file-compress", false, "Whether to compress old log files")
	flags.StringP("output", "o", "", "Replay output style (console or json)")
	flags.Bool("silence", false, "Suppress console output (replay results and logs)")
	flags.StringSlice("notify-url", []string{}, "Webhook URLs receiving replay results")
	flags.String("db", "", "Capture database path")

	// Admin API configuration flags
	flags.Bool("api-enable", false, "Enable/disable the admin API")
	flags.String("api-listen", "", "Admin API listen address")
	flags.IntP("api-port", "p", 0, "Admin API port")
	flags.String("api-base-path", "", "Admin API path prefix")
	flags.String("api-token", "", "Bearer token required by the admin API")

	bindFlags(rootCmd, v)

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Start the replay service (default)",
			Args:  cobra.NoArgs,
			RunE:  rootCmd.RunE,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run:   showVersion,
		},
		newReplayCmd(v),
		newImportCmd(v),
	)
	return rootCmd
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	v.BindPFlag("replay.mode", flags.Lookup("mode"))
	v.BindPFlag("replay.client_replay", flags.Lookup("client-replay"))
	v.BindPFlag("replay.body_size_limit", flags.Lookup("body-size-limit"))
	v.BindPFlag("replay.tls.insecure_skip_verify", flags.Lookup("insecure"))
	v.BindPFlag("log.level", flags.Lookup("log-level"))
	v.BindPFlag("log.file_logging.enable", flags.Lookup("log-file-enable"))
	v.BindPFlag("log.file_logging.path", flags.Lookup("log-file-path"))
	v.BindPFlag("log.file_logging.max_size_mb", flags.Lookup("log-file-max-size"))
	v.BindPFlag("log.file_logging.max_backups", flags.Lookup("log-file-max-backups"))
	v.BindPFlag("log.file_logging.max_age_days", flags.Lookup("log-file-max-age"))
	v.BindPFlag("log.file_logging.compress", flags.Lookup("log-file-compress"))
	v.BindPFlag("output.mode", flags.Lookup("output"))
	v.BindPFlag("output.silence", flags.Lookup("silence"))
	v.BindPFlag("notify.urls", flags.Lookup("notify-url"))
	v.BindPFlag("storage.path", flags.Lookup("db"))

	v.BindPFlag("api.enable", flags.Lookup("api-enable"))
	v.BindPFlag("api.listen", flags.Lookup("api-listen"))
	v.BindPFlag("api.port", flags.Lookup("api-port"))
	v.BindPFlag("api.base_path", flags.Lookup("api-base-path"))
	v.BindPFlag("api.token", flags.Lookup("api-token"))
}

// loadConfig reads the configuration and applies command line flags on top.
// Flags only win when they were set explicitly.
func loadConfig(cmd *cobra.Command, v *viper.Viper) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadConfig(configPath, v)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if mode, err := flags.GetString("mode"); err == nil && mode != "" {
		cfg.Replay.Mode = mode
	}
	if paths, err := flags.GetStringSlice("client-replay"); err == nil && len(paths) > 0 {
		cfg.Replay.ClientReplay = paths
	}
	if limit, err := flags.GetString("body-size-limit"); err == nil && limit != "" {
		cfg.Replay.BodySizeLimit = limit
	}
	if insecure, err := flags.GetBool("insecure"); err == nil && flags.Changed("insecure") {
		cfg.Replay.TLS.InsecureSkipVerify = insecure
	}
	if logLevel, err := flags.GetString("log-level"); err == nil && logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFileEnable, err := flags.GetBool("log-file-enable"); err == nil && flags.Changed("log-file-enable") {
		cfg.Log.FileLogging.Enable = logFileEnable
	}
	if logFilePath, err := flags.GetString("log-file-path"); err == nil && logFilePath != "" {
		cfg.Log.FileLogging.Path = logFilePath
	}
	if logFileSize, err := flags.GetInt("log-file-max-size"); err == nil && logFileSize != 0 {
		cfg.Log.FileLogging.MaxSizeMB = logFileSize
	}
	if logFileBackups, err := flags.GetInt("log-file-max-backups"); err == nil && logFileBackups != 0 {
		cfg.Log.FileLogging.MaxBackups = logFileBackups
	}
	if logFileAge, err := flags.GetInt("log-file-max-age"); err == nil && logFileAge != 0 {
		cfg.Log.FileLogging.MaxAgeDays = logFileAge
	}
	if logFileCompress, err := flags.GetBool("log-file-compress"); err == nil && flags.Changed("log-file-compress") {
		cfg.Log.FileLogging.Compress = logFileCompress
	}
	if output, err := flags.GetString("output"); err == nil && output != "" {
		cfg.Output.Mode = output
	}
	if silence, err := flags.GetBool("silence"); err == nil && flags.Changed("silence") {
		cfg.Output.Silence = silence
	}
	if urls, err := flags.GetStringSlice("notify-url"); err == nil && len(urls) > 0 {
		cfg.Notify.URLs = urls
	}
	if db, err := flags.GetString("db"); err == nil && db != "" {
		cfg.Storage.Path = db
	}

	if apiEnable, err := flags.GetBool("api-enable"); err == nil && flags.Changed("api-enable") {
		cfg.API.Enable = apiEnable
	}
	if listen, err := flags.GetString("api-listen"); err == nil && listen != "" {
		cfg.API.Listen = listen
	}
	if port, err := flags.GetInt("api-port"); err == nil && port != 0 {
		cfg.API.Port = port
	}
	if basePath, err := flags.GetString("api-base-path"); err == nil && basePath != "" {
		cfg.API.BasePath = basePath
	}
	if token, err := flags.GetString("api-token"); err == nil && token != "" {
		cfg.API.Token = token
	}

	return cfg, nil
}

func runServer(cmd *cobra.Command, v *viper.Viper) error {
	cfg, err := loadConfig(cmd, v)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log := logger.NewLogger(&cfg.Log, &cfg.Output)

	printStartupBanner(os.Stdout, cfg)
	log.Info("ReplayTap starting",
		"version", version,
		"mode", cfg.Replay.Mode,
		"client_replay", cfg.Replay.ClientReplay,
		"api_enable", cfg.API.Enable,
		"api_port", cfg.API.Port,
		"log_level", cfg.Log.Level,
		"notify_urls", cfg.Notify.URLs,
		"storage", cfg.Storage.Path,
	)

	srv, err := server.New(cfg, log)
	if err != nil {
		return err
	}
	return srv.Start()
}

func showVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "ReplayTap version %s\n", version)
	fmt.Fprintf(out, "Commit: %s\n", commit)
	fmt.Fprintf(out, "Built: %s\n", buildDate)
}

func main() {
	if err := newRootCmd(viper.GetViper()).Execute(); err != nil {
		os.Exit(1)
	}
}
