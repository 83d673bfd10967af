package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/feedview/internal/config"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	prettyLogs bool
	rootCmd    = &cobra.Command{
		Use:   "feedview",
		Short: "feedview - reassemble and show frames from a decoder's raw output",
		Long: `feedview reads the byte stream an external decoder writes to a pipe,
cuts it back into whole frames and presents them.

Features:
  • Fixed-size, marker-delimited and length-prefixed framing
  • Resynchronization after corrupt or truncated input
  • MJPEG stream and snapshot endpoints over HTTP
  • Optional X11 preview window
  • Overlay widgets drawn on every frame
  • Prometheus metrics and live stats over WebSocket`,
		SilenceUsage: true,
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/feedview/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty", false, "human-readable log output")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file, applies environment and flag overrides
// and initializes logging from the result
func loadConfig() (*config.Manager, *config.Config, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg, err := configMgr.Effective()
	if err != nil {
		return nil, nil, err
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		if port := viper.GetInt("server_port"); port > 0 {
			cfg.ServerPort = port
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		if level := viper.GetString("log_level"); level != "" {
			cfg.LogLevel = level
		}
	}

	logger.Init(cfg.LogLevel, prettyLogs)
	return configMgr, cfg, nil
}
