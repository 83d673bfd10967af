package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/bryanchriswhite/feedview/internal/config"
	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage feedview configuration",
	Long:  `View and manage feedview configuration settings.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current feedview configuration, including FEEDVIEW_* environment overrides.`,
	Example: `  # Show configuration as YAML (default)
  feedview config show

  # Show configuration as JSON
  feedview config show --format json`,
	RunE: runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a configuration value",
	Long:  `Set a specific configuration value.`,
	Example: `  # Set server port
  feedview config set server_port 9090

  # Cut JPEG frames out of the stream
  feedview config set frame.mode marker
  feedview config set frame.start_marker ffd8

  # Raw 640x480 RGB frames
  feedview config set frame.mode fixed
  feedview config set frame.width 640`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configGetCmd = &cobra.Command{
	Use:   "get KEY",
	Short: "Get a configuration value",
	Long:  `Get a specific configuration value.`,
	Example: `  # Get server port
  feedview config get server_port

  # Get the frame mode
  feedview config get frame.mode`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigGet,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show configuration file path",
	Long:  `Display the path to the configuration file.`,
	RunE:  runConfigPath,
}

var formatFlag string

var (
	intKeys = map[string]bool{
		"server_port":                true,
		"frame.width":                true,
		"frame.height":               true,
		"frame.bytes_per_pixel":      true,
		"frame.length_bytes":         true,
		"frame.max_unresolved_bytes": true,
		"pipeline.fps":               true,
		"output.mjpeg.quality":       true,
		"output.display.width":       true,
		"output.display.height":      true,
	}
	stringKeys = map[string]bool{
		"source.command":     true,
		"source.probe":       true,
		"frame.mode":         true,
		"frame.start_marker": true,
		"frame.end_marker":   true,
		"frame.byte_order":   true,
	}
	boolKeys = map[string]bool{
		"output.mjpeg.enabled":   true,
		"output.display.enabled": true,
		"overlay.enabled":        true,
		"metrics.enabled":        true,
	}
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configPathCmd)

	configShowCmd.Flags().StringVarP(&formatFlag, "format", "f", "yaml", "output format (yaml or json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}

	switch formatFlag {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	case "yaml":
		encoder := yaml.NewEncoder(os.Stdout)
		encoder.SetIndent(2)
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (use 'yaml' or 'json')", formatFlag)
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value := args[1]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v, err := configMgr.GetViper()
	if err != nil {
		return err
	}

	// Handle different types
	switch {
	case key == "log_level":
		validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[value] {
			return fmt.Errorf("invalid log level: %s (use: trace, debug, info, warn, error)", value)
		}
		v.Set(key, value)
	case key == "frame.layout":
		if _, err := frame.ParseLayout(value); err != nil {
			return err
		}
		v.Set(key, value)
	case intKeys[key]:
		num, err := strconv.Atoi(value)
		if err != nil || num < 0 {
			return fmt.Errorf("invalid number: %s", value)
		}
		v.Set(key, num)
	case boolKeys[key]:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %s (use: true or false)", value)
		}
		v.Set(key, enabled)
	case stringKeys[key]:
		v.Set(key, value)
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}

	if err := configMgr.Apply(v); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Printf("✅ Configuration updated: %s = %s\n", key, value)
	return nil
}

func runConfigGet(cmd *cobra.Command, args []string) error {
	key := args[0]

	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	v, err := configMgr.GetViper()
	if err != nil {
		return err
	}
	if !v.IsSet(key) {
		return fmt.Errorf("configuration key not found: %s", key)
	}

	fmt.Println(v.Get(key))
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fmt.Println(configMgr.GetConfigPath())
	return nil
}
