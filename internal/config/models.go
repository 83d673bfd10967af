package config

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bryanchriswhite/feedview/internal/frame"
	"github.com/bryanchriswhite/feedview/internal/logger"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. FEEDVIEW_FRAME_WIDTH
const EnvPrefix = "FEEDVIEW"

// Config represents the application configuration
type Config struct {
	Source     SourceConfig   `json:"source" yaml:"source" mapstructure:"source"`
	Frame      FrameConfig    `json:"frame" yaml:"frame" mapstructure:"frame"`
	Pipeline   PipelineConfig `json:"pipeline" yaml:"pipeline" mapstructure:"pipeline"`
	Output     OutputConfig   `json:"output" yaml:"output" mapstructure:"output"`
	Overlay    OverlayConfig  `json:"overlay" yaml:"overlay" mapstructure:"overlay"`
	Metrics    MetricsConfig  `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
	ServerPort int            `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	LogLevel   string         `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
}

// SourceConfig describes the external decoder
type SourceConfig struct {
	// Command is run through sh -c; its stdout is the frame stream
	Command string `json:"command" yaml:"command" mapstructure:"command"`
	// Probe prints stream caps so frame dimensions can be discovered
	Probe string `json:"probe,omitempty" yaml:"probe,omitempty" mapstructure:"probe"`
}

// FrameConfig describes how frames are delimited in the stream
type FrameConfig struct {
	Mode               string `json:"mode" yaml:"mode" mapstructure:"mode"`
	Width              int    `json:"width" yaml:"width" mapstructure:"width"`
	Height             int    `json:"height" yaml:"height" mapstructure:"height"`
	Layout             string `json:"layout" yaml:"layout" mapstructure:"layout"`
	BytesPerPixel      int    `json:"bytes_per_pixel,omitempty" yaml:"bytes_per_pixel,omitempty" mapstructure:"bytes_per_pixel"`
	StartMarker        string `json:"start_marker" yaml:"start_marker" mapstructure:"start_marker"`
	EndMarker          string `json:"end_marker" yaml:"end_marker" mapstructure:"end_marker"`
	LengthBytes        int    `json:"length_bytes" yaml:"length_bytes" mapstructure:"length_bytes"`
	ByteOrder          string `json:"byte_order" yaml:"byte_order" mapstructure:"byte_order"`
	MaxUnresolvedBytes int    `json:"max_unresolved_bytes" yaml:"max_unresolved_bytes" mapstructure:"max_unresolved_bytes"`
}

// PipelineConfig controls the host loop
type PipelineConfig struct {
	FPS int `json:"fps" yaml:"fps" mapstructure:"fps"`
}

// OutputConfig groups the presentation outputs
type OutputConfig struct {
	MJPEG   MJPEGConfig   `json:"mjpeg" yaml:"mjpeg" mapstructure:"mjpeg"`
	Display DisplayConfig `json:"display" yaml:"display" mapstructure:"display"`
}

// MJPEGConfig configures the HTTP Motion JPEG stream
type MJPEGConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Quality int  `json:"quality" yaml:"quality" mapstructure:"quality"`
}

// DisplayConfig configures the X11 preview window
type DisplayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Width   int  `json:"width" yaml:"width" mapstructure:"width"`
	Height  int  `json:"height" yaml:"height" mapstructure:"height"`
}

// OverlayConfig represents overlay configuration
type OverlayConfig struct {
	Enabled bool                     `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Widgets []map[string]interface{} `json:"widgets" yaml:"widgets" mapstructure:"widgets"`
}

// MetricsConfig toggles the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
}

// Spec converts the frame section into a validated frame spec
func (f FrameConfig) Spec() (frame.Spec, error) {
	var spec frame.Spec

	switch frame.Mode(strings.ToLower(f.Mode)) {
	case frame.ModeFixed:
		layout, err := frame.ParseLayout(f.Layout)
		if err != nil {
			return frame.Spec{}, err
		}
		spec = frame.FixedSize(f.Width, f.Height, layout)
		if f.BytesPerPixel != 0 {
			spec.BytesPerPixel = f.BytesPerPixel
		}
	case frame.ModeMarkers:
		start, err := parseMarker("start_marker", f.StartMarker)
		if err != nil {
			return frame.Spec{}, err
		}
		end, err := parseMarker("end_marker", f.EndMarker)
		if err != nil {
			return frame.Spec{}, err
		}
		spec = frame.Markers(start, end)
	case frame.ModeLengthPrefix:
		start, err := parseMarker("start_marker", f.StartMarker)
		if err != nil {
			return frame.Spec{}, err
		}
		order, err := parseByteOrder(f.ByteOrder)
		if err != nil {
			return frame.Spec{}, err
		}
		spec = frame.LengthPrefixed(start, f.LengthBytes, order)
	default:
		return frame.Spec{}, fmt.Errorf("unknown frame mode: %q (use fixed, marker or length)", f.Mode)
	}

	spec.MaxUnresolved = f.MaxUnresolvedBytes
	if err := spec.Validate(); err != nil {
		return frame.Spec{}, err
	}
	return spec, nil
}

// parseMarker decodes a hex marker such as "ffd8" or "FF D8"
func parseMarker(name, s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", "0x", "", "0X", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", name, s, err)
	}
	return b, nil
}

func parseByteOrder(s string) (binary.ByteOrder, error) {
	switch strings.ToLower(s) {
	case "", "big", "be", "big_endian":
		return binary.BigEndian, nil
	case "little", "le", "little_endian":
		return binary.LittleEndian, nil
	default:
		return nil, fmt.Errorf("invalid byte order: %q (use big or little)", s)
	}
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	actualConfigPath := filepath.Join(homeDir, ".config", "feedview", "config.yaml")
	if configFile != "" {
		actualConfigPath = configFile
	}

	if err := os.MkdirAll(filepath.Dir(actualConfigPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	m := &Manager{
		configPath: actualConfigPath,
	}

	if err := m.load(); err != nil {
		if os.IsNotExist(err) {
			logger.WithComponent("config").Info().
				Str("path", m.configPath).
				Msg("Config file not found, creating new config")
			m.config = Defaults()
			if err := m.Save(); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("frame_mode", m.config.Frame.Mode).
		Msg("Config loaded")

	return m, nil
}

// Defaults returns the default configuration: a JPEG stream on stdout
func Defaults() *Config {
	return &Config{
		Frame: FrameConfig{
			Mode:        string(frame.ModeMarkers),
			Layout:      string(frame.LayoutRGB24),
			StartMarker: "ffd8",
			EndMarker:   "ffd9",
			LengthBytes: 4,
			ByteOrder:   "big",
		},
		Pipeline: PipelineConfig{FPS: 30},
		Output: OutputConfig{
			MJPEG: MJPEGConfig{Enabled: true, Quality: 80},
			Display: DisplayConfig{
				Width:  1280,
				Height: 720,
			},
		},
		Overlay: OverlayConfig{
			Widgets: []map[string]interface{}{},
		},
		Metrics:    MetricsConfig{Enabled: true},
		ServerPort: 8080,
		LogLevel:   "info",
	}
}

// load reads the configuration from disk, filling unset fields with defaults
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Effective returns the configuration with FEEDVIEW_* environment overrides
// applied. The file on disk is not changed.
func (m *Manager) Effective() (*Config, error) {
	v, err := m.GetViper()
	if err != nil {
		return nil, err
	}
	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// GetViper exposes the current configuration through viper, keyed by the
// YAML names (frame.width, output.mjpeg.quality, ...)
func (m *Manager) GetViper() (*viper.Viper, error) {
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to load config into viper: %w", err)
	}
	return v, nil
}

// Apply decodes the viper settings back into the configuration and saves it
func (m *Manager) Apply(v *viper.Viper) error {
	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Overlay.Widgets == nil {
		cfg.Overlay.Widgets = []map[string]interface{}{}
	}
	return m.Update(cfg)
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = Defaults()
	}

	log := logger.WithComponent("config")
	log.Debug().Str("path", m.configPath).Msg("Saving config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Info().Str("path", m.configPath).Msg("Config saved successfully")
	return nil
}

// Update replaces the entire configuration and saves it
func (m *Manager) Update(cfg *Config) error {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return m.Save()
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
