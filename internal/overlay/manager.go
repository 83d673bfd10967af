package overlay

import (
	"fmt"
	"image"
	"sort"
	"sync"

	"github.com/bryanchriswhite/feedview/internal/logger"
)

// Manager handles overlay widgets and rendering
type Manager struct {
	widgets map[string]Widget
	stats   StatsFunc
	mu      sync.RWMutex
	enabled bool
}

// NewManager creates a new overlay manager. stats feeds "stats" widgets and
// may be nil when none are configured.
func NewManager(stats StatsFunc) *Manager {
	return &Manager{
		widgets: make(map[string]Widget),
		stats:   stats,
		enabled: true,
	}
}

// AddWidget adds a widget to the overlay
func (m *Manager) AddWidget(widget Widget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[widget.ID()]; exists {
		return fmt.Errorf("widget with ID %s already exists", widget.ID())
	}

	m.widgets[widget.ID()] = widget
	logger.WithComponent("overlay").Info().Str("id", widget.ID()).Str("type", widget.Type()).Msg("Added widget")
	return nil
}

// RemoveWidget removes a widget from the overlay
func (m *Manager) RemoveWidget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.widgets[id]; !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	delete(m.widgets, id)
	logger.WithComponent("overlay").Info().Str("id", id).Msg("Removed widget")
	return nil
}

// GetWidget retrieves a widget by ID
func (m *Manager) GetWidget(id string) (Widget, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widget, exists := m.widgets[id]
	return widget, exists
}

// GetAllWidgets returns all widgets ordered by ID
func (m *Manager) GetAllWidgets() []Widget {
	m.mu.RLock()
	defer m.mu.RUnlock()

	widgets := make([]Widget, 0, len(m.widgets))
	for _, widget := range m.widgets {
		widgets = append(widgets, widget)
	}
	sort.Slice(widgets, func(i, j int) bool { return widgets[i].ID() < widgets[j].ID() })
	return widgets
}

// UpdateWidget updates a widget's configuration
func (m *Manager) UpdateWidget(id string, config map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	widget, exists := m.widgets[id]
	if !exists {
		return fmt.Errorf("widget with ID %s not found", id)
	}
	if err := widget.UpdateConfig(config); err != nil {
		return fmt.Errorf("failed to update widget config: %w", err)
	}

	logger.WithComponent("overlay").Info().Str("id", id).Msg("Updated widget")
	return nil
}

// SetEnabled enables or disables the entire overlay
func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
	logger.WithComponent("overlay").Info().Bool("enabled", enabled).Msg("Overlay toggled")
}

// IsEnabled reports whether the overlay is enabled and has widgets to draw
func (m *Manager) IsEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled && len(m.widgets) > 0
}

// Render renders all enabled widgets onto the provided image, in ID order
func (m *Manager) Render(img *image.RGBA) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.enabled {
		return nil
	}

	ids := make([]string, 0, len(m.widgets))
	for id := range m.widgets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		widget := m.widgets[id]
		if !widget.IsEnabled() {
			continue
		}
		if err := widget.Render(img); err != nil {
			logger.WithComponent("overlay").Warn().Err(err).Str("id", id).Msg("Failed to render widget")
		}
	}
	return nil
}

// CreateWidget creates a new widget instance from configuration
func (m *Manager) CreateWidget(widgetType string, id string, config map[string]interface{}) (Widget, error) {
	var widget Widget
	var err error

	switch widgetType {
	case "text":
		widget, err = NewTextWidget(id, config)
	case "stats":
		widget, err = NewStatsWidget(id, m.stats, config)
	default:
		return nil, fmt.Errorf("unknown widget type: %s", widgetType)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create %s widget: %w", widgetType, err)
	}
	return widget, nil
}

// LoadFromConfig creates widgets from their configuration maps. Invalid
// entries are logged and skipped; the number of widgets added is returned.
func (m *Manager) LoadFromConfig(configs []map[string]interface{}) int {
	log := logger.WithComponent("overlay")
	added := 0
	for _, config := range configs {
		widgetType, ok := config["type"].(string)
		if !ok {
			log.Warn().Msg("Skipping widget with missing type")
			continue
		}

		id, ok := config["id"].(string)
		if !ok {
			log.Warn().Str("type", widgetType).Msg("Skipping widget with missing ID")
			continue
		}

		widget, err := m.CreateWidget(widgetType, id, config)
		if err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to create widget")
			continue
		}

		if err := m.AddWidget(widget); err != nil {
			log.Warn().Err(err).Str("id", id).Msg("Failed to add widget")
			continue
		}
		added++
	}
	return added
}

// ExportConfig exports all widget configurations
func (m *Manager) ExportConfig() []map[string]interface{} {
	widgets := m.GetAllWidgets()
	configs := make([]map[string]interface{}, 0, len(widgets))
	for _, widget := range widgets {
		configs = append(configs, widget.GetConfig())
	}
	return configs
}

// Clear removes all widgets
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.widgets = make(map[string]Widget)
	logger.WithComponent("overlay").Info().Msg("Cleared all widgets")
}

// GetAvailableWidgetTypes returns a list of available widget types
func (m *Manager) GetAvailableWidgetTypes() []map[string]interface{} {
	return []map[string]interface{}{
		{
			"type":        "text",
			"name":        "Text Label",
			"description": "Display custom text on the frame",
			"config_schema": map[string]interface{}{
				"text":       "string (required)",
				"x":          "int (position)",
				"y":          "int (position)",
				"opacity":    "float (0.0-1.0)",
				"enabled":    "bool",
				"color":      "object {r, g, b, a}",
				"background": "object {r, g, b, a} (optional)",
				"padding":    "int",
			},
		},
		{
			"type":        "stats",
			"name":        "Pipeline Stats",
			"description": "Display frame rate, corrupt frames and resyncs",
			"config_schema": map[string]interface{}{
				"label":         "string (optional) - first line",
				"show_buffered": "bool - include buffered and dropped bytes",
				"x":             "int (position)",
				"y":             "int (position)",
				"opacity":       "float (0.0-1.0)",
				"enabled":       "bool",
				"color":         "object {r, g, b, a}",
				"background":    "object {r, g, b, a}",
			},
		},
	}
}
