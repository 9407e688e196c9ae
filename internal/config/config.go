package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Source kinds understood by SourceConfig.Kind.
const (
	SourceMemory = "memory"
	SourceHTTP   = "http"
	SourceICS    = "ics"
)

// DefaultPalette is the positional technician color list.
var DefaultPalette = []string{
	"#2563eb", "#16a34a", "#d97706", "#9333ea",
	"#dc2626", "#0891b2", "#4f46e5", "#65a30d",
}

// ICSConfig describes a single ICS appointment feed.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
}

// SourceConfig selects where appointments come from and where reschedules
// are persisted.
type SourceConfig struct {
	// Kind is one of "memory" (demo data), "http" (dispatch API) or "ics".
	Kind string `yaml:"kind" json:"kind"`

	// BaseURL / Token configure the dispatch API client (kind=http).
	BaseURL string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	Token   string `yaml:"token,omitempty" json:"token,omitempty"`

	// ICS feeds (kind=ics). ICS sources are read-only; reschedules are
	// persisted through BaseURL when it is set.
	ICS      []ICSConfig `yaml:"ics,omitempty" json:"ics,omitempty"`
	CacheDir string      `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty"`
	// MaxOccurrences caps recurring visit expansion per series; 0 uses
	// the built-in cap.
	MaxOccurrences int `yaml:"max_occurrences,omitempty" json:"max_occurrences,omitempty"`
}

// GridConfig controls the resource/day grid geometry in pixels.
type GridConfig struct {
	// StartHour is the first displayed hour. EndHour may exceed 24 for
	// grids that run past midnight.
	StartHour      int     `yaml:"start_hour" json:"start_hour"`
	EndHour        int     `yaml:"end_hour" json:"end_hour"`
	RowHeight      float64 `yaml:"row_height" json:"row_height"`
	MinEventHeight float64 `yaml:"min_event_height" json:"min_event_height"`
	Gap            float64 `yaml:"gap" json:"gap"`
	ColumnWidth    float64 `yaml:"column_width" json:"column_width"`
}

// CaptureConfig controls the headless preview snapshot.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	OutputPath string `yaml:"output_path" json:"output_path"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// WorkTimezone is the IANA zone all schedule times are shown in.
	WorkTimezone string `yaml:"work_timezone" json:"work_timezone"`

	// ViewerTimezone is the dispatcher's own zone; used only for the
	// wall-clock offset diff. Empty means the host's local zone.
	ViewerTimezone string `yaml:"viewer_timezone" json:"viewer_timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays / BackfillDays bound the fetched appointment window.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// ClickWindowMs is the single/double click disambiguation window.
	ClickWindowMs int `yaml:"click_window_ms" json:"click_window_ms"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Palette []string `yaml:"palette" json:"palette"`

	Grid    GridConfig    `yaml:"grid" json:"grid"`
	Source  SourceConfig  `yaml:"source" json:"source"`
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:        "127.0.0.1:8080",
		WorkTimezone:  "America/Chicago",
		RefreshCron:   "*/5 * * * *",
		HorizonDays:   35,
		BackfillDays:  7,
		ClickWindowMs: 200,
		LogLevel:      "info",
		Palette:       append([]string(nil), DefaultPalette...),
		Grid: GridConfig{
			StartHour:      6,
			EndHour:        22,
			RowHeight:      60,
			MinEventHeight: 20,
			Gap:            2,
			ColumnWidth:    160,
		},
		Source: SourceConfig{
			Kind: SourceMemory,
		},
		Capture: CaptureConfig{
			Enabled:    false,
			OutputPath: "/var/lib/fieldcal/preview.png",
			Width:      1280,
			Height:     1100,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.WorkTimezone == "" {
		c.WorkTimezone = d.WorkTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.ClickWindowMs <= 0 {
		c.ClickWindowMs = d.ClickWindowMs
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if len(c.Palette) == 0 {
		c.Palette = d.Palette
	}

	g := &c.Grid
	if g.StartHour < 0 || g.StartHour > 23 {
		g.StartHour = d.Grid.StartHour
	}
	// A zero or inverted range falls back to a full day from StartHour.
	if g.EndHour <= g.StartHour {
		g.EndHour = g.StartHour + 24
	}
	if g.EndHour > g.StartHour+24 {
		g.EndHour = g.StartHour + 24
	}
	if g.RowHeight <= 0 {
		g.RowHeight = d.Grid.RowHeight
	}
	if g.MinEventHeight <= 0 {
		g.MinEventHeight = d.Grid.MinEventHeight
	}
	if g.Gap < 0 {
		g.Gap = 0
	}
	if g.ColumnWidth <= 0 {
		g.ColumnWidth = d.Grid.ColumnWidth
	}

	switch c.Source.Kind {
	case SourceMemory, SourceHTTP, SourceICS:
		// ok
	default:
		c.Source.Kind = SourceMemory
	}
	if c.Source.ICS == nil {
		c.Source.ICS = []ICSConfig{}
	}
	if c.Source.MaxOccurrences < 0 {
		c.Source.MaxOccurrences = 0
	}

	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = d.Capture.OutputPath
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = d.Capture.Width
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = d.Capture.Height
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".fieldcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method delegating to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
