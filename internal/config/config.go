package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models jointly.yml.
type Config struct {
	City string `yaml:"city"`
	FAR  struct {
		// Bands map a minimum road width (feet) to the granted FAR.
		// Widths below every band fall back to Base.
		Base  float64   `yaml:"base"`
		Bands []FARBand `yaml:"bands"`
	} `yaml:"far"`
	Feasibility struct {
		EfficiencyFactor float64 `yaml:"efficiency_factor"`
		SqFtPerUnit      float64 `yaml:"sqft_per_unit"`
		AllowedFloors    string  `yaml:"allowed_floors"`
	} `yaml:"feasibility"`
	Auth struct {
		BackendURL string `yaml:"backend_url"`
		JWTSecret  string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// FARBand grants a FAR to plots fronting a road at least MinRoadWidth wide.
type FARBand struct {
	MinRoadWidth float64 `yaml:"min_road_width"`
	FAR          float64 `yaml:"far"`
}

// WebhookConfig describes one event-log subscriber.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run jointly init or set --workspace", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if jointly.yml does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.FAR.Base <= 0 {
		return fmt.Errorf("config.far.base must be positive")
	}
	if len(c.FAR.Bands) == 0 {
		return fmt.Errorf("config.far.bands is required")
	}
	for i, b := range c.FAR.Bands {
		if b.MinRoadWidth <= 0 {
			return fmt.Errorf("config.far.bands[%d].min_road_width must be positive", i)
		}
		if b.FAR < c.FAR.Base {
			return fmt.Errorf("config.far.bands[%d].far below base FAR", i)
		}
	}
	if c.Feasibility.EfficiencyFactor <= 0 || c.Feasibility.EfficiencyFactor > 1 {
		return fmt.Errorf("config.feasibility.efficiency_factor must be in (0,1]")
	}
	if c.Feasibility.SqFtPerUnit <= 0 {
		return fmt.Errorf("config.feasibility.sqft_per_unit must be positive")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// SortedFARBands returns the bands widest-road-first, the order the
// calculator evaluates them in.
func (c *Config) SortedFARBands() []FARBand {
	bands := make([]FARBand, len(c.FAR.Bands))
	copy(bands, c.FAR.Bands)
	sort.Slice(bands, func(i, j int) bool { return bands[i].MinRoadWidth > bands[j].MinRoadWidth })
	return bands
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "jointly.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// The FAR bands are hardcoded observations, not cited regulation; keeping
// them in config lets a deployment correct or regionalize the table without
// touching the calculator.
const defaultTemplate = `city: Bangalore

far:
  base: 1.50
  bands:
    - min_road_width: 40
      far: 3.25
    - min_road_width: 30
      far: 2.75
    - min_road_width: 20
      far: 2.00
    - min_road_width: 12
      far: 1.75

feasibility:
  efficiency_factor: 0.75
  sqft_per_unit: 800
  allowed_floors: "Stilt + 4"

auth:
  backend_url: "http://127.0.0.1:8000"
  jwt_secret: ""

server:
  addr: ":8080"
  base_path: /v1

webhooks: []
`
