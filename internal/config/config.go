package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models planline.yml.
type Config struct {
	Portfolio struct {
		ID string `yaml:"id" json:"id"`
	} `yaml:"portfolio" json:"portfolio"`
	Skills struct {
		Catalog map[string]struct {
			Description string `yaml:"description" json:"description"`
		} `yaml:"catalog" json:"catalog"`
	} `yaml:"skills" json:"skills"`
	Planning struct {
		DefaultPriority int `yaml:"default_priority" json:"default_priority"`
		MaxPeriods      int `yaml:"max_periods" json:"max_periods"`
	} `yaml:"planning" json:"planning"`
	Projection struct {
		StoreScenarios bool `yaml:"store_scenarios" json:"store_scenarios"`
		StrictSkills   bool `yaml:"strict_skills" json:"strict_skills"`
	} `yaml:"projection" json:"projection"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with pl portfolio config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Portfolio.ID == "" {
		return fmt.Errorf("config.portfolio.id is required")
	}
	for skill := range c.Skills.Catalog {
		if skill == "" {
			return fmt.Errorf("config.skills.catalog contains empty skill name")
		}
	}
	if c.Projection.StrictSkills && len(c.Skills.Catalog) == 0 {
		return fmt.Errorf("config.projection.strict_skills requires a skills catalog")
	}
	if c.Planning.MaxPeriods <= 0 {
		return fmt.Errorf("config.planning.max_periods must be positive")
	}
	if c.Planning.DefaultPriority < 0 {
		return fmt.Errorf("config.planning.default_priority must not be negative")
	}
	return nil
}

// KnownSkill reports whether skill is allowed under the current config.
func (c *Config) KnownSkill(skill string) bool {
	if !c.Projection.StrictSkills {
		return true
	}
	_, ok := c.Skills.Catalog[skill]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "planline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(portfolioID string) string {
	return fmt.Sprintf(defaultTemplate, portfolioID)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a portfolio.
func Default(portfolioID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, portfolioID))).Decode(&cfg)
	cfg.Portfolio.ID = portfolioID
	return &cfg
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

const defaultTemplate = `portfolio:
  id: %s

skills:
  catalog:
    backend:
      description: "Server-side engineering"
    frontend:
      description: "Web and mobile UI engineering"
    design:
      description: "Product and interaction design"
    qa:
      description: "Testing and release verification"
    data:
      description: "Data engineering and analytics"
    ops:
      description: "Infrastructure and operations"

planning:
  default_priority: 100
  max_periods: 104

projection:
  store_scenarios: true
  strict_skills: false
`
