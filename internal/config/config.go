package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models orderline.yml.
type Config struct {
	Catalog   []ServiceDef        `yaml:"catalog"`
	Templates map[string][]string `yaml:"templates"`
	Auth      struct {
		JWTSecret        string `yaml:"jwt_secret"`
		AllowActorHeader bool   `yaml:"allow_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ServiceDef seeds one catalog service. The catalog is read-only to the
// engine once seeded.
type ServiceDef struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Team       string `yaml:"team"`
	Mandatory  bool   `yaml:"mandatory"`
	AutoAssign struct {
		Enabled bool   `yaml:"enabled"`
		UserID  string `yaml:"user"`
	} `yaml:"auto_assign"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Load reads and validates config from the workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run 'ol config init' to generate a default", path)
		}
		return nil, err
	}
	return FromYAML(data)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Catalog) == 0 {
		return fmt.Errorf("config.catalog is required")
	}
	byID := map[string]ServiceDef{}
	for _, svc := range c.Catalog {
		if svc.ID == "" {
			return fmt.Errorf("config.catalog contains a service with empty id")
		}
		if svc.Name == "" {
			return fmt.Errorf("service %s has empty name", svc.ID)
		}
		if svc.Type != "direct" && svc.Type != "asking" {
			return fmt.Errorf("service %s has invalid type %q (want direct or asking)", svc.ID, svc.Type)
		}
		if svc.Type == "asking" && svc.Team == "" {
			return fmt.Errorf("asking service %s requires a team", svc.ID)
		}
		if svc.AutoAssign.Enabled && svc.AutoAssign.UserID == "" {
			return fmt.Errorf("service %s enables auto-assign without a target user", svc.ID)
		}
		if _, dup := byID[svc.ID]; dup {
			return fmt.Errorf("duplicate service id %s in catalog", svc.ID)
		}
		byID[svc.ID] = svc
	}
	if len(c.Templates) == 0 {
		return fmt.Errorf("config.templates is required")
	}
	for orderType, serviceIDs := range c.Templates {
		if orderType == "" {
			return fmt.Errorf("config.templates contains empty order type")
		}
		if len(serviceIDs) == 0 {
			return fmt.Errorf("template %s has no services", orderType)
		}
		seen := map[string]bool{}
		for _, id := range serviceIDs {
			if _, ok := byID[id]; !ok {
				return fmt.Errorf("template %s references unknown service %s", orderType, id)
			}
			if seen[id] {
				return fmt.Errorf("template %s lists service %s twice", orderType, id)
			}
			seen[id] = true
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// ServiceDef returns the catalog entry for a service id, if present.
func (c *Config) ServiceDef(id string) (ServiceDef, bool) {
	for _, svc := range c.Catalog {
		if svc.ID == id {
			return svc, true
		}
	}
	return ServiceDef{}, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "orderline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
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

const defaultTemplate = `catalog:
  - id: photo.editing
    name: "Photo Editing"
    type: direct
    team: editing
    mandatory: true

  - id: album.design
    name: "Album Design"
    type: direct
    team: design
    auto_assign:
      enabled: true
      user: designer-1

  - id: retouch.premium
    name: "Premium Retouch"
    type: direct
    team: editing

  - id: client.review
    name: "Client Review"
    type: asking
    team: customer-care
    mandatory: true

  - id: print.approval
    name: "Print Approval"
    type: asking
    team: customer-care

templates:
  standard: [photo.editing, album.design, client.review]
  premium: [photo.editing, album.design, retouch.premium, client.review, print.approval]

auth:
  jwt_secret: ""
  allow_actor_header: true
`
