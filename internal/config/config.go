package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models fabline.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id"`
		Kind string `yaml:"kind"`
	} `yaml:"project"`
	Payments struct {
		// Staged stage definitions, applied at approval time. Percentages
		// must sum to exactly 100. The first stage gates fabrication.
		Staged []StageDef `yaml:"staged"`
	} `yaml:"payments"`
	Revisions struct {
		// SingleOpen enforces at most one unresolved revision per project.
		SingleOpen *bool `yaml:"single_open"`
	} `yaml:"revisions"`
	Roles    map[string]Role `yaml:"roles"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type StageDef struct {
	Label      string `yaml:"label" json:"label"`
	Percentage int    `yaml:"percentage" json:"percentage"`
}

type Role struct {
	Description string   `yaml:"description"`
	Actions     []string `yaml:"actions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// SingleOpenRevision reports whether the single-open-revision constraint is
// active. Defaults to true when unset.
func (c *Config) SingleOpenRevision() bool {
	if c == nil || c.Revisions.SingleOpen == nil {
		return true
	}
	return *c.Revisions.SingleOpen
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with fab config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "fabrication-project" {
		return fmt.Errorf("config.project.kind must be 'fabrication-project'")
	}
	if len(c.Payments.Staged) == 0 {
		return fmt.Errorf("config.payments.staged is required")
	}
	sum := 0
	for i, s := range c.Payments.Staged {
		if s.Label == "" {
			return fmt.Errorf("payments.staged[%d] has empty label", i)
		}
		if s.Percentage <= 0 || s.Percentage > 100 {
			return fmt.Errorf("payments.staged[%d] percentage %d out of range", i, s.Percentage)
		}
		sum += s.Percentage
	}
	if sum != 100 {
		return fmt.Errorf("payments.staged percentages sum to %d, must be 100", sum)
	}
	for roleID, role := range c.Roles {
		if roleID == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		for _, action := range role.Actions {
			if action == "" {
				return fmt.Errorf("role %s has empty action id", roleID)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" && (hook.Enabled == nil || *hook.Enabled) {
			return fmt.Errorf("webhooks[%d] has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "fabline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "fabrication-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
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

const defaultTemplate = `project:
  id: %s
  kind: fabrication-project

payments:
  staged:
    - label: downpayment
      percentage: 30
    - label: progress
      percentage: 40
    - label: completion
      percentage: 30

revisions:
  single_open: true

roles:
  admin:
    description: "Full access"
    actions: ["*"]
  sales:
    description: "Converts appointments into projects"
    actions: [project.create, project.cancel, project.read]
  engineer:
    description: "Produces blueprints and costings"
    actions: [blueprint.attach, costing.attach, project.submit, project.read]
  customer:
    description: "Approves or requests revisions"
    actions: [project.submit, project.approve, project.revise, project.read]
  cashier:
    description: "Verifies payment stages"
    actions: [payment.update, project.read]
  fabrication:
    description: "Runs the shop floor"
    actions: [project.fabricate, project.complete, project.read]
`
