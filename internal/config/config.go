package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	dserrors "github.com/systmms/rotator/internal/errors"
	"github.com/systmms/rotator/internal/logging"
	"gopkg.in/yaml.v3"
)

// CurrentVersion is the only supported configuration version.
const CurrentVersion = 1

// Built-in plan defaults, used when neither the plan nor the defaults block
// sets a value.
const (
	DefaultRotationThreshold = 14 * Day
	DefaultRotationPeriod    = 30 * Day
)

// Config holds the runtime configuration
type Config struct {
	Path       string
	Logger     *logging.Logger
	Definition *Definition
}

// Definition represents the rotation-plans.yaml structure
type Definition struct {
	Version  int                    `yaml:"version"`
	Defaults Defaults               `yaml:"defaults,omitempty"`
	Stores   map[string]StoreConfig `yaml:"stores"`
	Plans    []PlanConfig           `yaml:"plans"`
}

// Defaults apply to every plan that does not override them.
type Defaults struct {
	RotationThreshold *Duration `yaml:"rotationThreshold,omitempty"`
	RotationPeriod    *Duration `yaml:"rotationPeriod,omitempty"`
	RevokeAfterPeriod *Duration `yaml:"revokeAfterPeriod,omitempty"`
}

// StoreConfig holds store-specific configuration. Everything except type is
// handed to the store factory.
type StoreConfig struct {
	Type   string                 `yaml:"type"`
	Config map[string]interface{} `yaml:",inline"`
}

// PlanConfig describes one rotation plan.
type PlanConfig struct {
	Name              string            `yaml:"name"`
	Origin            string            `yaml:"origin"`
	Primary           string            `yaml:"primary,omitempty"`
	Secondaries       []SecondaryConfig `yaml:"secondaries,omitempty"`
	RotationThreshold *Duration         `yaml:"rotationThreshold,omitempty"`
	RotationPeriod    *Duration         `yaml:"rotationPeriod,omitempty"`
	RevokeAfterPeriod *Duration         `yaml:"revokeAfterPeriod,omitempty"`
	Tags              []string          `yaml:"tags,omitempty"`
}

// SecondaryConfig references a secondary store. A bare store name is accepted
// as shorthand for a secondary written before the primary.
type SecondaryConfig struct {
	Store              string `yaml:"store"`
	UpdateAfterPrimary bool   `yaml:"updateAfterPrimary,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler
func (s *SecondaryConfig) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&s.Store)
	}
	type plain SecondaryConfig
	return node.Decode((*plain)(s))
}

// Load reads, schema-validates and checks the configuration file
func (c *Config) Load() error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.ConfigError{
				Field:      "path",
				Value:      c.Path,
				Message:    "configuration file not found",
				Suggestion: "Pass --config or create rotation-plans.yaml in the working directory",
			}
		}
		return dserrors.UserError{
			Message:    "Failed to read configuration file",
			Details:    err.Error(),
			Suggestion: "Check file permissions and path",
			Err:        err,
		}
	}

	def, err := Parse(data)
	if err != nil {
		return err
	}

	if c.Logger != nil {
		c.Logger.Debug("Loaded %d stores and %d plans from %s", len(def.Stores), len(def.Plans), c.Path)
	}
	c.Definition = def
	return nil
}

// Parse validates data against the schema, decodes it and checks references
// between plans and stores.
func Parse(data []byte) (*Definition, error) {
	if err := validateSchema(data); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, yamlError(err)
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the constraints the schema cannot express.
func (d *Definition) Validate() error {
	if d.Version != CurrentVersion {
		return dserrors.ConfigError{
			Field:      "version",
			Value:      d.Version,
			Message:    "unsupported configuration version",
			Suggestion: fmt.Sprintf("Set 'version: %d' at the top of the file", CurrentVersion),
		}
	}

	seen := make(map[string]bool, len(d.Plans))
	for i, plan := range d.Plans {
		field := fmt.Sprintf("plans[%d]", i)
		if seen[plan.Name] {
			return dserrors.ConfigError{
				Field:   field + ".name",
				Value:   plan.Name,
				Message: "duplicate plan name",
			}
		}
		seen[plan.Name] = true

		if err := d.checkStoreRef(field+".origin", plan.Origin); err != nil {
			return err
		}
		if plan.Primary != "" {
			if err := d.checkStoreRef(field+".primary", plan.Primary); err != nil {
				return err
			}
		}

		used := map[string]bool{plan.PrimaryStore(): true}
		for j, secondary := range plan.Secondaries {
			secField := fmt.Sprintf("%s.secondaries[%d]", field, j)
			if err := d.checkStoreRef(secField, secondary.Store); err != nil {
				return err
			}
			if used[secondary.Store] {
				return dserrors.ConfigError{
					Field:      secField,
					Value:      secondary.Store,
					Message:    "store is already the primary or another secondary of this plan",
					Suggestion: "List each store once per plan",
				}
			}
			used[secondary.Store] = true
		}
	}
	return nil
}

func (d *Definition) checkStoreRef(field, name string) error {
	if _, ok := d.Stores[name]; ok {
		return nil
	}
	return dserrors.ConfigError{
		Field:      field,
		Value:      name,
		Message:    "unknown store",
		Suggestion: "Available stores: " + strings.Join(d.StoreNames(), ", "),
	}
}

// StoreNames returns the configured store names in sorted order
func (d *Definition) StoreNames() []string {
	names := make([]string, 0, len(d.Stores))
	for name := range d.Stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PrimaryStore returns the primary store name; it defaults to the origin.
func (p PlanConfig) PrimaryStore() string {
	if p.Primary != "" {
		return p.Primary
	}
	return p.Origin
}

// HasTag reports whether the plan carries tag.
func (p PlanConfig) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Settings is the effective timing of one plan after defaults are applied.
type Settings struct {
	RotationThreshold time.Duration
	RotationPeriod    time.Duration
	RevokeAfterPeriod *time.Duration
}

// EffectiveSettings resolves plan overrides, then the defaults block, then the
// built-in defaults.
func (d *Definition) EffectiveSettings(p PlanConfig) Settings {
	s := Settings{
		RotationThreshold: pick(p.RotationThreshold, d.Defaults.RotationThreshold, DefaultRotationThreshold),
		RotationPeriod:    pick(p.RotationPeriod, d.Defaults.RotationPeriod, DefaultRotationPeriod),
	}
	switch {
	case p.RevokeAfterPeriod != nil:
		v := p.RevokeAfterPeriod.Std()
		s.RevokeAfterPeriod = &v
	case d.Defaults.RevokeAfterPeriod != nil:
		v := d.Defaults.RevokeAfterPeriod.Std()
		s.RevokeAfterPeriod = &v
	}
	return s
}

func pick(plan, defaults *Duration, builtin time.Duration) time.Duration {
	if plan != nil {
		return plan.Std()
	}
	if defaults != nil {
		return defaults.Std()
	}
	return builtin
}
