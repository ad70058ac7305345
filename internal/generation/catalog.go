package generation

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/phrazzld/scry-swarm/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// Catalog maps each component type to its generation parameters. Fields
// left empty on a component inherit from Defaults.
type Catalog struct {
	Defaults   Params                          `yaml:"defaults"`
	Components map[domain.ComponentType]Params `yaml:"components"`
}

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	c, err := ParseCatalog(defaultCatalogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded generation catalog is invalid: %v", err))
	}
	return c
}

// LoadCatalog reads a catalog from path. An empty path yields the default
// catalog.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read catalog %s: %v", ErrInvalidConfig, path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates YAML catalog data.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse catalog: %v", ErrInvalidConfig, err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	var errs []error
	if c.Defaults.Model == "" {
		errs = append(errs, errors.New("defaults.model is required"))
	}
	if err := checkParams("defaults", c.Defaults); err != nil {
		errs = append(errs, err)
	}
	for t, p := range c.Components {
		if !t.Valid() {
			errs = append(errs, fmt.Errorf("%w: %q", domain.ErrUnknownComponent, t))
			continue
		}
		if err := checkParams(string(t), p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func checkParams(name string, p Params) error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("%s: temperature %.2f out of range [0, 2]", name, p.Temperature)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("%s: max_tokens must not be negative", name)
	}
	return nil
}

// Params returns the effective parameters for t.
func (c *Catalog) Params(t domain.ComponentType) Params {
	p := c.Components[t]
	if p.Model == "" {
		p.Model = c.Defaults.Model
	}
	if p.Temperature == 0 {
		p.Temperature = c.Defaults.Temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = c.Defaults.MaxTokens
	}
	if p.Prompt == "" {
		p.Prompt = c.Defaults.Prompt
	}
	return p
}

// ParamsFor returns the effective parameters for each of types.
func (c *Catalog) ParamsFor(types []domain.ComponentType) map[domain.ComponentType]Params {
	out := make(map[domain.ComponentType]Params, len(types))
	for _, t := range types {
		out[t] = c.Params(t)
	}
	return out
}
