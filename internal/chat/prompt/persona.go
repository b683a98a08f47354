package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultPersonas []byte

var ErrUnknownPersona = errors.New("unknown avatar")

// Persona is a named support style appended to the system prompt.
type Persona struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Catalog struct {
	byName map[string]*Persona
}

type catalogFile struct {
	Personas []Persona `yaml:"personas"`
}

// LoadCatalog reads the persona catalog from path, or the built-in catalog
// when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	raw := defaultPersonas
	if path = strings.TrimSpace(path); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read persona catalog: %w", err)
		}
		raw = b
	}
	return ParseCatalog(raw)
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse persona catalog: %w", err)
	}
	c := &Catalog{byName: make(map[string]*Persona, len(f.Personas))}
	for i := range f.Personas {
		p := f.Personas[i]
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if key == "" {
			return nil, fmt.Errorf("persona %d: missing name", i)
		}
		if _, dup := c.byName[key]; dup {
			return nil, fmt.Errorf("persona %q: duplicate name", p.Name)
		}
		p.Description = strings.TrimSpace(p.Description)
		c.byName[key] = &p
	}
	return c, nil
}

// Lookup resolves an avatar name case-insensitively.
func (c *Catalog) Lookup(name string) (*Persona, error) {
	p, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPersona, name)
	}
	return p, nil
}

func (c *Catalog) Names() []string {
	out := make([]string, 0, len(c.byName))
	for k := range c.byName {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
