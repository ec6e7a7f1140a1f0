// Package templates provides the node template catalog.
//
// The built-in catalog is embedded in the binary. Deployments can extend or
// override it with a YAML file of the same shape.
package templates

import (
	_ "embed"
	"fmt"
	"os"
	"sort"

	"github.com/aretw0/easel/pkg/domain"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

type catalogFile struct {
	Templates []domain.Template `yaml:"templates"`
}

// Catalog is an immutable, in-memory ports.TemplateCatalog.
type Catalog struct {
	byID  map[string]domain.Template
	order []string
}

// Builtin returns the embedded catalog.
func Builtin() (*Catalog, error) {
	return Parse(builtinYAML)
}

// MustBuiltin is like Builtin but panics on error. The embedded file is
// covered by tests, so this only fails on a broken build.
func MustBuiltin() *Catalog {
	c, err := Builtin()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse template catalog: %w", err)
	}
	c := &Catalog{byID: make(map[string]domain.Template)}
	for _, tpl := range file.Templates {
		if err := c.add(tpl); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Load returns the built-in catalog extended by the file at path.
// Templates in the file replace built-ins with the same id.
func Load(path string) (*Catalog, error) {
	base, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template catalog: %w", err)
	}
	extra, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for _, id := range extra.order {
		if err := base.add(extra.byID[id]); err != nil {
			return nil, err
		}
	}
	return base, nil
}

func (c *Catalog) add(tpl domain.Template) error {
	if err := validateTemplate(tpl); err != nil {
		return err
	}
	sort.SliceStable(tpl.Handles, func(i, j int) bool { return tpl.Handles[i].Order < tpl.Handles[j].Order })
	if _, exists := c.byID[tpl.ID]; !exists {
		c.order = append(c.order, tpl.ID)
	}
	c.byID[tpl.ID] = tpl
	return nil
}

func validateTemplate(tpl domain.Template) error {
	if tpl.ID == "" {
		return fmt.Errorf("template without id")
	}
	if !tpl.NodeType.Valid() {
		return fmt.Errorf("template %s: unknown node type %q", tpl.ID, tpl.NodeType)
	}
	if _, err := domain.DecodeConfig(tpl.NodeType, tpl.DefaultConfig); err != nil {
		return fmt.Errorf("template %s: default config: %w", tpl.ID, err)
	}
	seen := map[string]bool{}
	orders := map[int]bool{}
	for _, h := range tpl.Handles {
		if h.ID == "" || seen[h.ID] {
			return fmt.Errorf("template %s: missing or duplicate handle id %q", tpl.ID, h.ID)
		}
		seen[h.ID] = true
		if orders[h.Order] {
			return fmt.Errorf("template %s: duplicate handle order %d", tpl.ID, h.Order)
		}
		orders[h.Order] = true
		if !h.Type.Valid() {
			return fmt.Errorf("template %s: handle %s: invalid direction %q", tpl.ID, h.ID, h.Type)
		}
		if len(h.DataTypes) == 0 {
			return fmt.Errorf("template %s: handle %s: no data types", tpl.ID, h.ID)
		}
		for _, dt := range h.DataTypes {
			if !dt.Valid() {
				return fmt.Errorf("template %s: handle %s: unknown data type %q", tpl.ID, h.ID, dt)
			}
		}
	}
	return nil
}

// Get returns domain.ErrTemplateNotFound if templateID is unknown.
func (c *Catalog) Get(templateID string) (domain.Template, error) {
	tpl, ok := c.byID[templateID]
	if !ok {
		return domain.Template{}, fmt.Errorf("%w: %s", domain.ErrTemplateNotFound, templateID)
	}
	return tpl, nil
}

// List returns the templates in declaration order.
func (c *Catalog) List() []domain.Template {
	out := make([]domain.Template, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// ForType returns the first template declared for nodeType.
func (c *Catalog) ForType(nodeType domain.NodeType) (domain.Template, bool) {
	for _, id := range c.order {
		if tpl := c.byID[id]; tpl.NodeType == nodeType {
			return tpl, true
		}
	}
	return domain.Template{}, false
}
