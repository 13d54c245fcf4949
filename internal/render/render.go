// Package render fills template content with record values using
// Django/Jinja-style syntax.
package render

import (
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// Renderer renders template content against a set of variables.
type Renderer interface {
	Render(content string, vars map[string]any) (string, error)
}

// Pongo renders with pongo2. Template sets are isolated per renderer so
// uploaded content cannot reach the filesystem loader.
type Pongo struct {
	set *pongo2.TemplateSet
}

// NewPongo returns a renderer with sandboxed include/import tags.
func NewPongo() *Pongo {
	set := pongo2.NewSet("templr", pongo2.MustNewLocalFileSystemLoader(""))
	set.BanTag("include")
	set.BanTag("import")
	set.BanTag("extends")
	set.BanTag("ssi")
	return &Pongo{set: set}
}

// Render compiles content and executes it with vars.
func (p *Pongo) Render(content string, vars map[string]any) (string, error) {
	tpl, err := p.set.FromString(content)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}
	out, err := tpl.Execute(pongo2.Context(vars))
	if err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return out, nil
}
