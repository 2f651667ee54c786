package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"
)

//go:embed templates
var embedded embed.FS

// Template names.
const (
	Plan     = "plan.tmpl"
	Segment  = "segment.tmpl"
	Portrait = "portrait.tmpl"
)

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// Default returns a manager over the built-in templates.
func Default() (*Manager, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return NewManager(sub)
}

// NewManager creates a new prompt manager loading every .tmpl in fsys.
// Files under common/ are parsed first so their {{define}} blocks are shared.
func NewManager(fsys fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"persona": m.personaFunc,
	})

	if err := m.load(fsys, true); err != nil {
		return nil, fmt.Errorf("loading common templates: %w", err)
	}
	if err := m.load(fsys, false); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return m, nil
}

func (m *Manager) load(fsys fs.FS, common bool) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".tmpl") {
			return nil
		}
		if strings.HasPrefix(p, "common/") != common {
			return nil
		}

		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}

		t := m.root
		if !common {
			t = m.root.New(p)
		}
		if _, err := t.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

// Render executes the named template with the provided data.
// Surrounding whitespace is trimmed and inner newlines collapse to single spaces.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.Join(strings.Fields(buf.String()), " "), nil
}

// personaFunc renders persona/<style>.tmpl, or persona/default.tmpl for unknown styles.
func (m *Manager) personaFunc(style any) (string, error) {
	name := strings.ToLower(strings.TrimSpace(fmt.Sprint(style)))
	t := m.root.Lookup(path.Join("persona", name+".tmpl"))
	if name == "" || t == nil {
		t = m.root.Lookup("persona/default.tmpl")
	}
	if t == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, nil); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}
