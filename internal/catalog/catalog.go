// Package catalog holds the fixed onboarding phase taxonomy and the template
// tasks each phase expects.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"propline/internal/domain"
	"propline/internal/field"
)

// PhaseCount is the number of phases every project walks through.
const PhaseCount = 9

//go:embed phases.yml
var defaultPhases []byte

type TaskDef struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description,omitempty"`
	FieldType   string `yaml:"type" json:"field_type"`
	// Category groups tasks for display; it has no effect on completion.
	Category string `yaml:"category" json:"category,omitempty"`
}

type Phase struct {
	Number      int       `yaml:"number" json:"number"`
	Title       string    `yaml:"title" json:"title"`
	Description string    `yaml:"description" json:"description"`
	Tasks       []TaskDef `yaml:"tasks" json:"tasks"`
}

// Categories returns the distinct display categories in first-seen order.
func (p Phase) Categories() []string {
	var out []string
	seen := map[string]bool{}
	for _, t := range p.Tasks {
		if t.Category == "" || seen[t.Category] {
			continue
		}
		seen[t.Category] = true
		out = append(out, t.Category)
	}
	return out
}

type Catalog struct {
	phases []Phase
	index  map[int]int
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Load(defaultPhases)
	if err != nil {
		panic(fmt.Sprintf("embedded phase catalog: %v", err))
	}
	return c
}

// Load parses and validates a catalog document.
func Load(data []byte) (*Catalog, error) {
	var doc struct {
		Phases []Phase `yaml:"phases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	if len(doc.Phases) != PhaseCount {
		return nil, fmt.Errorf("catalog must define %d phases, got %d", PhaseCount, len(doc.Phases))
	}
	sort.SliceStable(doc.Phases, func(i, j int) bool { return doc.Phases[i].Number < doc.Phases[j].Number })
	c := &Catalog{phases: doc.Phases, index: make(map[int]int, len(doc.Phases))}
	for i, p := range doc.Phases {
		if p.Number != i+1 {
			return nil, fmt.Errorf("phase numbers must run 1..%d, found %d at position %d", PhaseCount, p.Number, i+1)
		}
		if strings.TrimSpace(p.Title) == "" {
			return nil, fmt.Errorf("phase %d has no title", p.Number)
		}
		titles := map[string]bool{}
		for _, t := range p.Tasks {
			if strings.TrimSpace(t.Title) == "" {
				return nil, fmt.Errorf("phase %d has a task without title", p.Number)
			}
			if titles[t.Title] {
				return nil, fmt.Errorf("phase %d repeats task %q", p.Number, t.Title)
			}
			titles[t.Title] = true
			if !field.Valid(t.FieldType) {
				return nil, fmt.Errorf("phase %d task %q: unknown field type %q", p.Number, t.Title, t.FieldType)
			}
		}
		c.index[p.Number] = i
	}
	return c, nil
}

func (c *Catalog) Phases() []Phase {
	out := make([]Phase, len(c.phases))
	copy(out, c.phases)
	return out
}

func (c *Catalog) Phase(number int) (Phase, bool) {
	i, ok := c.index[number]
	if !ok {
		return Phase{}, false
	}
	return c.phases[i], true
}

// Title returns the phase title or an empty string for unknown phases.
func (c *Catalog) Title(number int) string {
	p, _ := c.Phase(number)
	return p.Title
}

// Templates flattens the catalog into template rows in display order.
func (c *Catalog) Templates() []domain.TaskTemplate {
	var out []domain.TaskTemplate
	for _, p := range c.phases {
		for i, t := range p.Tasks {
			out = append(out, domain.TaskTemplate{
				PhaseNumber: p.Number,
				Title:       t.Title,
				Description: t.Description,
				FieldType:   t.FieldType,
				Category:    t.Category,
				Position:    (i + 1) * 10,
			})
		}
	}
	return out
}

// TaskCount returns the number of template tasks across all phases.
func (c *Catalog) TaskCount() int {
	n := 0
	for _, p := range c.phases {
		n += len(p.Tasks)
	}
	return n
}
