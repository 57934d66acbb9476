// Package curriculum describes the read-only course topology the progress
// engine tracks against: ordered modules with declared lesson counts, the
// successor each module unlocks, and the certification levels on offer.
// Topologies are authored outside the engine and loaded from YAML.
package curriculum

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/alem-hub/learning-progress/internal/domain/shared"
)

// MaxLessonsPerModule bounds declared lesson counts. Above 100 lessons a
// module one lesson short of done would round to 100%.
const MaxLessonsPerModule = 100

//go:embed default.yaml
var defaultYAML []byte

// Module is one unit of the curriculum.
type Module struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// Lessons is the declared lesson count progress is computed against.
	Lessons int `yaml:"lessons" json:"lessons"`

	// LessonIDs optionally pins the valid lesson ids. When empty any
	// lesson id is accepted.
	LessonIDs []string `yaml:"lesson_ids,omitempty" json:"lesson_ids,omitempty"`

	// Next is the module unlocked when this one reaches 100%.
	Next string `yaml:"next,omitempty" json:"next,omitempty"`
}

// Certification is a certification level learners can attempt.
type Certification struct {
	Level string `yaml:"level" json:"level"`
	Name  string `yaml:"name,omitempty" json:"name,omitempty"`
}

// document is the on-disk YAML shape.
type document struct {
	Modules        []Module        `yaml:"modules"`
	Certifications []Certification `yaml:"certifications"`
}

// Topology is a validated, immutable curriculum.
type Topology struct {
	modules        []Module
	certifications []Certification

	moduleIndex map[string]int
	lessonIndex map[string]map[string]struct{}
	certIndex   map[string]int
}

// New validates the given modules and certification levels and builds a
// Topology. Module order is significant: the first module starts unlocked.
func New(modules []Module, certifications []Certification) (*Topology, error) {
	t := &Topology{
		modules:        make([]Module, len(modules)),
		certifications: make([]Certification, len(certifications)),
		moduleIndex:    make(map[string]int, len(modules)),
		lessonIndex:    make(map[string]map[string]struct{}),
		certIndex:      make(map[string]int, len(certifications)),
	}
	copy(t.modules, modules)
	copy(t.certifications, certifications)

	if err := t.validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Parse decodes a YAML topology document.
func Parse(data []byte) (*Topology, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("curriculum: decode yaml: %w", err)
	}
	return New(doc.Modules, doc.Certifications)
}

// Load reads and parses a YAML topology file.
func Load(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("curriculum: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault loads path, or the embedded default curriculum when path is empty.
func LoadOrDefault(path string) (*Topology, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	return Load(path)
}

// Default returns the embedded default curriculum.
func Default() (*Topology, error) {
	return Parse(defaultYAML)
}

func (t *Topology) validate() error {
	if len(t.modules) == 0 {
		return shared.ErrEmptyCurriculum
	}

	for i, m := range t.modules {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("%w: module #%d has no id", shared.ErrInvalidInput, i+1)
		}
		if _, dup := t.moduleIndex[m.ID]; dup {
			return fmt.Errorf("%w: %q", shared.ErrDuplicateModule, m.ID)
		}
		if m.Lessons < 1 || m.Lessons > MaxLessonsPerModule {
			return fmt.Errorf("%w: module %q declares %d (allowed 1..%d)",
				shared.ErrInvalidLessonCount, m.ID, m.Lessons, MaxLessonsPerModule)
		}
		if len(m.LessonIDs) > 0 {
			if len(m.LessonIDs) != m.Lessons {
				return fmt.Errorf("%w: module %q declares %d lessons but lists %d ids",
					shared.ErrLessonListMismatch, m.ID, m.Lessons, len(m.LessonIDs))
			}
			set := make(map[string]struct{}, len(m.LessonIDs))
			for _, id := range m.LessonIDs {
				if _, dup := set[id]; dup || strings.TrimSpace(id) == "" {
					return fmt.Errorf("%w: module %q lesson id %q", shared.ErrLessonListMismatch, m.ID, id)
				}
				set[id] = struct{}{}
			}
			t.lessonIndex[m.ID] = set
		}
		if m.Name == "" {
			t.modules[i].Name = m.ID
		}
		t.moduleIndex[m.ID] = i
	}

	for _, m := range t.modules {
		if m.Next == "" {
			continue
		}
		if _, ok := t.moduleIndex[m.Next]; !ok {
			return fmt.Errorf("%w: %q -> %q", shared.ErrUnknownSuccessor, m.ID, m.Next)
		}
	}

	// Each module has at most one successor, so walking the chain from every
	// module finds any cycle within len(modules) steps.
	for _, m := range t.modules {
		seen := map[string]struct{}{m.ID: {}}
		for next := m.Next; next != ""; next = t.modules[t.moduleIndex[next]].Next {
			if _, loop := seen[next]; loop {
				return fmt.Errorf("%w: through %q", shared.ErrCyclicCurriculum, m.ID)
			}
			seen[next] = struct{}{}
		}
	}

	for i, c := range t.certifications {
		if strings.TrimSpace(c.Level) == "" {
			return fmt.Errorf("%w: certification #%d has no level", shared.ErrInvalidInput, i+1)
		}
		if _, dup := t.certIndex[c.Level]; dup {
			return fmt.Errorf("%w: %q", shared.ErrDuplicateCertLevel, c.Level)
		}
		t.certIndex[c.Level] = i
	}

	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// LOOKUPS
// ══════════════════════════════════════════════════════════════════════════════

// Module returns the module with the given id.
func (t *Topology) Module(id string) (Module, bool) {
	i, ok := t.moduleIndex[id]
	if !ok {
		return Module{}, false
	}
	return t.modules[i], true
}

// Modules returns the modules in declaration order.
func (t *Topology) Modules() []Module {
	out := make([]Module, len(t.modules))
	copy(out, t.modules)
	return out
}

// FirstModuleID returns the id of the entry module.
func (t *Topology) FirstModuleID() string {
	return t.modules[0].ID
}

// HasLesson reports whether lessonID is valid inside moduleID. Modules that
// do not pin lesson ids accept any non-empty id.
func (t *Topology) HasLesson(moduleID, lessonID string) bool {
	if _, ok := t.moduleIndex[moduleID]; !ok || lessonID == "" {
		return false
	}
	set, pinned := t.lessonIndex[moduleID]
	if !pinned {
		return true
	}
	_, ok := set[lessonID]
	return ok
}

// HasCertification reports whether level is offered.
func (t *Topology) HasCertification(level string) bool {
	_, ok := t.certIndex[level]
	return ok
}

// Certifications returns the certification levels in declaration order.
func (t *Topology) Certifications() []Certification {
	out := make([]Certification, len(t.certifications))
	copy(out, t.certifications)
	return out
}

// TotalLessons returns the sum of declared lesson counts.
func (t *Topology) TotalLessons() int {
	total := 0
	for _, m := range t.modules {
		total += m.Lessons
	}
	return total
}
