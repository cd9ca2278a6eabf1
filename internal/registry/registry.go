// Package registry holds the static pass table: identities, dependencies,
// budgets, and progress percentages for every stage of the valuation pipeline.
package registry

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/valuation-pipeline/internal/model"
)

//go:embed passes.yaml
var passesYAML []byte

// Kind distinguishes typed-JSON extraction passes from free-text narrative
// passes.
type Kind string

const (
	KindExtraction Kind = "extraction"
	KindNarrative  Kind = "narrative"
)

// Section is one narrative sub-pass within a narrative pass.
type Section struct {
	Key        string `yaml:"key"`
	Title      string `yaml:"title"`
	WordTarget int    `yaml:"word_target"`
	DependsOn  []int  `yaml:"depends_on"`
}

// Pass is one stage of the pipeline.
type Pass struct {
	ID          int       `yaml:"id"`
	Key         string    `yaml:"key"`
	Name        string    `yaml:"name"`
	Kind        Kind      `yaml:"kind"`
	DependsOn   []int     `yaml:"depends_on"`
	TokenBudget int64     `yaml:"token_budget"`
	Temperature float64   `yaml:"temperature"`
	Research    bool      `yaml:"research"`
	Progress    int       `yaml:"progress"`
	Sections    []Section `yaml:"sections"`
}

// OutputKeys returns the pass-output map keys this pass produces: the integer
// id for extraction passes, composite "id:section" keys for narrative passes.
func (p Pass) OutputKeys() []string {
	if p.Kind != KindNarrative {
		return []string{fmt.Sprintf("%d", p.ID)}
	}
	keys := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		keys = append(keys, fmt.Sprintf("%d:%s", p.ID, s.Key))
	}
	return keys
}

// Registry is the loaded, validated pass table.
type Registry struct {
	passes []Pass
}

type passFile struct {
	Passes []Pass `yaml:"passes"`
}

// Load parses and validates the embedded pass table.
func Load() (*Registry, error) {
	var f passFile
	if err := yaml.Unmarshal(passesYAML, &f); err != nil {
		return nil, eris.Wrap(err, "registry: parse passes")
	}
	if err := validate(f.Passes); err != nil {
		return nil, err
	}
	return &Registry{passes: f.Passes}, nil
}

func validate(passes []Pass) error {
	if len(passes) == 0 {
		return eris.New("registry: no passes defined")
	}
	lastProgress := 0
	for i, p := range passes {
		if p.ID != i {
			return eris.Errorf("registry: pass %q has id %d, want %d", p.Key, p.ID, i)
		}
		if p.Key == "" {
			return eris.Errorf("registry: pass %d has no key", p.ID)
		}
		if p.TokenBudget <= 0 {
			return eris.Errorf("registry: pass %q has no token budget", p.Key)
		}
		for _, dep := range p.DependsOn {
			if dep >= p.ID {
				return eris.Errorf("registry: pass %q depends on pass %d which does not precede it", p.Key, dep)
			}
			if dep < 0 {
				return eris.Errorf("registry: pass %q has negative dependency", p.Key)
			}
		}
		if p.Kind == KindNarrative && len(p.Sections) == 0 {
			return eris.Errorf("registry: narrative pass %q has no sections", p.Key)
		}
		if p.Progress < lastProgress || p.Progress > 100 {
			return eris.Errorf("registry: pass %q progress %d is not monotonic within 0-100", p.Key, p.Progress)
		}
		lastProgress = p.Progress
	}
	return nil
}

// Passes returns the full ordered pass list.
func (r *Registry) Passes() []Pass {
	return r.passes
}

// Pass looks up a pass by id.
func (r *Registry) Pass(id int) (Pass, bool) {
	if id < 0 || id >= len(r.passes) {
		return Pass{}, false
	}
	return r.passes[id], true
}

// TotalPasses is the number of pipeline stages.
func (r *Registry) TotalPasses() int {
	return len(r.passes)
}

// Progress returns the static progress percentage for a report's state.
func (r *Registry) Progress(status model.ReportStatus, currentPass int) int {
	switch status {
	case model.ReportStatusCompleted:
		return 100
	case model.ReportStatusFailed, model.ReportStatusCancelled:
		// Hold at the last observed pass percentage.
	case model.ReportStatusPending:
		return 0
	}
	if currentPass < 0 {
		return 0
	}
	if currentPass >= len(r.passes) {
		// All passes done; finalization (engine + gates) is the last 10%.
		return 95
	}
	return r.passes[currentPass].Progress
}

// ExtractionKeys returns the output keys of all extraction passes.
func (r *Registry) ExtractionKeys() []string {
	var keys []string
	for _, p := range r.passes {
		if p.Kind == KindExtraction {
			keys = append(keys, p.OutputKeys()...)
		}
	}
	return keys
}

// NarrativeKeys returns the composite output keys of all narrative sections.
func (r *Registry) NarrativeKeys() []string {
	var keys []string
	for _, p := range r.passes {
		if p.Kind == KindNarrative {
			keys = append(keys, p.OutputKeys()...)
		}
	}
	return keys
}

// AllKeys returns every output key the full pipeline produces, in pass order.
func (r *Registry) AllKeys() []string {
	var keys []string
	for _, p := range r.passes {
		keys = append(keys, p.OutputKeys()...)
	}
	return keys
}

// MissingOutputs reports which of the given keys are absent from the report,
// sorted for stable diagnostics.
func MissingOutputs(report *model.Report, keys []string) []string {
	var missing []string
	for _, k := range keys {
		if _, ok := report.PassOutputs[k]; !ok {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// DependencyKeys returns the output keys of a pass's declared dependencies.
// Narrative sections narrow the pass-level list to their own declared subset.
func (r *Registry) DependencyKeys(p Pass, section string) []string {
	deps := p.DependsOn
	if section != "" {
		for _, s := range p.Sections {
			if s.Key == section && s.DependsOn != nil {
				deps = s.DependsOn
				break
			}
		}
	}
	var keys []string
	for _, dep := range deps {
		if dp, ok := r.Pass(dep); ok {
			keys = append(keys, dp.OutputKeys()...)
		}
	}
	return keys
}
