package features

import "fmt"

// Registry holds the processor DAG for one analysis run. Stateful
// processors carry per-run state, so a Registry must not be shared between
// runs.
type Registry struct {
	processors map[string]Processor
	order      []string
}

func NewRegistry() *Registry {
	return &Registry{processors: map[string]Processor{}}
}

// Add registers a processor. Names are unique; re-registering a name fails.
func (r *Registry) Add(ps ...Processor) error {
	for _, p := range ps {
		if _, ok := r.processors[p.Name()]; ok {
			return fmt.Errorf("duplicate processor %q", p.Name())
		}
		r.processors[p.Name()] = p
	}
	r.order = nil
	return nil
}

func (r *Registry) Get(name string) Processor {
	return r.processors[name]
}

// Validate checks the graph and fixes the topological order used by
// Ordered. Every dependency must resolve to a registered extractor, frame
// extractors must be roots, and calculators must be leaves.
func (r *Registry) Validate() error {
	for name, p := range r.processors {
		dep := p.DependsOn()
		if _, isFrame := p.(FrameExtractor); isFrame {
			if dep != "" {
				return fmt.Errorf("frame extractor %q must not depend on %q", name, dep)
			}
			continue
		}
		if dep == "" {
			return fmt.Errorf("processor %q has no dependency", name)
		}
		parent, ok := r.processors[dep]
		if !ok {
			return fmt.Errorf("processor %q depends on unknown %q", name, dep)
		}
		if _, isCalc := parent.(Calculator); isCalc {
			return fmt.Errorf("processor %q depends on calculator %q", name, dep)
		}
	}
	order, err := r.topoOrder()
	if err != nil {
		return err
	}
	r.order = order
	return nil
}

// Ordered returns every processor in dependency order (parents before
// children). Validate must have succeeded first.
func (r *Registry) Ordered() []Processor {
	out := make([]Processor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.processors[name])
	}
	return out
}

// Calculators returns the registered calculators in dependency order.
func (r *Registry) Calculators() []Calculator {
	var out []Calculator
	for _, p := range r.Ordered() {
		if c, ok := p.(Calculator); ok {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) topoOrder() ([]string, error) {
	const (
		unseen = iota
		visiting
		done
	)
	state := make(map[string]int, len(r.processors))
	order := make([]string, 0, len(r.processors))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("dependency cycle through %q", name)
		}
		state[name] = visiting
		if dep := r.processors[name].DependsOn(); dep != "" {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	// Deterministic order for equal depth: iterate names sorted.
	for _, name := range sortedNames(r.processors) {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func sortedNames(m map[string]Processor) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

// NewCanonicalRegistry builds the full production catalog: plane roots,
// the spatial/temporal/texture extractors and the per-frame calculators
// feeding the aggregate feature vector.
func NewCanonicalRegistry() (*Registry, error) {
	r := NewRegistry()
	ps := []Processor{
		NewYExtractor(),
		NewUExtractor(),
		NewVExtractor(),
		NewSIExtractor(),
		NewTIExtractor(),
		NewGLCMExtractor(),
		NewFHV13Extractor(),
		NewMeanCalculator("Y", "CTI_mean"),
		NewSTDCalculator("Y", "CTI_std"),
		NewMeanCalculator("SI", ""),
		NewSTDCalculator("SI", ""),
		NewMeanCalculator("TI", ""),
		NewSTDCalculator("TI", ""),
		NewFHV13Calculator(),
	}
	for _, prop := range glcmProperties {
		ps = append(ps,
			NewGLCMPropExtractor(prop),
			NewMeanCalculator("GLCM_"+prop, ""),
			NewSTDCalculator("GLCM_"+prop, ""),
		)
	}
	if err := r.Add(ps...); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}
