package features

import "math"

// aggregationSchema fixes the feature vector the regressor was trained
// on: which per-frame columns survive and which statistics are taken over
// the whole stream. Descriptor names are "<column>_<stat>".
var aggregationSchema = []struct {
	column string
	stats  []string
}{
	{"width", []string{"min"}},
	{"height", []string{"min"}},
	{"CTI_mean", []string{"min", "mean", "max", "std"}},
	{"CTI_std", []string{"min", "mean", "max", "std"}},
	{"FHV13", []string{"max"}},
	{"GLCM_contrast_mean", []string{"min", "mean", "max", "std"}},
	{"GLCM_contrast_std", []string{"std"}},
	{"GLCM_correlation_mean", []string{"min", "mean", "max", "std"}},
	{"GLCM_correlation_std", []string{"std"}},
	{"GLCM_energy_mean", []string{"min", "mean", "max", "std"}},
	{"GLCM_energy_std", []string{"min", "mean", "max", "std"}},
	{"GLCM_homogeneity_mean", []string{"min", "mean", "max", "std"}},
	{"GLCM_homogeneity_std", []string{"min", "mean", "max", "std"}},
	{"SI_mean", []string{"min", "mean", "max", "std"}},
	{"SI_std", []string{"min", "mean", "max", "std"}},
	{"TI_mean", []string{"max", "std"}},
	{"TI_std", []string{"min", "mean", "max", "std"}},
}

// columnStats accumulates one column with Welford's algorithm. NaN samples
// are skipped, so columns that are undefined on some frames (TI on the
// first frame, chroma stats on gray input) still aggregate cleanly.
type columnStats struct {
	n        int
	mean, m2 float64
	min, max float64
}

func (s *columnStats) add(v float64) {
	if math.IsNaN(v) {
		return
	}
	s.n++
	if s.n == 1 {
		s.min, s.max = v, v
	} else {
		s.min = math.Min(s.min, v)
		s.max = math.Max(s.max, v)
	}
	d := v - s.mean
	s.mean += d / float64(s.n)
	s.m2 += d * (v - s.mean)
}

func (s *columnStats) stat(name string) float64 {
	if s.n == 0 {
		return math.NaN()
	}
	switch name {
	case "min":
		return s.min
	case "max":
		return s.max
	case "mean":
		return s.mean
	case "std":
		// Sample standard deviation, undefined for a single sample.
		if s.n < 2 {
			return math.NaN()
		}
		return math.Sqrt(s.m2 / float64(s.n-1))
	}
	return math.NaN()
}

// Aggregator folds per-frame rows into the stream-level feature vector.
type Aggregator struct {
	columns map[string]*columnStats
	frames  int
}

func NewAggregator() *Aggregator {
	a := &Aggregator{columns: make(map[string]*columnStats, len(aggregationSchema))}
	for _, col := range aggregationSchema {
		a.columns[col.column] = &columnStats{}
	}
	return a
}

// Add folds one frame row. Schema columns missing from the row are
// treated as NaN; row values outside the schema are ignored.
func (a *Aggregator) Add(row *FrameRow) {
	a.frames++
	a.columns["width"].add(float64(row.Width))
	a.columns["height"].add(float64(row.Height))
	for name, stats := range a.columns {
		if name == "width" || name == "height" {
			continue
		}
		if v, ok := row.Values[name]; ok {
			stats.add(v)
		}
	}
}

// Frames reports how many rows have been folded in.
func (a *Aggregator) Frames() int { return a.frames }

// Result materializes the descriptor map. Statistics over columns that
// never produced a sample come out as NaN.
func (a *Aggregator) Result() map[string]float64 {
	out := make(map[string]float64)
	for _, col := range aggregationSchema {
		stats := a.columns[col.column]
		for _, stat := range col.stats {
			out[col.column+"_"+stat] = stats.stat(stat)
		}
	}
	return out
}
