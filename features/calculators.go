package features

import "math"

// Calculator folds its dependency's matrix into a per-frame scalar. A nil
// input yields NaN, which the aggregator ignores.
type Calculator interface {
	Processor
	Feed(m *Matrix) (float64, error)
}

type meanCalculator struct {
	extractor string
	name      string
}

// NewMeanCalculator emits the arithmetic mean of the named extractor's
// output. An empty name defaults to "<extractor>_mean".
func NewMeanCalculator(extractor, name string) Calculator {
	if name == "" {
		name = extractor + "_mean"
	}
	return &meanCalculator{extractor: extractor, name: name}
}

func (c *meanCalculator) Name() string      { return c.name }
func (c *meanCalculator) DependsOn() string { return c.extractor }

func (c *meanCalculator) Feed(m *Matrix) (float64, error) {
	if m == nil {
		return math.NaN(), nil
	}
	return m.Mean(), nil
}

type stdCalculator struct {
	extractor string
	name      string
}

// NewSTDCalculator emits the population standard deviation of the named
// extractor's output. An empty name defaults to "<extractor>_std".
func NewSTDCalculator(extractor, name string) Calculator {
	if name == "" {
		name = extractor + "_std"
	}
	return &stdCalculator{extractor: extractor, name: name}
}

func (c *stdCalculator) Name() string      { return c.name }
func (c *stdCalculator) DependsOn() string { return c.extractor }

func (c *stdCalculator) Feed(m *Matrix) (float64, error) {
	if m == nil {
		return math.NaN(), nil
	}
	return m.Std(), nil
}

type fhv13Calculator struct{}

// NewFHV13Calculator emits the HV/non-HV energy ratio over the two-channel
// FHV13 matrix, with both means floored at 3 to keep the ratio stable on
// low-energy frames.
func NewFHV13Calculator() Calculator { return fhv13Calculator{} }

func (fhv13Calculator) Name() string      { return "FHV13" }
func (fhv13Calculator) DependsOn() string { return "FHV13_frames" }

func (fhv13Calculator) Feed(m *Matrix) (float64, error) {
	if m == nil {
		return math.NaN(), nil
	}
	return math.Max(m.ChannelMean(0), 3) / math.Max(m.ChannelMean(1), 3), nil
}
