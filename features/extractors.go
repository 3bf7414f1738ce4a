package features

import (
	"fmt"
	"math"

	"github.com/TiunovNN/video-compression-model/video"
)

// Processor is anything registered in the feature DAG: extractors produce
// matrices consumed by other processors, calculators fold matrices into
// per-frame scalars. Names are unique within a run. DependsOn names at most
// one other processor; the empty string means "consume the raw frame".
type Processor interface {
	Name() string
	DependsOn() string
}

// FrameExtractor is an extractor rooted at the raw frame.
type FrameExtractor interface {
	Processor
	ExtractFrame(f *video.Frame) (*Matrix, error)
}

// Extractor transforms the matrix produced by its dependency. A nil input
// (the dependency produced nothing for this frame) yields a nil output.
type Extractor interface {
	Processor
	Extract(m *Matrix) (*Matrix, error)
}

// StatefulProcessor marks processors carrying rolling state across frames.
// The scheduler runs them sequentially in frame-arrival order.
type StatefulProcessor interface {
	Stateful()
}

// planeExtractor selects one pixel plane. Selecting a chroma plane from a
// single-plane frame produces nil.
type planeExtractor struct {
	name  string
	plane int
}

func NewYExtractor() FrameExtractor { return &planeExtractor{name: "Y", plane: 0} }
func NewUExtractor() FrameExtractor { return &planeExtractor{name: "U", plane: 1} }
func NewVExtractor() FrameExtractor { return &planeExtractor{name: "V", plane: 2} }

func (e *planeExtractor) Name() string      { return e.name }
func (e *planeExtractor) DependsOn() string { return "" }

func (e *planeExtractor) ExtractFrame(f *video.Frame) (*Matrix, error) {
	if len(f.Planes) == 0 {
		return nil, fmt.Errorf("frame %d has no planes", f.Index)
	}
	if e.plane >= len(f.Planes) {
		return nil, nil
	}
	return FromPlane(f.Planes[e.plane]), nil
}

// siExtractor computes the gradient-magnitude image of the luma plane
// (spatial information, ITU-T P.910): Sobel on both axes, elementwise
// hypot.
type siExtractor struct{}

func NewSIExtractor() Extractor { return siExtractor{} }

func (siExtractor) Name() string      { return "SI" }
func (siExtractor) DependsOn() string { return "Y" }

func (siExtractor) Extract(m *Matrix) (*Matrix, error) {
	if m == nil {
		return nil, nil
	}
	sx := sobel(m, 0)
	sy := sobel(m, 1)
	out := NewMatrix(m.Rows, m.Cols)
	for i := range out.Data {
		out.Data[i] = math.Hypot(sx.Data[i], sy.Data[i])
	}
	return out, nil
}

// sobel applies the 3x3 Sobel operator differentiating along the given
// axis (0 = rows, 1 = cols), with reflected boundaries.
func sobel(m *Matrix, axis int) *Matrix {
	deriv := [3]float64{-1, 0, 1}
	smooth := [3]float64{1, 2, 1}
	out := NewMatrix(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			sum := 0.0
			for dr := -1; dr <= 1; dr++ {
				rr := reflectIndex(r+dr, m.Rows)
				for dc := -1; dc <= 1; dc++ {
					cc := reflectIndex(c+dc, m.Cols)
					var w float64
					if axis == 0 {
						w = deriv[dr+1] * smooth[dc+1]
					} else {
						w = smooth[dr+1] * deriv[dc+1]
					}
					sum += w * m.At(rr, cc)
				}
			}
			out.Set(r, c, sum)
		}
	}
	return out
}

// tiExtractor emits the difference between the current and previous luma
// plane (temporal information, ITU-T P.910). The first frame produces nil.
type tiExtractor struct {
	prev *Matrix
}

func NewTIExtractor() Extractor { return &tiExtractor{} }

func (e *tiExtractor) Name() string      { return "TI" }
func (e *tiExtractor) DependsOn() string { return "Y" }
func (e *tiExtractor) Stateful()         {}

func (e *tiExtractor) Extract(m *Matrix) (*Matrix, error) {
	if m == nil {
		return nil, nil
	}
	prev := e.prev
	e.prev = m
	if prev == nil {
		return nil, nil
	}
	if prev.Rows != m.Rows || prev.Cols != m.Cols {
		return nil, fmt.Errorf("frame size changed from %dx%d to %dx%d", prev.Cols, prev.Rows, m.Cols, m.Rows)
	}
	out := NewMatrix(m.Rows, m.Cols)
	for i := range out.Data {
		out.Data[i] = m.Data[i] - prev.Data[i]
	}
	return out, nil
}

// glcmAngles are the co-occurrence offsets for angles 0, pi/4, pi/2 and
// 3*pi/4 at distance 1.
var glcmAngles = [4][2]int{
	{0, 1},   // 0
	{-1, 1},  // pi/4
	{-1, 0},  // pi/2
	{-1, -1}, // 3*pi/4
}

const glcmLevels = 256

// glcmExtractor builds the normalized gray-level co-occurrence matrix of
// the luma plane: one 256x256 channel per angle, each normalized to sum 1.
type glcmExtractor struct{}

func NewGLCMExtractor() Extractor { return glcmExtractor{} }

func (glcmExtractor) Name() string      { return "GLCM" }
func (glcmExtractor) DependsOn() string { return "Y" }

func (glcmExtractor) Extract(m *Matrix) (*Matrix, error) {
	if m == nil {
		return nil, nil
	}
	out := NewMatrixChannels(glcmLevels, glcmLevels, len(glcmAngles))
	counts := make([]float64, len(glcmAngles))
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			i := quantize(m.At(r, c))
			for a, off := range glcmAngles {
				r2, c2 := r+off[0], c+off[1]
				if r2 < 0 || r2 >= m.Rows || c2 < 0 || c2 >= m.Cols {
					continue
				}
				j := quantize(m.At(r2, c2))
				out.Data[(i*glcmLevels+j)*len(glcmAngles)+a]++
				counts[a]++
			}
		}
	}
	for idx := range out.Data {
		a := idx % len(glcmAngles)
		if counts[a] > 0 {
			out.Data[idx] /= counts[a]
		}
	}
	return out, nil
}

func quantize(v float64) int {
	i := int(v)
	if i < 0 {
		return 0
	}
	if i >= glcmLevels {
		return glcmLevels - 1
	}
	return i
}

// glcmPropExtractor reduces a GLCM to one scalar per angle for the
// requested texture property.
type glcmPropExtractor struct {
	property string
}

var glcmProperties = []string{"contrast", "correlation", "energy", "homogeneity"}

func NewGLCMPropExtractor(property string) Extractor {
	return &glcmPropExtractor{property: property}
}

func (e *glcmPropExtractor) Name() string      { return "GLCM_" + e.property }
func (e *glcmPropExtractor) DependsOn() string { return "GLCM" }

func (e *glcmPropExtractor) Extract(m *Matrix) (*Matrix, error) {
	if m == nil {
		return nil, nil
	}
	out := NewMatrix(1, m.Channels)
	for a := 0; a < m.Channels; a++ {
		v, err := glcmProperty(m, a, e.property)
		if err != nil {
			return nil, err
		}
		out.Set(0, a, v)
	}
	return out, nil
}

func glcmProperty(m *Matrix, ch int, property string) (float64, error) {
	switch property {
	case "contrast":
		sum := 0.0
		for i := 0; i < m.Rows; i++ {
			for j := 0; j < m.Cols; j++ {
				d := float64(i - j)
				sum += m.AtCh(i, j, ch) * d * d
			}
		}
		return sum, nil
	case "homogeneity":
		sum := 0.0
		for i := 0; i < m.Rows; i++ {
			for j := 0; j < m.Cols; j++ {
				d := float64(i - j)
				sum += m.AtCh(i, j, ch) / (1 + d*d)
			}
		}
		return sum, nil
	case "energy":
		asm := 0.0
		for i := 0; i < m.Rows; i++ {
			for j := 0; j < m.Cols; j++ {
				p := m.AtCh(i, j, ch)
				asm += p * p
			}
		}
		return math.Sqrt(asm), nil
	case "correlation":
		var meanI, meanJ float64
		for i := 0; i < m.Rows; i++ {
			for j := 0; j < m.Cols; j++ {
				p := m.AtCh(i, j, ch)
				meanI += float64(i) * p
				meanJ += float64(j) * p
			}
		}
		var varI, varJ, cov float64
		for i := 0; i < m.Rows; i++ {
			for j := 0; j < m.Cols; j++ {
				p := m.AtCh(i, j, ch)
				di, dj := float64(i)-meanI, float64(j)-meanJ
				varI += di * di * p
				varJ += dj * dj * p
				cov += di * dj * p
			}
		}
		if varI == 0 || varJ == 0 {
			// Flat image: perfectly correlated by convention.
			return 1, nil
		}
		return cov / math.Sqrt(varI*varJ), nil
	default:
		return 0, fmt.Errorf("unknown GLCM property %q", property)
	}
}
