package features

import "math"

// 13-tap horizontal bandpass kernel from "Video Quality Measurement
// Techniques" (Wolf, Pinson). The 2-D filter is this row repeated over 13
// rows, which factors into a horizontal convolution followed by a vertical
// 13-row box sum (and transposed for the other axis).
var fhv13Weights = [13]float64{
	-.0052625,
	-.0173446,
	-.0427401,
	-.0768961,
	-.0957739,
	-.0696751,
	0,
	.0696751,
	.0957739,
	.0768961,
	.0427401,
	.0173446,
	.0052625,
}

const (
	fhv13DeltaTheta = 0.225 // radians around each axis-aligned direction
	fhv13RMin       = 20
)

// fhv13Extractor convolves the luma plane with the 13-tap bandpass filter
// on both axes and splits gradient magnitudes into two channels: channel 0
// keeps magnitudes whose angle falls within +-DeltaTheta of an axis-aligned
// direction k*pi/2, channel 1 keeps magnitudes in the diagonal sectors
// centered at k*pi/2 + pi/4. Magnitudes below RMin are dropped.
type fhv13Extractor struct{}

func NewFHV13Extractor() Extractor { return fhv13Extractor{} }

func (fhv13Extractor) Name() string      { return "FHV13_frames" }
func (fhv13Extractor) DependsOn() string { return "Y" }

func (fhv13Extractor) Extract(m *Matrix) (*Matrix, error) {
	if m == nil {
		return nil, nil
	}
	gx := bandpass13(m, false)
	gy := bandpass13(m, true)

	out := NewMatrixChannels(m.Rows, m.Cols, 2)
	for i := range gx.Data {
		r := math.Hypot(gx.Data[i], gy.Data[i])
		if r < fhv13RMin {
			continue
		}
		theta := math.Atan2(gx.Data[i], gy.Data[i])
		if isHV(theta) {
			out.Data[i*2] = r
		} else {
			out.Data[i*2+1] = r
		}
	}
	return out, nil
}

// isHV reports whether theta lies within DeltaTheta of any axis-aligned
// direction k*pi/2.
func isHV(theta float64) bool {
	for m := -2.0; m <= 2; m++ {
		if math.Abs(theta-m*math.Pi/2) < fhv13DeltaTheta {
			return true
		}
	}
	return false
}

// bandpass13 convolves with the separable 13x13 filter: horizontal taps
// then a vertical box sum (transposed when vertical is set). Boundaries
// reflect.
func bandpass13(m *Matrix, vertical bool) *Matrix {
	half := len(fhv13Weights) / 2
	tmp := NewMatrix(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			sum := 0.0
			for k := -half; k <= half; k++ {
				var v float64
				if vertical {
					v = m.At(reflectIndex(r+k, m.Rows), c)
				} else {
					v = m.At(r, reflectIndex(c+k, m.Cols))
				}
				sum += fhv13Weights[k+half] * v
			}
			tmp.Set(r, c, sum)
		}
	}
	out := NewMatrix(m.Rows, m.Cols)
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			sum := 0.0
			for k := -half; k <= half; k++ {
				if vertical {
					sum += tmp.At(r, reflectIndex(c+k, m.Cols))
				} else {
					sum += tmp.At(reflectIndex(r+k, m.Rows), c)
				}
			}
			out.Set(r, c, sum)
		}
	}
	return out
}
