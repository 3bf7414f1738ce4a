package features

import (
	"math"

	"github.com/TiunovNN/video-compression-model/video"
)

// Matrix is a dense row-major float64 matrix with an optional channel
// dimension (interleaved, like a stacked image). It is the unit of data
// flowing between extractors.
type Matrix struct {
	Rows     int
	Cols     int
	Channels int
	Data     []float64
}

func NewMatrix(rows, cols int) *Matrix {
	return NewMatrixChannels(rows, cols, 1)
}

func NewMatrixChannels(rows, cols, channels int) *Matrix {
	return &Matrix{
		Rows:     rows,
		Cols:     cols,
		Channels: channels,
		Data:     make([]float64, rows*cols*channels),
	}
}

func (m *Matrix) At(r, c int) float64 {
	return m.Data[(r*m.Cols+c)*m.Channels]
}

func (m *Matrix) Set(r, c int, v float64) {
	m.Data[(r*m.Cols+c)*m.Channels] = v
}

func (m *Matrix) AtCh(r, c, ch int) float64 {
	return m.Data[(r*m.Cols+c)*m.Channels+ch]
}

func (m *Matrix) SetCh(r, c, ch int, v float64) {
	m.Data[(r*m.Cols+c)*m.Channels+ch] = v
}

// FromPlane copies a pixel plane into a fresh matrix.
func FromPlane(p video.Plane) *Matrix {
	m := NewMatrix(p.Height, p.Width)
	for i, v := range p.Data {
		m.Data[i] = float64(v)
	}
	return m
}

// Mean is the arithmetic mean over every element, all channels included.
func (m *Matrix) Mean() float64 {
	if len(m.Data) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range m.Data {
		sum += v
	}
	return sum / float64(len(m.Data))
}

// Std is the population standard deviation over every element.
func (m *Matrix) Std() float64 {
	if len(m.Data) == 0 {
		return math.NaN()
	}
	mean := m.Mean()
	sum := 0.0
	for _, v := range m.Data {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(m.Data)))
}

// ChannelMean is the mean over a single channel.
func (m *Matrix) ChannelMean(ch int) float64 {
	n := m.Rows * m.Cols
	if n == 0 {
		return math.NaN()
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += m.Data[i*m.Channels+ch]
	}
	return sum / float64(n)
}

// reflectIndex mirrors an out-of-range index about the array edge,
// duplicating the edge sample (a b c -> b a | a b c | c b).
func reflectIndex(i, n int) int {
	for i < 0 || i >= n {
		if i < 0 {
			i = -i - 1
		}
		if i >= n {
			i = 2*n - i - 1
		}
	}
	return i
}
