package video

import "fmt"

// SourceInfo describes the probed video stream of a source container.
type SourceInfo struct {
	Width      int
	Height     int
	PixFmt     string
	Format     string
	DurationMS int64
	// Duration of the stream expressed in time-base units.
	DurationTS  int64
	TimeBaseNum int
	TimeBaseDen int
	FPS         float64
	SizeBytes   int64
}

func (i SourceInfo) DurationSec() float64 {
	return float64(i.DurationMS) / 1000
}

// Plane is one pixel plane of a decoded frame. Chroma planes of subsampled
// formats have their own, smaller dimensions.
type Plane struct {
	Width  int
	Height int
	Data   []uint8
}

// Frame is a single decoded frame. Plane 0 is luminance; planes 1 and 2,
// when present, are chrominance. The plane buffers are only valid until the
// next call to Next on the source that produced the frame.
type Frame struct {
	Index    int
	Width    int
	Height   int
	PixFmt   string
	PTS      int64
	DTS      int64
	Keyframe bool
	Planes   []Plane
}

// planeDims returns the per-plane dimensions for the planar pixel formats
// the decoder is asked to emit.
func planeDims(pixFmt string, w, h int) ([][2]int, error) {
	cw, ch := (w+1)/2, (h+1)/2
	switch pixFmt {
	case "yuv420p", "yuvj420p":
		return [][2]int{{w, h}, {cw, ch}, {cw, ch}}, nil
	case "yuv422p", "yuvj422p":
		return [][2]int{{w, h}, {cw, h}, {cw, h}}, nil
	case "yuv444p", "yuvj444p":
		return [][2]int{{w, h}, {w, h}, {w, h}}, nil
	case "gray":
		return [][2]int{{w, h}}, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", pixFmt)
	}
}

// normalizePixFmt maps the probed pixel format onto the planar format the
// decoder will be asked to output. Anything unrecognized decodes to yuv420p.
func normalizePixFmt(probed string) string {
	switch probed {
	case "yuv420p", "yuvj420p", "yuv422p", "yuvj422p", "yuv444p", "yuvj444p", "gray":
		return probed
	default:
		return "yuv420p"
	}
}
