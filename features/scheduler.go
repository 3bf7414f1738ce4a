package features

import (
	"context"
	"errors"
	"fmt"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/TiunovNN/video-compression-model/video"
)

// FrameReader yields decoded frames in presentation order, io.EOF at the
// end of the stream. Frame buffers may be reused between calls.
type FrameReader interface {
	Next() (*video.Frame, error)
}

// FrameRow is the per-frame output of a scheduler run: one scalar per
// registered calculator plus the frame geometry.
type FrameRow struct {
	Index    int
	Width    int
	Height   int
	PTS      int64
	Keyframe bool
	Values   map[string]float64
}

// Scheduler runs a processor registry over a frame stream. Frame
// extractors, stateful processors and their ancestors execute on the
// decode goroutine in frame order; everything else fans out to a worker
// pool, one task per frame. Rows are delivered to the sink in decode
// order, with at most Lookahead frames in flight.
type Scheduler struct {
	Registry  *Registry
	Workers   int
	Lookahead int
}

func NewScheduler(r *Registry, workers, lookahead int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	if lookahead < 1 {
		lookahead = 1
	}
	return &Scheduler{Registry: r, Workers: workers, Lookahead: lookahead}
}

type frameResult struct {
	row *FrameRow
	err error
}

// Run decodes src to exhaustion and calls emit once per frame, in order.
// The first error from decoding, a processor or emit aborts the run.
func (s *Scheduler) Run(ctx context.Context, src FrameReader, emit func(*FrameRow) error) error {
	inline := s.inlineSet()
	ordered := s.Registry.Ordered()

	g, ctx := errgroup.WithContext(ctx)
	pool := &errgroup.Group{}
	pool.SetLimit(s.Workers)
	pending := make(chan chan *frameResult, s.Lookahead)

	g.Go(func() error {
		defer close(pending)
		for {
			frame, err := src.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return pool.Wait()
				}
				pool.Wait()
				return err
			}

			row := &FrameRow{
				Index:    frame.Index,
				Width:    frame.Width,
				Height:   frame.Height,
				PTS:      frame.PTS,
				Keyframe: frame.Keyframe,
				Values:   make(map[string]float64),
			}
			mats, err := s.runInline(frame, row, inline, ordered)
			if err != nil {
				pool.Wait()
				return fmt.Errorf("frame %d: %w", frame.Index, err)
			}

			ch := make(chan *frameResult, 1)
			pool.Go(func() error {
				res := s.runPooled(ctx, row, mats, inline, ordered)
				ch <- res
				return res.err
			})
			select {
			case pending <- ch:
			case <-ctx.Done():
				pool.Wait()
				return ctx.Err()
			}
		}
	})

	g.Go(func() error {
		for ch := range pending {
			res := <-ch
			if res.err != nil {
				return res.err
			}
			if err := emit(res.row); err != nil {
				return err
			}
		}
		return nil
	})

	return g.Wait()
}

// inlineSet collects the processors that must run on the decode goroutine:
// frame extractors read the reusable frame buffer, stateful processors
// need frame order, and a stateful processor's ancestors must be ready
// before it runs.
func (s *Scheduler) inlineSet() map[string]bool {
	inline := map[string]bool{}
	for _, p := range s.Registry.Ordered() {
		if _, ok := p.(FrameExtractor); ok {
			inline[p.Name()] = true
		}
		if _, ok := p.(StatefulProcessor); ok {
			for q := p; q != nil; {
				inline[q.Name()] = true
				dep := q.DependsOn()
				if dep == "" {
					break
				}
				q = s.Registry.Get(dep)
			}
		}
	}
	return inline
}

func (s *Scheduler) runInline(frame *video.Frame, row *FrameRow, inline map[string]bool, ordered []Processor) (map[string]*Matrix, error) {
	mats := make(map[string]*Matrix, len(inline))
	for _, p := range ordered {
		if !inline[p.Name()] {
			continue
		}
		if err := runProcessor(p, frame, mats, row.Values); err != nil {
			return nil, err
		}
	}
	return mats, nil
}

func (s *Scheduler) runPooled(ctx context.Context, row *FrameRow, mats map[string]*Matrix, inline map[string]bool, ordered []Processor) *frameResult {
	if err := ctx.Err(); err != nil {
		return &frameResult{row: row, err: err}
	}
	for _, p := range ordered {
		if inline[p.Name()] {
			continue
		}
		if err := runProcessor(p, nil, mats, row.Values); err != nil {
			return &frameResult{row: row, err: fmt.Errorf("frame %d: %w", row.Index, err)}
		}
	}
	return &frameResult{row: row}
}

func runProcessor(p Processor, frame *video.Frame, mats map[string]*Matrix, values map[string]float64) error {
	switch proc := p.(type) {
	case FrameExtractor:
		m, err := proc.ExtractFrame(frame)
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		mats[p.Name()] = m
	case Extractor:
		m, err := proc.Extract(mats[p.DependsOn()])
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		mats[p.Name()] = m
	case Calculator:
		v, err := proc.Feed(mats[p.DependsOn()])
		if err != nil {
			return fmt.Errorf("%s: %w", p.Name(), err)
		}
		values[p.Name()] = v
	default:
		return fmt.Errorf("%s: unknown processor kind %T", p.Name(), p)
	}
	return nil
}
