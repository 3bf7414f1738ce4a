package model

import (
	"fmt"
	"math"

	"github.com/TiunovNN/video-compression-model/config"
)

const (
	StatusSuccess  = "success"
	StatusFallback = "success_fallback"
	StatusFailed   = "failed"

	// FallbackCRF is encoded when no grid row clears the quality floor or
	// when prediction is impossible.
	FallbackCRF = 16
)

// paramColumns are the model inputs describing the candidate encoder
// setting rather than the content. Each grid row sets exactly one of
// them; the other follows the trees' missing branches.
var paramColumns = map[string]bool{"crf": true, "qp": true}

// GridRow is one candidate encoder setting.
type GridRow struct {
	Parameter string
	Value     int
}

// BuildGrid enumerates the candidate settings: every CRF in crf, then
// every QP in qp, both inclusive.
func BuildGrid(crf, qp config.Range) []GridRow {
	var rows []GridRow
	for v := crf.Lo; v <= crf.Hi; v++ {
		rows = append(rows, GridRow{Parameter: "crf", Value: v})
	}
	for v := qp.Lo; v <= qp.Hi; v++ {
		rows = append(rows, GridRow{Parameter: "qp", Value: v})
	}
	return rows
}

// Prediction is the predictor's verdict for one source.
type Prediction struct {
	Status    string  `json:"status"`
	Parameter string  `json:"parameter"`
	Value     int     `json:"value"`
	Quality   float64 `json:"quality"`
}

// Predictor scores the candidate grid against a trained quality regressor
// and picks the cheapest setting still clearing the quality floor.
type Predictor struct {
	regressor *Regressor
	floor     float64
	crf       config.Range
	qp        config.Range
}

func NewPredictor(r *Regressor, floor float64, crf, qp config.Range) *Predictor {
	return &Predictor{regressor: r, floor: floor, crf: crf, qp: qp}
}

// Predict evaluates every grid row on the stream descriptors. Rows
// clearing the quality floor compete on predicted quality, lowest wins:
// quality above the floor is wasted bitrate. With no row above the floor
// the CRF fallback is returned; with unusable descriptors the prediction
// fails and the caller degrades to the fallback setting.
func (p *Predictor) Predict(descriptors map[string]float64) (Prediction, error) {
	if err := p.checkDescriptors(descriptors); err != nil {
		return Prediction{Status: StatusFailed, Parameter: "crf", Value: FallbackCRF}, err
	}

	features := make(map[string]float64, len(descriptors)+1)
	for k, v := range descriptors {
		features[k] = v
	}

	best := Prediction{Status: StatusFallback, Parameter: "crf", Value: FallbackCRF, Quality: math.NaN()}
	maxQuality := math.Inf(-1)
	for _, row := range BuildGrid(p.crf, p.qp) {
		for col := range paramColumns {
			delete(features, col)
		}
		features[row.Parameter] = float64(row.Value)
		q := p.regressor.Predict(features)
		if q > maxQuality {
			maxQuality = q
		}
		if q < p.floor {
			continue
		}
		if best.Status != StatusSuccess || q < best.Quality {
			best = Prediction{Status: StatusSuccess, Parameter: row.Parameter, Value: row.Value, Quality: q}
		}
	}
	if best.Status != StatusSuccess {
		best.Quality = maxQuality
	}
	return best, nil
}

// checkDescriptors requires every content feature the model was trained
// on to be present and numeric.
func (p *Predictor) checkDescriptors(descriptors map[string]float64) error {
	for _, name := range p.regressor.Features() {
		if paramColumns[name] {
			continue
		}
		v, ok := descriptors[name]
		if !ok {
			return fmt.Errorf("descriptor %q missing", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("descriptor %q is not finite", name)
		}
	}
	return nil
}
