// Package gate implements the confidence admission filter.
//
// The gate is the first stage of the pipeline: a pure, synchronous check
// with no side effects beyond logging the rejection. Transcripts below
// the threshold never reach intent resolution.
package gate

import (
	"go.uber.org/zap"

	"github.com/voxgate/voxgate/internal/model"
)

// Gate rejects transcripts whose recognition confidence is below a threshold.
type Gate struct {
	threshold float64
	log       *zap.Logger
}

// New creates a gate with the given minimum confidence.
func New(threshold float64, log *zap.Logger) *Gate {
	return &Gate{threshold: threshold, log: log}
}

// SetThreshold updates the minimum confidence. Used by config hot reload;
// the pipeline goroutine is the only caller.
func (g *Gate) SetThreshold(threshold float64) {
	g.threshold = threshold
}

// Admit reports whether the transcript clears the gate.
// Rejections return ReasonLowConfidence and are logged at warning level.
func (g *Gate) Admit(tr model.Transcript) (bool, model.Reason) {
	if tr.Confidence < g.threshold {
		g.log.Warn("rejecting low-confidence transcript",
			zap.String("text", tr.Text),
			zap.Float64("confidence", tr.Confidence),
			zap.Float64("threshold", g.threshold),
			zap.String("source", string(tr.Source)))
		return false, model.ReasonLowConfidence
	}
	return true, ""
}
