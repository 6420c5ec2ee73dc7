package audio

import (
	"math"
)

// SpeechOnFailure is the speech verdict used when the heuristic cannot be
// evaluated. Over-admitting silence costs less than dropping speech.
const SpeechOnFailure = true

// QualityConfig parameterises QualityController.
type QualityConfig struct {
	// NoiseThreshold bounds the samples used for the noise floor estimate and
	// is also the minimum RMS for speech.
	NoiseThreshold float64
	// SpeechZCR is the minimum zero-crossing rate for speech.
	SpeechZCR float64
	// TargetPeak is the peak amplitude after normalization.
	TargetPeak      float64
	SpeechOnFailure bool
}

// DefaultQualityConfig returns the stock thresholds.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		NoiseThreshold:  0.02,
		SpeechZCR:       0.1,
		TargetPeak:      0.9,
		SpeechOnFailure: SpeechOnFailure,
	}
}

// QualityMetrics is a read-only diagnostic of one frame.
type QualityMetrics struct {
	RMS              float64 `json:"rms_level"`
	Peak             float64 `json:"peak_level"`
	HasSpeech        bool    `json:"has_speech"`
	ZeroCrossings    int     `json:"zero_crossings"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
}

// QualityController conditions frames: noise gate, speech heuristic and peak
// normalization. It holds no per-call state and is safe for concurrent use.
type QualityController struct {
	cfg QualityConfig
}

func NewQualityController(cfg QualityConfig) *QualityController {
	def := DefaultQualityConfig()
	if cfg.NoiseThreshold <= 0 {
		cfg.NoiseThreshold = def.NoiseThreshold
	}
	if cfg.SpeechZCR <= 0 {
		cfg.SpeechZCR = def.SpeechZCR
	}
	if cfg.TargetPeak <= 0 {
		cfg.TargetPeak = def.TargetPeak
	}
	return &QualityController{cfg: cfg}
}

// Process returns a gated, normalized copy of frame and whether the gated
// frame looks like speech. The input slice is never modified.
func (q *QualityController) Process(frame []float32) ([]float32, bool) {
	if len(frame) == 0 {
		return nil, q.cfg.SpeechOnFailure
	}
	out := make([]float32, len(frame))
	copy(out, frame)

	q.reduceNoise(out)
	isSpeech := q.IsSpeech(out)
	q.normalizeInPlace(out)
	return out, isSpeech
}

// NoiseFloor is the mean magnitude of samples quieter than the noise
// threshold. ok is false when no sample qualifies.
func (q *QualityController) NoiseFloor(frame []float32) (floor float64, ok bool) {
	var sum float64
	var n int
	for _, s := range frame {
		if v := math.Abs(float64(s)); v < q.cfg.NoiseThreshold {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	floor = sum / float64(n)
	if math.IsNaN(floor) || math.IsInf(floor, 0) {
		return 0, false
	}
	return floor, true
}

func (q *QualityController) reduceNoise(frame []float32) {
	floor, ok := q.NoiseFloor(frame)
	if !ok {
		return
	}
	gate := 2 * floor
	for i, s := range frame {
		if math.Abs(float64(s)) < gate {
			frame[i] = 0
		}
	}
}

// IsSpeech applies the energy and zero-crossing heuristic.
func (q *QualityController) IsSpeech(frame []float32) bool {
	if len(frame) == 0 {
		return q.cfg.SpeechOnFailure
	}
	rms := RMS(frame)
	if math.IsNaN(rms) || math.IsInf(rms, 0) {
		return q.cfg.SpeechOnFailure
	}
	zcr := float64(ZeroCrossings(frame)) / float64(len(frame))
	return rms > q.cfg.NoiseThreshold && zcr > q.cfg.SpeechZCR
}

// Normalize returns a copy of frame scaled so its peak equals TargetPeak.
// Silent frames are returned unscaled.
func (q *QualityController) Normalize(frame []float32) []float32 {
	out := make([]float32, len(frame))
	copy(out, frame)
	q.normalizeInPlace(out)
	return out
}

func (q *QualityController) normalizeInPlace(frame []float32) {
	peak := Peak(frame)
	if peak == 0 || math.IsNaN(peak) || math.IsInf(peak, 0) {
		return
	}
	scale := q.cfg.TargetPeak / peak
	for i := range frame {
		frame[i] = float32(float64(frame[i]) * scale)
	}
}

// CheckQuality reports metrics for frame without changing it.
func (q *QualityController) CheckQuality(frame []float32) QualityMetrics {
	m := QualityMetrics{
		RMS:       RMS(frame),
		Peak:      Peak(frame),
		HasSpeech: q.IsSpeech(frame),
	}
	m.ZeroCrossings = ZeroCrossings(frame)
	if len(frame) > 0 {
		m.ZeroCrossingRate = float64(m.ZeroCrossings) / float64(len(frame))
	}
	return m
}

// RMS is the root mean square of frame, 0 for an empty frame.
func RMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// Peak is the largest absolute sample.
func Peak(frame []float32) float64 {
	var peak float64
	for _, s := range frame {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	return peak
}

// ZeroCrossings counts sign-bit changes between consecutive samples.
func ZeroCrossings(frame []float32) int {
	var n int
	for i := 1; i < len(frame); i++ {
		if math.Signbit(float64(frame[i])) != math.Signbit(float64(frame[i-1])) {
			n++
		}
	}
	return n
}
