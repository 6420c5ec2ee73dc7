package audio

import (
	"math"
	"testing"
)

func sine(freq, amp float64, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func hasNaN(frame []float32) bool {
	for _, s := range frame {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return true
		}
	}
	return false
}

func TestProcessZeroFrame(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	frame := make([]float32, 1600)

	out, isSpeech := q.Process(frame)
	if isSpeech {
		t.Error("zero frame classified as speech")
	}
	if hasNaN(out) {
		t.Fatal("output contains NaN")
	}
	if Peak(out) != 0 {
		t.Errorf("zero frame peak = %v, want 0", Peak(out))
	}
}

func TestProcessEmptyFrameFailsOpen(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	out, isSpeech := q.Process(nil)
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
	if isSpeech != SpeechOnFailure {
		t.Errorf("isSpeech = %v, want %v", isSpeech, SpeechOnFailure)
	}
}

func TestProcessDoesNotMutateInput(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	frame := sine(2000, 0.3, 320)
	orig := append([]float32(nil), frame...)

	q.Process(frame)
	for i := range frame {
		if frame[i] != orig[i] {
			t.Fatalf("input modified at %d", i)
		}
	}
}

func TestProcessSkipsGateWithoutQuietSamples(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	frame := []float32{0.5, -0.5, 0.25, -0.25}

	if _, ok := q.NoiseFloor(frame); ok {
		t.Fatal("noise floor should be undefined when nothing is below threshold")
	}
	out, _ := q.Process(frame)
	if hasNaN(out) {
		t.Fatal("output contains NaN")
	}
	want := []float32{0.9, -0.9, 0.45, -0.45}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-6 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestProcessGatesLowLevelNoise(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	frame := make([]float32, 400)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = 0.01
		} else {
			frame[i] = -0.01
		}
	}

	out, isSpeech := q.Process(frame)
	if isSpeech {
		t.Error("gated noise classified as speech")
	}
	if Peak(out) != 0 {
		t.Errorf("noise should be gated to silence, peak = %v", Peak(out))
	}
}

func TestProcessDetectsSpeechLikeSignal(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	out, isSpeech := q.Process(sine(2000, 0.5, 1600))
	if !isSpeech {
		t.Error("high-energy, high zero-crossing signal should be speech")
	}
	if p := Peak(out); math.Abs(p-0.9) > 1e-6 {
		t.Errorf("peak = %v, want 0.9", p)
	}
}

func TestIsSpeechNeedsZeroCrossings(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	// loud but low frequency: 100 Hz gives a zero-crossing rate of 0.0125
	if q.IsSpeech(sine(100, 0.5, 1600)) {
		t.Error("low zero-crossing rate should not be speech")
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	frames := [][]float32{
		sine(440, 0.2, 512),
		{0.001, -0.003, 0.002},
		{1.5, -2.0, 0.5},
	}
	for _, frame := range frames {
		once := q.Normalize(frame)
		twice := q.Normalize(once)
		for i := range once {
			if math.Abs(float64(once[i]-twice[i])) > 1e-6 {
				t.Fatalf("normalize not idempotent at %d: %v vs %v", i, once[i], twice[i])
			}
		}
	}
}

func TestNormalizeSilenceIsNoop(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	out := q.Normalize([]float32{0, 0, 0})
	for _, s := range out {
		if s != 0 {
			t.Fatalf("silence changed: %v", out)
		}
	}
}

func TestCheckQuality(t *testing.T) {
	q := NewQualityController(DefaultQualityConfig())
	frame := []float32{0.5, -0.5, 0.5, -0.5}
	m := q.CheckQuality(frame)

	if math.Abs(m.RMS-0.5) > 1e-9 {
		t.Errorf("RMS = %v, want 0.5", m.RMS)
	}
	if m.Peak != 0.5 {
		t.Errorf("Peak = %v, want 0.5", m.Peak)
	}
	if m.ZeroCrossings != 3 {
		t.Errorf("ZeroCrossings = %d, want 3", m.ZeroCrossings)
	}
	if !m.HasSpeech {
		t.Error("expected HasSpeech")
	}
	if frame[0] != 0.5 {
		t.Error("CheckQuality modified its input")
	}

	empty := q.CheckQuality(nil)
	if empty.RMS != 0 || empty.ZeroCrossingRate != 0 {
		t.Errorf("empty metrics = %+v", empty)
	}
}
