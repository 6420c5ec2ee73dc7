package audio

import (
	"math"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"meetscribe-server/internal/platform/errors"
	"meetscribe-server/internal/platform/observability"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeClock, *observability.Metrics) {
	t.Helper()
	clock := newFakeClock()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	r := NewRegistry(DefaultRegistryConfig(), WithRegistryClock(clock.Now), WithRegistryMetrics(metrics))
	return r, clock, metrics
}

func pcm(samples []float32) []byte {
	return EncodePCM16(samples)
}

func TestIngestSilenceIsGatedButMeasured(t *testing.T) {
	r, _, metrics := newTestRegistry(t)
	if err := r.AddStream("c1", Microphone); err != nil {
		t.Fatal(err)
	}

	res, err := r.Ingest("c1", make([]byte, 3200), Microphone)
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if res.Admitted {
		t.Error("silent chunk was admitted")
	}
	if res.Samples != 1600 {
		t.Errorf("samples = %d, want 1600", res.Samples)
	}

	st, ok := r.Status("c1", Microphone)
	if !ok {
		t.Fatal("status missing")
	}
	if st.Metrics == nil {
		t.Fatal("metrics not updated for gated chunk")
	}
	if st.Metrics.Quality.RMS > 1e-9 {
		t.Errorf("rms = %v, want ~0", st.Metrics.Quality.RMS)
	}
	if st.Buffer == nil || st.Buffer.SampleCount != 0 {
		t.Errorf("buffer should be empty, got %+v", st.Buffer)
	}
	if got := testutil.ToFloat64(metrics.ChunksIngested.WithLabelValues("microphone", "gated")); got != 1 {
		t.Errorf("gated counter = %v, want 1", got)
	}
}

func TestIngestLowNoiseExcludedButMetricsUpdated(t *testing.T) {
	r, clock, _ := newTestRegistry(t)
	r.AddStream("c1", System)

	noise := make([]float32, 320)
	for i := range noise {
		noise[i] = 0.005
		if i%2 == 1 {
			noise[i] = -0.005
		}
	}
	res, err := r.Ingest("c1", pcm(noise), System)
	if err != nil {
		t.Fatal(err)
	}
	if res.Admitted || res.IsSpeech {
		t.Fatalf("low noise result = %+v", res)
	}
	st, _ := r.Status("c1", System)
	if !st.Metrics.LastUpdated.Equal(clock.Now()) {
		t.Error("metrics timestamp not refreshed")
	}
	if st.Buffer.SampleCount != 0 {
		t.Errorf("buffered %d samples, want 0", st.Buffer.SampleCount)
	}
}

func TestIngestSpeechIsAdmitted(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.AddStream("c1", Microphone)

	res, err := r.Ingest("c1", pcm(sine(2000, 0.5, 1600)), Microphone)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Admitted || !res.IsSpeech {
		t.Fatalf("speech result = %+v", res)
	}
	st, _ := r.Status("c1", Microphone)
	if st.Buffer.SampleCount != 1600 {
		t.Errorf("buffered %d, want 1600", st.Buffer.SampleCount)
	}
	if math.Abs(st.Metrics.Quality.Peak-0.9) > 1e-3 {
		t.Errorf("metrics should describe the processed frame, peak = %v", st.Metrics.Quality.Peak)
	}
}

func TestIngestRejectsUnknownStream(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.AddStream("c1", Microphone)

	_, err := r.Ingest("c1", make([]byte, 64), System)
	if !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("err = %v, want ErrUnknownStream", err)
	}
	_, err = r.Ingest("other", make([]byte, 64), Microphone)
	if !errors.Is(err, ErrUnknownStream) {
		t.Fatalf("err = %v, want ErrUnknownStream", err)
	}
}

func TestIngestRejectsInvalidType(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	_, err := r.Ingest("c1", make([]byte, 64), AudioType("speaker"))
	if !errors.Is(err, ErrInvalidAudioType) {
		t.Fatalf("err = %v, want ErrInvalidAudioType", err)
	}
	if err := r.AddStream("c1", AudioType("speaker")); !errors.Is(err, ErrInvalidAudioType) {
		t.Fatalf("AddStream err = %v", err)
	}
	if _, ok := r.Status("c1", AudioType("speaker")); ok {
		t.Error("invalid stream was registered")
	}
}

func TestIngestEmptyChunk(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.AddStream("c1", Microphone)

	res, err := r.Ingest("c1", nil, Microphone)
	if err != nil {
		t.Fatalf("Ingest(nil) error = %v", err)
	}
	if res.Samples != 0 || res.Admitted {
		t.Errorf("empty result = %+v", res)
	}
	st, _ := r.Status("c1", Microphone)
	if st.Metrics != nil {
		t.Error("empty chunk should not produce metrics")
	}
}

func TestRemoveStreamPurges(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.AddStream("c1", Microphone)
	r.Ingest("c1", pcm(sine(2000, 0.5, 320)), Microphone)

	r.RemoveStream("c1", Microphone)
	r.RemoveStream("c1", Microphone)

	st, ok := r.Status("c1", Microphone)
	if !ok {
		t.Fatal("removed stream record should remain visible as inactive")
	}
	if st.Active || st.Metrics != nil || st.Buffer != nil {
		t.Errorf("removed stream status = %+v", st)
	}
	if _, err := r.Ingest("c1", pcm(sine(2000, 0.5, 320)), Microphone); !errors.Is(err, ErrUnknownStream) {
		t.Errorf("ingest after remove err = %v", err)
	}

	if err := r.AddStream("c1", Microphone); err != nil {
		t.Fatal(err)
	}
	if st, _ := r.Status("c1", Microphone); !st.Active {
		t.Error("re-added stream should be active")
	}
}

func TestStatusesAndCombine(t *testing.T) {
	r, _, metrics := newTestRegistry(t)
	for _, typ := range AudioTypes {
		r.AddStream("c1", typ)
	}
	r.AddStream("c2", Microphone)

	r.Ingest("c1", pcm(sine(2000, 0.5, 800)), Microphone)
	r.Ingest("c1", pcm(sine(2000, 0.5, 480)), System)

	statuses := r.Statuses("c1")
	if len(statuses) != 2 {
		t.Fatalf("statuses = %d, want 2", len(statuses))
	}
	if _, ok := statuses[Microphone]; !ok {
		t.Error("microphone status missing")
	}

	if out := r.Combine("c2"); out != nil {
		t.Fatalf("combine of an empty live stream = %d samples", len(out))
	}
	if out := r.Combine("unknown"); out != nil {
		t.Fatalf("combine of an unknown client = %d samples", len(out))
	}

	out := r.Combine("c1")
	if len(out) != 480 {
		t.Fatalf("combined %d samples, want 480", len(out))
	}
	if Peak(out) > 1.0 {
		t.Errorf("combined peak %v > 1", Peak(out))
	}
	if got := testutil.ToFloat64(metrics.CombinedFrames); got != 1 {
		t.Errorf("combined frames counter = %v, want 1", got)
	}
	if st, _ := r.Status("c1", Microphone); st.Buffer.SampleCount != 320 {
		t.Errorf("microphone leftover = %d, want 320", st.Buffer.SampleCount)
	}
}

func TestCombineKeepsClientsApart(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	r.AddStream("alice", Microphone)
	r.AddStream("bob", Microphone)

	alice, err := r.Ingest("alice", pcm(sine(2000, 0.5, 1600)), Microphone)
	if err != nil || !alice.Admitted {
		t.Fatalf("alice ingest = %+v, %v", alice, err)
	}
	bob, err := r.Ingest("bob", pcm(sine(2000, 0.5, 1600)), Microphone)
	if err != nil || !bob.Admitted {
		t.Fatalf("bob ingest = %+v, %v", bob, err)
	}

	out := r.Combine("alice")
	if len(out) != 1600 {
		t.Fatalf("combined %d samples, want 1600", len(out))
	}
	// a lone stream is passed through, so the peak stays at the normalised level
	if p := Peak(out); math.Abs(p-0.9) > 0.01 {
		t.Errorf("alice frame peak = %v, want 0.9", p)
	}
	if st, _ := r.Status("alice", Microphone); st.Buffer.SampleCount != 0 {
		t.Errorf("alice leftover = %d, want 0", st.Buffer.SampleCount)
	}
	if st, _ := r.Status("bob", Microphone); st.Buffer.SampleCount != 1600 {
		t.Errorf("bob buffer = %d, want untouched 1600", st.Buffer.SampleCount)
	}
}

func TestParseAudioType(t *testing.T) {
	tests := []struct {
		in      string
		want    AudioType
		wantErr bool
	}{
		{"microphone", Microphone, false},
		{"system", System, false},
		{"Microphone", "", true},
		{"", "", true},
		{"speaker", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAudioType(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAudioType(%q) = %q, %v", tt.in, got, err)
		}
		if err != nil && !errors.Is(err, ErrInvalidAudioType) {
			t.Errorf("ParseAudioType(%q) err not ErrInvalidAudioType", tt.in)
		}
	}
	if Key("abc", System).String() != "abc_system" {
		t.Error("unexpected key rendering")
	}
}

func TestDecodePCM16(t *testing.T) {
	raw := []byte{0x00, 0x80, 0xff, 0x7f, 0x00, 0x00, 0x01}
	got := DecodePCM16(raw)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3 (odd trailing byte dropped)", len(got))
	}
	if got[0] != -1 {
		t.Errorf("min sample = %v, want -1", got[0])
	}
	if math.Abs(float64(got[1])-32767.0/32768.0) > 1e-9 {
		t.Errorf("max sample = %v", got[1])
	}
	if got[2] != 0 {
		t.Errorf("zero sample = %v", got[2])
	}
	if DecodePCM16([]byte{1}) != nil {
		t.Error("single byte should decode to nothing")
	}
}
