package bot

import (
	"math"
	"testing"
)

func TestResample_SameRateIsCopy(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := Resample(in, TargetSampleRate)
	if len(out) != len(in) {
		t.Fatalf("expected same length, got %d vs %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
	// Must be a copy, not an alias.
	out[0] = 99
	if in[0] == 99 {
		t.Error("Resample must not alias the input slice when rates match")
	}
}

func TestResample_EndpointsPreserved(t *testing.T) {
	in := make([]float32, 100)
	for i := range in {
		in[i] = float32(i)
	}
	out := Resample(in, 32000)
	if len(out) == 0 {
		t.Fatal("expected non-empty output")
	}
	if out[0] != in[0] {
		t.Errorf("first sample = %v, want %v", out[0], in[0])
	}
	if out[len(out)-1] != in[len(in)-1] {
		t.Errorf("last sample = %v, want %v", out[len(out)-1], in[len(in)-1])
	}
}

func TestResample_OutputLengthMatchesRateRatio(t *testing.T) {
	in := make([]float32, 3200) // 200ms @ 16kHz equivalent input length
	out := Resample(in, 32000)  // downsample 32kHz -> 16kHz
	want := int(float64(len(in))*float64(TargetSampleRate)/32000.0 + 0.5)
	if len(out) != want {
		t.Errorf("len(out) = %d, want %d", len(out), want)
	}
}

func TestResample_EmptyInputReturnsNil(t *testing.T) {
	if out := Resample(nil, 16000); out != nil {
		t.Errorf("expected nil for empty input, got %v", out)
	}
}

func TestAudioPipeline_DropsFramesWhenNotReady(t *testing.T) {
	var got []float32
	p := NewAudioPipeline(newTestSession(), func() bool { return false }, func(frame []float32, _ int64) {
		got = frame
	}, nil)

	p.PushFrame([]float32{0.1, 0.2, 0.3}, TargetSampleRate)
	if got != nil {
		t.Error("expected no frame to be emitted while ready() returns false")
	}
}

func TestAudioPipeline_EmitsFrameWhenReady(t *testing.T) {
	var got []float32
	p := NewAudioPipeline(newTestSession(), func() bool { return true }, func(frame []float32, _ int64) {
		got = frame
	}, nil)

	in := []float32{0.1, 0.2, 0.3}
	p.PushFrame(in, TargetSampleRate)
	if len(got) != len(in) {
		t.Fatalf("expected emitted frame of length %d, got %d", len(in), len(got))
	}
}

func TestAudioPipeline_MarksAudioStartOnFirstFrame(t *testing.T) {
	session := newTestSession()
	// Force a fresh, unset session instead of the pre-marked helper.
	session = NewSession("en", TaskTranscribe)

	var gotOrigin int64
	p := NewAudioPipeline(session, func() bool { return true }, func(_ []float32, origin int64) {
		gotOrigin = origin
	}, nil)

	if _, set := session.AudioStart(); set {
		t.Fatal("expected audio start to be unset before the first frame")
	}

	p.PushFrame([]float32{0.5}, TargetSampleRate)

	origin, set := session.AudioStart()
	if !set {
		t.Fatal("expected audio start to be set after the first frame")
	}
	if gotOrigin != origin {
		t.Errorf("onFrame origin = %d, want %d", gotOrigin, origin)
	}
	if origin == 0 {
		t.Error("expected a non-zero wallclock origin")
	}
}

func TestResample_NoNaNOrInf(t *testing.T) {
	in := []float32{-1, 0, 1, 0.5, -0.5}
	out := Resample(in, 22050)
	for i, v := range out {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("out[%d] = %v is not finite", i, v)
		}
	}
}
