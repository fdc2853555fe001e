package bot

import (
	"sync"
	"time"
)

// InputFrameSamples is the fixed single-channel input frame size the
// pipeline processes (§4.3.2).
const InputFrameSamples = 4096

// TargetSampleRate is the output sample rate every platform's audio is
// resampled to before it reaches the transcription gateway (§4.3).
const TargetSampleRate = 16000

// Resample performs linear-interpolation resampling of mono float32
// samples from inputRate to TargetSampleRate (§4.3, §8 property 6).
//
// The output length is round(len(input) * TargetSampleRate / inputRate).
// output[0] always equals input[0] and output[last] always equals
// input[last]; interior samples are linearly interpolated between the two
// nearest source samples by fractional index.
func Resample(input []float32, inputRate int) []float32 {
	if len(input) == 0 {
		return nil
	}
	if inputRate == TargetSampleRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	outLen := int(float64(len(input))*float64(TargetSampleRate)/float64(inputRate) + 0.5)
	if outLen <= 0 {
		outLen = 1
	}
	out := make([]float32, outLen)
	out[0] = input[0]
	if outLen == 1 {
		return out
	}
	out[outLen-1] = input[len(input)-1]

	// Map each output index to a fractional source index so the first and
	// last samples land exactly on input[0] and input[last].
	lastOut := float64(outLen - 1)
	lastIn := float64(len(input) - 1)
	for i := 1; i < outLen-1; i++ {
		srcPos := float64(i) / lastOut * lastIn
		lo := int(srcPos)
		hi := lo + 1
		if hi > len(input)-1 {
			hi = len(input) - 1
		}
		frac := srcPos - float64(lo)
		out[i] = input[lo] + float32(frac)*(input[hi]-input[lo])
	}
	return out
}

// AudioPipeline acquires mixed remote audio, resamples it, and hands
// frames to a consumer once the transcription client is ready to accept
// them (§4.3).
type AudioPipeline struct {
	mu       sync.Mutex
	session  *Session
	ready    func() bool
	onFrame  func(frame []float32, sessionStartMs int64)
	recorder *DebugRecorder
	logger   Logger
}

// NewAudioPipeline constructs a pipeline bound to a session. ready reports
// whether the transcription client is currently able to accept frames
// (SERVER_READY and transcription enabled); onFrame is invoked for every
// frame that passes the gate.
func NewAudioPipeline(session *Session, ready func() bool, onFrame func(frame []float32, sessionStartMs int64), logger Logger) *AudioPipeline {
	if logger == nil {
		logger = NoOpLogger{}
	}
	return &AudioPipeline{session: session, ready: ready, onFrame: onFrame, logger: logger}
}

// SetDebugRecorder attaches an optional WAV dump sink (SPEC_FULL.md
// "debug audio export").
func (p *AudioPipeline) SetDebugRecorder(r *DebugRecorder) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorder = r
}

// Rebind points the pipeline at a fresh session (called on transcription
// reconnect, which resets the audio-start origin, §4.4).
func (p *AudioPipeline) Rebind(session *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = session
}

// PushFrame submits one raw input frame (arbitrary length up to
// InputFrameSamples, mono, at inputRate) for resampling and emission.
func (p *AudioPipeline) PushFrame(input []float32, inputRate int) {
	if len(input) == 0 {
		return
	}
	resampled := Resample(input, inputRate)

	p.mu.Lock()
	session := p.session
	readyFn := p.ready
	onFrame := p.onFrame
	recorder := p.recorder
	p.mu.Unlock()

	if session == nil || onFrame == nil {
		return
	}
	if readyFn != nil && !readyFn() {
		// Transcription not enabled or gateway not SERVER_READY: drop
		// silently (§4.3 step 5).
		return
	}

	now := time.Now()
	origin := session.MarkAudioStart(now)

	if recorder != nil {
		recorder.Write(resampled)
	}

	onFrame(resampled, origin)
}
