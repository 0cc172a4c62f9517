// Package vad provides a lightweight energy based voice activity detector
// with hysteresis.
package vad

import "math"

const (
	DefaultEnergyThreshold  = 0.02
	DefaultMinSpeechFrames  = 3
	DefaultMinSilenceFrames = 20
)

// Config holds the tunable gate parameters. Zero values fall back to the
// package defaults; use SetEnergyThreshold for an explicit zero threshold.
type Config struct {
	EnergyThreshold  float32
	MinSpeechFrames  int
	MinSilenceFrames int
}

// Stats summarises every frame processed since construction or the last
// Reset. Speech and silence counts follow the sticky state, not the raw
// per-frame decision.
type Stats struct {
	TotalFrames   int
	SpeechFrames  int
	SilenceFrames int
	AvgEnergy     float32
	AvgZCR        float32
}

// Gate classifies successive PCM frames as speech or silence. A Gate is not
// safe for concurrent use; each audio stream owns its own instance.
type Gate struct {
	energyThreshold  float32
	minSpeechFrames  int
	minSilenceFrames int

	inSpeech      bool
	speechCount   int
	silenceCount  int
	lastEnergy    float32
	lastZCR       float32
	totalFrames   int
	speechFrames  int
	silenceFrames int
	sumEnergy     float64
	sumZCR        float64
}

// New returns a Gate starting in the silence state.
func New(cfg Config) *Gate {
	g := &Gate{
		energyThreshold:  DefaultEnergyThreshold,
		minSpeechFrames:  DefaultMinSpeechFrames,
		minSilenceFrames: DefaultMinSilenceFrames,
	}
	if cfg.EnergyThreshold != 0 {
		g.SetEnergyThreshold(cfg.EnergyThreshold)
	}
	g.SetMinSpeechFrames(cfg.MinSpeechFrames)
	g.SetMinSilenceFrames(cfg.MinSilenceFrames)
	return g
}

// Process classifies one frame and returns the sticky speech state after it.
// An empty frame returns false and leaves the gate untouched.
func (g *Gate) Process(frame []float32) bool {
	if len(frame) == 0 {
		return false
	}

	g.lastEnergy = RMS(frame)
	g.lastZCR = ZCR(frame)
	g.totalFrames++
	g.sumEnergy += float64(g.lastEnergy)
	g.sumZCR += float64(g.lastZCR)

	if g.lastEnergy > g.energyThreshold {
		g.speechCount++
		g.silenceCount = 0
		if g.speechCount >= g.minSpeechFrames {
			g.inSpeech = true
		}
	} else {
		g.silenceCount++
		g.speechCount = 0
		if g.silenceCount >= g.minSilenceFrames {
			g.inSpeech = false
		}
	}

	if g.inSpeech {
		g.speechFrames++
	} else {
		g.silenceFrames++
	}
	return g.inSpeech
}

// InSpeech reports the current sticky state.
func (g *Gate) InSpeech() bool { return g.inSpeech }

// LastEnergy returns the RMS of the most recent non-empty frame.
func (g *Gate) LastEnergy() float32 { return g.lastEnergy }

// LastZCR returns the zero-crossing rate of the most recent non-empty frame.
func (g *Gate) LastZCR() float32 { return g.lastZCR }

// Stats returns the accumulated statistics.
func (g *Gate) Stats() Stats {
	stats := Stats{
		TotalFrames:   g.totalFrames,
		SpeechFrames:  g.speechFrames,
		SilenceFrames: g.silenceFrames,
	}
	if g.totalFrames > 0 {
		stats.AvgEnergy = float32(g.sumEnergy / float64(g.totalFrames))
		stats.AvgZCR = float32(g.sumZCR / float64(g.totalFrames))
	}
	return stats
}

// Reset returns the gate to silence and clears counters and statistics.
// Configuration is kept.
func (g *Gate) Reset() {
	g.inSpeech = false
	g.speechCount = 0
	g.silenceCount = 0
	g.lastEnergy = 0
	g.lastZCR = 0
	g.totalFrames = 0
	g.speechFrames = 0
	g.silenceFrames = 0
	g.sumEnergy = 0
	g.sumZCR = 0
}

// SetEnergyThreshold updates the RMS threshold. Values outside [0, 1] are
// ignored.
func (g *Gate) SetEnergyThreshold(threshold float32) {
	if threshold < 0 || threshold > 1 || math.IsNaN(float64(threshold)) {
		return
	}
	g.energyThreshold = threshold
}

// SetMinSpeechFrames updates the number of consecutive speech frames needed to
// enter the speech state. Non-positive values are ignored.
func (g *Gate) SetMinSpeechFrames(frames int) {
	if frames > 0 {
		g.minSpeechFrames = frames
	}
}

// SetMinSilenceFrames updates the number of consecutive silent frames needed
// to leave the speech state. Non-positive values are ignored.
func (g *Gate) SetMinSilenceFrames(frames int) {
	if frames > 0 {
		g.minSilenceFrames = frames
	}
}

// Config returns the active parameters.
func (g *Gate) Config() Config {
	return Config{
		EnergyThreshold:  g.energyThreshold,
		MinSpeechFrames:  g.minSpeechFrames,
		MinSilenceFrames: g.minSilenceFrames,
	}
}

// RMS returns the root mean square of frame, or 0 for an empty frame.
func RMS(frame []float32) float32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(frame))))
}

// ZCR returns the fraction of adjacent sample pairs whose sign differs. Zero
// counts as positive. Frames shorter than two samples yield 0.
func ZCR(frame []float32) float32 {
	if len(frame) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(frame); i++ {
		if (frame[i] >= 0) != (frame[i-1] >= 0) {
			crossings++
		}
	}
	return float32(crossings) / float32(len(frame)-1)
}
