package capture

import (
	"math"
	"sync"

	"github.com/pion/rtp"
)

const (
	fftSize          = 256
	binCount         = fftSize / 2
	defaultMinDB     = -100.0
	defaultMaxDB     = -30.0
	defaultSmoothing = 0.8

	// dBov range for the audio level extension; quieter than -60 reads as zero.
	meterMinDB = -60.0
	meterMaxDB = 0.0
)

// packetAnalyser derives a loudness level from inbound RTP.
type packetAnalyser interface {
	Level() float64
	observe(pkt *rtp.Packet)
}

// FrequencyAnalyser reports the mean of byte-scaled frequency magnitudes
// over a 256-sample window, the same scale browser analysers expose.
type FrequencyAnalyser struct {
	mu       sync.Mutex
	window   [fftSize]float64
	cos      [fftSize]float64
	sin      [fftSize]float64
	ring     [fftSize]float64
	pos      int
	smoothed [binCount]float64
	level    float64
	scratch  []float64
}

func NewFrequencyAnalyser() *FrequencyAnalyser {
	a := &FrequencyAnalyser{}
	for n := 0; n < fftSize; n++ {
		x := 2 * math.Pi * float64(n) / fftSize
		a.window[n] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
		a.cos[n] = math.Cos(x)
		a.sin[n] = math.Sin(x)
	}
	return a
}

func (a *FrequencyAnalyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.level
}

// Write appends samples in [-1, 1) and recomputes the level.
func (a *FrequencyAnalyser) Write(samples []float64) {
	if len(samples) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % fftSize
	}
	a.update()
}

func (a *FrequencyAnalyser) observe(pkt *rtp.Packet) {
	a.mu.Lock()
	a.scratch = decodePCMU(pkt.Payload, a.scratch)
	samples := a.scratch
	a.mu.Unlock()
	a.Write(samples)
}

func (a *FrequencyAnalyser) update() {
	var frame [fftSize]float64
	for n := 0; n < fftSize; n++ {
		frame[n] = a.ring[(a.pos+n)%fftSize] * a.window[n]
	}

	var sum float64
	for k := 0; k < binCount; k++ {
		var re, im float64
		for n := 0; n < fftSize; n++ {
			i := (k * n) % fftSize
			re += frame[n] * a.cos[i]
			im -= frame[n] * a.sin[i]
		}
		mag := math.Hypot(re, im) / fftSize
		a.smoothed[k] = defaultSmoothing*a.smoothed[k] + (1-defaultSmoothing)*mag
		sum += toByteScale(20*math.Log10(a.smoothed[k]), defaultMinDB, defaultMaxDB)
	}
	a.level = sum / binCount
}

// toByteScale maps a decibel value onto 0..255 over [minDB, maxDB].
func toByteScale(db, minDB, maxDB float64) float64 {
	if math.IsInf(db, -1) || math.IsNaN(db) {
		return 0
	}
	v := (db - minDB) * 255 / (maxDB - minDB)
	return math.Max(0, math.Min(255, math.Floor(v)))
}

// LevelMeter reads the RFC 6464 client-to-mixer audio level extension.
type LevelMeter struct {
	extID uint8

	mu    sync.Mutex
	value float64
}

func NewLevelMeter(extID uint8) *LevelMeter {
	return &LevelMeter{extID: extID}
}

func (m *LevelMeter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return math.Floor(m.value)
}

// Observe feeds one level in -dBov (0 loudest, 127 silence).
func (m *LevelMeter) Observe(level uint8) {
	target := toByteScale(-float64(level), meterMinDB, meterMaxDB)
	m.mu.Lock()
	m.value = defaultSmoothing*m.value + (1-defaultSmoothing)*target
	m.mu.Unlock()
}

func (m *LevelMeter) observe(pkt *rtp.Packet) {
	raw := pkt.GetExtension(m.extID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	m.Observe(ext.Level)
}
