package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	DefaultFFTSize   = 256
	DefaultSmoothing = 0.8

	// LevelFloorDB and CeilingDB bound the level meter analyser.
	LevelFloorDB = -90.0
	CeilingDB    = -10.0
)

// Analyser is a pass-through tap that keeps the most recent fftSize samples
// and reports their spectrum as bytes, scaled between a dB floor and
// ceiling. Bins below the floor read 0; bins above the ceiling read 255.
type Analyser struct {
	mu        sync.Mutex
	size      int
	window    []float64
	ring      []float32
	pos       int
	smoothing float64
	minDB     float64
	maxDB     float64
	smoothed  []float64
	fft       *fourier.FFT
	seq       []float64
	coeff     []complex128
	bytes     []byte
}

func NewAnalyser(fftSize int, minDB, maxDB float64) *Analyser {
	if !isPowerOfTwo(fftSize) {
		fftSize = DefaultFFTSize
	}
	return &Analyser{
		size:      fftSize,
		window:    blackman(fftSize),
		ring:      make([]float32, fftSize),
		smoothing: DefaultSmoothing,
		minDB:     minDB,
		maxDB:     maxDB,
		smoothed:  make([]float64, fftSize/2),
		fft:       fourier.NewFFT(fftSize),
		seq:       make([]float64, fftSize),
		coeff:     make([]complex128, fftSize/2+1),
		bytes:     make([]byte, fftSize/2),
	}
}

// Process records samples; buf is not modified.
func (a *Analyser) Process(buf []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range buf {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

// SetRange changes the dB floor and ceiling used for byte scaling.
func (a *Analyser) SetRange(minDB, maxDB float64) {
	a.mu.Lock()
	a.minDB, a.maxDB = minDB, maxDB
	a.mu.Unlock()
}

func (a *Analyser) SetSmoothing(tc float64) {
	a.mu.Lock()
	a.smoothing = math.Max(0, math.Min(1, tc))
	a.mu.Unlock()
}

// ByteFrequencyData computes the current spectrum. The returned slice is
// reused by the next call.
func (a *Analyser) ByteFrequencyData() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i < a.size; i++ {
		a.seq[i] = float64(a.ring[(a.pos+i)%a.size]) * a.window[i]
	}
	a.coeff = a.fft.Coefficients(a.coeff, a.seq)

	span := a.maxDB - a.minDB
	n := float64(a.size)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeff[k]) / n
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag

		db := 20 * math.Log10(a.smoothed[k])
		v := 255 / span * (db - a.minDB)
		switch {
		case math.IsNaN(v) || v < 0:
			a.bytes[k] = 0
		case v > 255:
			a.bytes[k] = 255
		default:
			a.bytes[k] = byte(v)
		}
	}
	return a.bytes
}

// Peak returns the loudest bin normalised to 0..1.
func (a *Analyser) Peak() float64 {
	var max byte
	for _, b := range a.ByteFrequencyData() {
		if b > max {
			max = b
		}
	}
	return float64(max) / 255
}

// blackman returns the window used by browser analysers (alpha 0.16).
func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}
