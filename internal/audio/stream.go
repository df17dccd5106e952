package audio

import (
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	SampleRate = 8000
	// FrameSize is 20 ms of mono audio.
	FrameSize = SampleRate / 50
)

// Source yields mono PCM frames in -1..1.
type Source interface {
	ReadFrame(buf []float32) (int, error)
}

// Sink receives processed frames.
type Sink interface {
	WriteFrame(buf []float32) error
}

// StreamOptions configure a Stream. Source and Sink are required.
type StreamOptions struct {
	ID        string
	Index     int
	Source    Source
	Sink      Sink
	MaxGain   float64
	Gain      float64
	Threshold float64
	// Gate defaults to a NoiseGate with GateHold.
	Gate    Gate
	Poller  *Poller
	FFTSize int
	Now     func() time.Time
}

// Stream is the per-peer audio chain:
//
//	source -> gain -> level analyser -> threshold analyser -> mute gate -> sink
//
// The analysers are observed on the shared poller; the gate decides whether
// frames reach the sink.
type Stream struct {
	ID    string
	Index int

	src     Source
	sink    Sink
	maxGain float64
	poller  *Poller
	now     func() time.Time

	level     *Analyser
	threshold *Analyser

	mu           sync.Mutex
	gate         Gate
	gainPct      float64
	thresholdPct float64
	gain         float64

	enabled  atomic.Bool
	open     atomic.Bool
	levelBit atomic.Uint64

	// writeMu is held across each sink write and while stop is closed.
	writeMu  sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewStream builds the chain and starts pumping frames from the source.
func NewStream(opts StreamOptions) *Stream {
	if opts.Gate == nil {
		opts.Gate = NewNoiseGate(GateHold)
	}
	if opts.Poller == nil {
		opts.Poller = NewPoller(PollInterval)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FFTSize == 0 {
		opts.FFTSize = DefaultFFTSize
	}

	s := &Stream{
		ID:        opts.ID,
		Index:     opts.Index,
		src:       opts.Source,
		sink:      opts.Sink,
		maxGain:   opts.MaxGain,
		poller:    opts.Poller,
		now:       opts.Now,
		gate:      opts.Gate,
		level:     NewAnalyser(opts.FFTSize, LevelFloorDB, CeilingDB),
		threshold: NewAnalyser(opts.FFTSize, ThresholdDB(opts.Threshold), CeilingDB),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	s.enabled.Store(true)
	s.open.Store(s.gate.Update(false, s.now()))
	s.SetGain(opts.Gain)
	s.SetThreshold(opts.Threshold)

	s.poller.Subscribe(s.pollKey(), s.Observe)
	go s.pump()
	return s
}

func (s *Stream) pollKey() string { return "stream:" + s.ID }

func (s *Stream) pump() {
	defer close(s.done)
	buf := make([]float32, FrameSize)
	for {
		n, err := s.src.ReadFrame(buf)
		if n > 0 && !s.deliver(buf[:n]) {
			return
		}
		if err != nil {
			if err != io.EOF {
				log.Debug().Err(err).Str("peer_id", s.ID).Msg("stream source ended")
			}
			return
		}
	}
}

// deliver processes buf and writes it to the sink unless the stream has
// been torn down.
func (s *Stream) deliver(buf []float32) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.stop:
		return false
	default:
	}
	s.Process(buf)
	if err := s.sink.WriteFrame(buf); err != nil {
		log.Debug().Err(err).Str("peer_id", s.ID).Msg("sink write failed")
	}
	return true
}

// Process runs one frame through the chain in place.
func (s *Stream) Process(buf []float32) {
	if !s.enabled.Load() {
		clear(buf)
	}

	s.mu.Lock()
	g := float32(s.gain)
	s.mu.Unlock()
	for i := range buf {
		buf[i] *= g
	}

	s.level.Process(buf)
	s.threshold.Process(buf)

	if !s.open.Load() {
		clear(buf)
	}
}

// Observe samples both analysers and updates the gate. The poller calls it
// every PollInterval.
func (s *Stream) Observe(now time.Time) {
	select {
	case <-s.stop:
		return
	default:
	}
	level := s.level.Peak()
	active := s.threshold.Peak() > 0

	s.mu.Lock()
	open := s.gate.Update(active, now)
	s.mu.Unlock()

	s.open.Store(open)
	s.levelBit.Store(math.Float64bits(level))
}

// SetGain sets the 0..1 gain control.
func (s *Stream) SetGain(percent float64) {
	s.mu.Lock()
	s.gainPct = clamp01(percent)
	s.gain = Gain(s.gainPct, s.maxGain)
	s.mu.Unlock()
}

func (s *Stream) GainPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gainPct
}

// SetThreshold sets the 0..1 noise gate threshold.
func (s *Stream) SetThreshold(percent float64) {
	s.mu.Lock()
	s.thresholdPct = clamp01(percent)
	floor := ThresholdDB(s.thresholdPct)
	s.mu.Unlock()
	s.threshold.SetRange(floor, CeilingDB)
}

func (s *Stream) ThresholdPercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thresholdPct
}

// SetEnabled hard-mutes the stream at its source.
func (s *Stream) SetEnabled(on bool) { s.enabled.Store(on) }
func (s *Stream) Enabled() bool      { return s.enabled.Load() }

// Level is the last observed level meter reading in 0..1.
func (s *Stream) Level() float64 { return math.Float64frombits(s.levelBit.Load()) }

// Speaking reports whether the gate is open.
func (s *Stream) Speaking() bool { return s.open.Load() }

// Teardown stops the pump, unsubscribes from the poller and closes the
// source when it is closable. Calling it more than once is harmless.
func (s *Stream) Teardown() {
	s.stopOnce.Do(func() {
		s.writeMu.Lock()
		close(s.stop)
		s.writeMu.Unlock()
		s.poller.Unsubscribe(s.pollKey())
		if c, ok := s.src.(io.Closer); ok {
			if err := c.Close(); err != nil {
				log.Debug().Err(err).Str("peer_id", s.ID).Msg("close stream source")
			}
		}
		s.open.Store(false)
		s.levelBit.Store(0)
	})
}

// Done is closed when the pump has exited.
func (s *Stream) Done() <-chan struct{} { return s.done }
