package media

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vandervillain/rando/internal/audio"
)

var errClosed = errors.New("media: closed")

// slotDepth bounds how far a slot may run ahead of the mixer.
const slotDepth = 8

// Slot is one playback surface. Stream i writes to slot i.
type Slot struct {
	frames chan []float32
}

// WriteFrame queues a copy of frame; the oldest frame is dropped when the
// slot is full.
func (s *Slot) WriteFrame(frame []float32) error {
	cp := append([]float32(nil), frame...)
	for {
		select {
		case s.frames <- cp:
			return nil
		default:
		}
		select {
		case <-s.frames:
		default:
		}
	}
}

func (s *Slot) next() []float32 {
	select {
	case f := <-s.frames:
		return f
	default:
		return nil
	}
}

// Mixer sums a fixed set of slots into s16le PCM every frame period.
type Mixer struct {
	slots []*Slot
	out   io.Writer
	buf   []byte
	acc   []float32
}

func NewMixer(slots int, out io.Writer) *Mixer {
	m := &Mixer{
		slots: make([]*Slot, slots),
		out:   out,
		buf:   make([]byte, audio.FrameSize*2),
		acc:   make([]float32, audio.FrameSize),
	}
	for i := range m.slots {
		m.slots[i] = &Slot{frames: make(chan []float32, slotDepth)}
	}
	return m
}

// Slot returns playback surface i.
func (m *Mixer) Slot(i int) *Slot {
	if i < 0 || i >= len(m.slots) {
		panic(fmt.Sprintf("media: slot %d out of range [0,%d)", i, len(m.slots)))
	}
	return m.slots[i]
}

func (m *Mixer) Len() int { return len(m.slots) }

// Run mixes until ctx is done.
func (m *Mixer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second * audio.FrameSize / audio.SampleRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.MixOnce(); err != nil {
				log.Warn().Err(err).Msg("playback output failed, stopping mixer")
				return
			}
		}
	}
}

// MixOnce takes at most one frame from every slot and writes their clipped
// sum. Idle slots contribute silence.
func (m *Mixer) MixOnce() error {
	clear(m.acc)
	for _, s := range m.slots {
		f := s.next()
		for i := 0; i < len(f) && i < len(m.acc); i++ {
			m.acc[i] += f[i]
		}
	}
	for i, v := range m.acc {
		binary.LittleEndian.PutUint16(m.buf[2*i:], uint16(floatToInt16(v)))
	}
	_, err := m.out.Write(m.buf)
	return err
}

// LocalSink fans the processed microphone out to the network and, while
// monitoring is on, to a playback slot.
type LocalSink struct {
	Track   audio.Sink
	Monitor *Slot

	monitoring atomic.Bool
}

func (l *LocalSink) SetMonitoring(on bool) { l.monitoring.Store(on) }
func (l *LocalSink) Monitoring() bool      { return l.monitoring.Load() }

func (l *LocalSink) WriteFrame(frame []float32) error {
	var err error
	if l.Track != nil {
		err = l.Track.WriteFrame(frame)
	}
	if l.Monitor != nil && l.monitoring.Load() {
		l.Monitor.WriteFrame(frame)
	}
	return err
}
