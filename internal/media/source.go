package media

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"github.com/vandervillain/rando/internal/audio"
)

// PCMReader reads raw signed 16-bit little-endian mono PCM at 8 kHz.
type PCMReader struct {
	r   io.Reader
	buf []byte
}

func NewPCMReader(r io.Reader) *PCMReader {
	return &PCMReader{r: r}
}

func (p *PCMReader) ReadFrame(dst []float32) (int, error) {
	need := len(dst) * 2
	if cap(p.buf) < need {
		p.buf = make([]byte, need)
	}
	buf := p.buf[:need]
	n, err := io.ReadFull(p.r, buf)
	samples := n / 2
	for i := 0; i < samples; i++ {
		dst[i] = float32(int16(binary.LittleEndian.Uint16(buf[2*i:]))) / 32768
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return samples, err
}

func (p *PCMReader) Close() error {
	if c, ok := p.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Tone generates a sine wave.
type Tone struct {
	Freq  float64
	Amp   float64
	phase float64
}

func (t *Tone) ReadFrame(dst []float32) (int, error) {
	step := 2 * math.Pi * t.Freq / audio.SampleRate
	for i := range dst {
		dst[i] = float32(t.Amp * math.Sin(t.phase))
		t.phase = math.Mod(t.phase+step, 2*math.Pi)
	}
	return len(dst), nil
}

// Silence produces zero frames.
type Silence struct{}

func (Silence) ReadFrame(dst []float32) (int, error) {
	clear(dst)
	return len(dst), nil
}

// Paced releases frames from src no faster than real time, the way a
// capture device would.
type Paced struct {
	src    audio.Source
	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

func NewPaced(src audio.Source) *Paced {
	return &Paced{
		src:    src,
		ticker: time.NewTicker(time.Second * audio.FrameSize / audio.SampleRate),
		stop:   make(chan struct{}),
	}
}

func (p *Paced) ReadFrame(dst []float32) (int, error) {
	select {
	case <-p.stop:
		return 0, io.EOF
	case <-p.ticker.C:
	}
	return p.src.ReadFrame(dst)
}

func (p *Paced) Close() error {
	var err error
	p.once.Do(func() {
		close(p.stop)
		p.ticker.Stop()
		if c, ok := p.src.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
