package media

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"

	"github.com/vandervillain/rando/internal/audio"
)

// Codec is the only codec negotiated for voice.
var Codec = webrtc.RTPCodecCapability{
	MimeType:  webrtc.MimeTypePCMU,
	ClockRate: audio.SampleRate,
	Channels:  1,
}

// PayloadType is the static RTP payload type of PCMU.
const PayloadType = 0

// maxLate is how many packets a gap may hold back playout before the
// missing packet is given up on.
const maxLate = 10

// RTPReader is satisfied by *webrtc.TrackRemote.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// TrackSource decodes a remote PCMU track into PCM frames. Packets are
// put back in sequence order before decoding.
type TrackSource struct {
	r       RTPReader
	sb      *samplebuilder.SampleBuilder
	pending []float32
	err     error
	closed  atomic.Bool
}

func NewTrackSource(r RTPReader) *TrackSource {
	return &TrackSource{
		r:  r,
		sb: samplebuilder.New(maxLate, pcmuDepacketizer{}, audio.SampleRate),
	}
}

func (t *TrackSource) ReadFrame(dst []float32) (int, error) {
	for len(t.pending) < len(dst) && t.err == nil && !t.closed.Load() {
		if s := t.sb.Pop(); s != nil {
			t.pending = DecodeULaw(t.pending, s.Data)
			continue
		}
		pkt, _, err := t.r.ReadRTP()
		if err != nil {
			t.err = err
			t.sb.Flush()
			for s := t.sb.Pop(); s != nil; s = t.sb.Pop() {
				t.pending = DecodeULaw(t.pending, s.Data)
			}
			break
		}
		t.sb.Push(pkt)
	}
	n := copy(dst, t.pending)
	t.pending = append(t.pending[:0], t.pending[n:]...)
	switch {
	case t.closed.Load() && n == 0:
		return 0, errClosed
	case t.err != nil && len(t.pending) == 0:
		return n, t.err
	}
	return n, nil
}

// Close stops decoding. The remote track itself ends when its peer
// connection closes.
func (t *TrackSource) Close() error {
	t.closed.Store(true)
	return nil
}

// LocalTrack is the outbound voice track shared by every peer connection.
type LocalTrack struct {
	track *webrtc.TrackLocalStaticSample
	mu    sync.Mutex
	buf   []byte
}

func NewLocalTrack(streamID string) (*LocalTrack, error) {
	track, err := webrtc.NewTrackLocalStaticSample(Codec, "voice", streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{track: track}, nil
}

func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

// WriteFrame encodes one processed frame and sends it to every bound peer.
func (t *LocalTrack) WriteFrame(frame []float32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = EncodeULaw(t.buf[:0], frame)
	return t.track.WriteSample(pionmedia.Sample{
		Data:     t.buf,
		Duration: time.Duration(len(frame)) * time.Second / audio.SampleRate,
	})
}
