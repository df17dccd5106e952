package media

import (
	"math"

	"github.com/zaf/g711"
)

// pcmuDepacketizer treats every PCMU packet as a complete sample.
type pcmuDepacketizer struct{}

func (pcmuDepacketizer) Unmarshal(payload []byte) ([]byte, error) {
	return payload, nil
}

func (pcmuDepacketizer) IsPartitionHead([]byte) bool { return true }

func (pcmuDepacketizer) IsPartitionTail(bool, []byte) bool { return true }

// EncodeULaw appends the mu-law encoding of pcm (in -1..1) to dst.
func EncodeULaw(dst []byte, pcm []float32) []byte {
	for _, v := range pcm {
		dst = append(dst, g711.EncodeUlawFrame(floatToInt16(v)))
	}
	return dst
}

// DecodeULaw appends the samples encoded in data to dst.
func DecodeULaw(dst []float32, data []byte) []float32 {
	for _, b := range data {
		dst = append(dst, float32(g711.DecodeUlawFrame(b))/32768)
	}
	return dst
}

func floatToInt16(v float32) int16 {
	f := math.Round(float64(v) * 32767)
	switch {
	case f > math.MaxInt16:
		return math.MaxInt16
	case f < math.MinInt16:
		return math.MinInt16
	}
	return int16(f)
}
