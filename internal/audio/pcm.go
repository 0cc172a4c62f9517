package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// BytesPerSample is the width of one little-endian float32 sample.
const BytesPerSample = 4

// ErrMisalignedFrame is returned for payloads that do not hold a whole number
// of samples.
var ErrMisalignedFrame = errors.New("audio: frame length is not a multiple of 4 bytes")

// DecodeFloat32LE converts raw little-endian IEEE-754 float32 PCM into
// samples. Misaligned payloads are rejected whole.
func DecodeFloat32LE(payload []byte) ([]float32, error) {
	if len(payload)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrMisalignedFrame, len(payload))
	}
	samples := make([]float32, len(payload)/BytesPerSample)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*BytesPerSample:]))
	}
	return samples, nil
}

// EncodeFloat32LE is the inverse of DecodeFloat32LE.
func EncodeFloat32LE(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*BytesPerSample:], math.Float32bits(s))
	}
	return out
}
