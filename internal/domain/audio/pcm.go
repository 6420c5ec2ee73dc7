package audio

import (
	"encoding/binary"
	"math"
)

const pcmScale = 32768.0

// DecodePCM16 converts little-endian signed 16-bit mono PCM to samples in
// [-1, 1). A trailing odd byte is ignored.
func DecodePCM16(raw []byte) []float32 {
	n := len(raw) / 2
	if n == 0 {
		return nil
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / pcmScale
	}
	return out
}

// EncodePCM16 is the inverse of DecodePCM16, clamping to the int16 range.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * pcmScale)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}
