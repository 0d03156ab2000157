package capture

import "encoding/binary"

// PCM16Sample converts one normalized sample to a signed 16-bit value.
// The input is clamped to [-1, 1]; negative values scale by 32768 and
// non-negative values by 32767 so both ends of the signed range are
// reachable without overflow. This mapping is wire-compatible with the
// browser capture path and must not change.
func PCM16Sample(sample float32) int16 {
	if sample < -1 {
		sample = -1
	} else if sample > 1 {
		sample = 1
	}
	if sample < 0 {
		return int16(sample * 32768)
	}
	return int16(sample * 32767)
}

// EncodePCM16 converts a block of normalized samples to little-endian
// 16-bit PCM bytes.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(PCM16Sample(s)))
	}
	return out
}
