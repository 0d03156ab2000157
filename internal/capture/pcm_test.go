package capture

import "testing"

func TestPCM16SampleMapping(t *testing.T) {
	tests := []struct {
		in   float32
		want int16
	}{
		{0, 0},
		{1, 32767},
		{-1, -32768},
		{2.5, 32767},
		{-3, -32768},
		{0.5, 16383},
		{-0.5, -16384},
		{1.0 / 32767.0, 1},
		{-1.0 / 32768.0, -1},
	}
	for _, tt := range tests {
		if got := PCM16Sample(tt.in); got != tt.want {
			t.Errorf("PCM16Sample(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEncodePCM16LittleEndian(t *testing.T) {
	out := EncodePCM16([]float32{0, 1, -1})
	want := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80}
	if len(out) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(out))
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, out[i], want[i])
		}
	}
}
