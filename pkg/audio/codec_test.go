package audio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/pkg/audio"
)

func TestCodec_RoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00, 0x00},
		{0xFF, 0x7F, 0x00, 0x80}, // max positive, max negative
		samplesToBytes([]int16{-32768, -1, 0, 1, 32767}),
	}
	for _, pcm := range cases {
		wire := audio.Encode(pcm)
		got, err := audio.Decode(wire)
		if err != nil {
			t.Fatalf("Decode(%q): %v", wire, err)
		}
		if !bytes.Equal(got, pcm) {
			t.Errorf("round-trip mismatch: got %v, want %v", got, pcm)
		}
	}
}

func TestDecode_InvalidBase64(t *testing.T) {
	_, err := audio.Decode("not base64!!!")
	if !errors.Is(err, audio.ErrMalformedAudio) {
		t.Fatalf("err = %v, want ErrMalformedAudio", err)
	}
}

func TestDecode_OddByteLength(t *testing.T) {
	// "AAA=" decodes to 2 bytes; "AA==" decodes to 1 byte (odd).
	_, err := audio.Decode("AA==")
	if !errors.Is(err, audio.ErrMalformedAudio) {
		t.Fatalf("err = %v, want ErrMalformedAudio", err)
	}
}

func TestDecode_Empty(t *testing.T) {
	got, err := audio.Decode("")
	if err != nil {
		t.Fatalf("Decode(\"\"): %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(got))
	}
}
