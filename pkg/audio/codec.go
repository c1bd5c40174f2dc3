// Package audio provides the PCM16 primitives shared by both legs of the
// voice relay: linear-interpolation resampling to the fixed 24 kHz wire rate
// and the base64 codec used on the browser leg.
//
// The browser leg carries audio as base64-encoded little-endian PCM16 inside
// JSON text frames; the upstream leg carries raw PCM16 byte slices. The codec
// here is the single place where base64 is applied or removed — the upstream
// provider's own wire encoding is handled inside its package and never leaks
// into the relay.
package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedAudio is returned by [Decode] when the wire payload is not valid
// base64 or decodes to a byte length that is not a multiple of the 2-byte
// PCM16 sample size. Callers should drop the offending message and continue.
var ErrMalformedAudio = errors.New("malformed audio payload")

// Encode converts raw little-endian PCM16 bytes to the base64 wire form used
// on the browser leg. Encoding never fails and is exact: Decode(Encode(x)) == x
// for every even-length input.
func Encode(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// Decode converts a base64 wire string back to raw PCM16 bytes. It returns an
// error wrapping [ErrMalformedAudio] when the input is not valid base64 or the
// decoded length is odd.
func Decode(wire string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrMalformedAudio, len(pcm))
	}
	return pcm, nil
}
