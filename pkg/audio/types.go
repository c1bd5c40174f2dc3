package audio

import "time"

// RelayRate is the fixed sample rate of the upstream speech session and of
// the browser wire format: 24 kHz mono PCM16.
const RelayRate = 24000

// AudioFrame represents a single frame of audio data flowing through the relay.
// Frames are the atomic unit of audio transport — decoded from the browser leg,
// resampled, forwarded upstream, and queued for client playback on the way back.
type AudioFrame struct {
	// PCM audio data, little-endian int16 mono samples.
	Data []byte

	// SampleRate in Hz (e.g., 24000 for the relay wire format).
	SampleRate int

	// Timestamp marks when this frame was received, relative to session start.
	Timestamp time.Duration
}

// Samples returns the number of int16 samples in the frame.
func (f AudioFrame) Samples() int { return len(f.Data) / 2 }
